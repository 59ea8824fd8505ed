// Command mockvast serves an in-memory marketplace for trying vastctl
// without an account:
//
//	mockvast --addr :8888 &
//	vastctl --url http://localhost:8888 --api-key mock-api-key search offers
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/internal/mockvast"
)

func main() {
	addr := pflag.String("addr", ":8888", "Server address")
	apiKey := pflag.String("api-key", mockvast.DefaultAPIKey, "Bearer token accepted by the server")
	createDelay := pflag.Duration("create-delay", 2*time.Second, "Time before new instances report running")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	state := mockvast.NewState()
	state.SetCreateDelay(*createDelay)
	server := mockvast.NewServer(state, mockvast.WithAPIKey(*apiKey), mockvast.WithLogger(logger))

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down mock marketplace")
		os.Exit(0)
	}()

	if err := server.Run(*addr); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
