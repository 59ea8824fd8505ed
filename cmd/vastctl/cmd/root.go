// Package cmd builds the vastctl command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vastctl/vastctl/internal/config"
	"github.com/vastctl/vastctl/internal/logging"
	"github.com/vastctl/vastctl/internal/metrics"
	"github.com/vastctl/vastctl/pkg/vast"
)

// Version is stamped at build time with -ldflags "-X .../cmd.Version=v1.2.3"
var Version = "dev"

// app holds what one invocation shares between its commands
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Recorder
	client     *vast.Client

	// overridable in tests
	httpClient *http.Client
	now        func() time.Time
	executable func() (string, error)
}

// Option adjusts the tree built by NewRootCmd
type Option func(*app)

// WithHTTPClient makes the SDK client use c
func WithHTTPClient(c *http.Client) Option {
	return func(a *app) {
		a.httpClient = c
	}
}

// WithClock fixes the time seen by commands
func WithClock(now func() time.Time) Option {
	return func(a *app) {
		a.now = now
	}
}

// NewRootCmd builds a fresh command tree
func NewRootCmd(opts ...Option) *cobra.Command {
	a := &app{
		metrics:    metrics.New(),
		now:        time.Now,
		executable: os.Executable,
	}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "vastctl",
		Short: "Rent and manage GPUs on the marketplace",
		Long: `vastctl searches GPU offers, rents and manages instances, and
administers hosted machines, billing, teams, templates and serverless
endpoints from the command line.

Pass --raw to any command for JSON output suitable for scripts.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	pf := root.PersistentFlags()
	pf.Bool("raw", false, "Output machine-readable JSON")
	pf.String("api-key", "", "API key (default: $VAST_API_KEY or the saved key file)")
	pf.String("url", vast.DefaultBaseURL, "Server REST API URL")
	pf.Int("retry", vast.DefaultRetries, "Retries on transient failures")
	pf.Duration("timeout", vast.DefaultTimeout, "Per-request timeout")
	pf.Bool("explain", false, "Log each API request to stderr")
	pf.StringVar(&a.configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/vastai/config.yaml)")
	pf.String("metrics-file", "", "Write request and self-test metrics to this Prometheus textfile")
	pf.String("log-format", "text", "Log format: text or json")

	buildTree(root, a)
	return root
}

// Execute runs the CLI with args and returns the first error. Printing it
// is left to the caller.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...Option) error {
	root := NewRootCmd(opts...)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// load reads configuration once flags are parsed
func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := cfg.Logging.Level
	if explain, _ := cmd.Flags().GetBool("explain"); explain {
		level = "debug"
	}
	a.logger = logging.Setup(logging.Config{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	a.cfg = cfg
	return nil
}

// sdk returns the API client, building it on first use
func (a *app) sdk() *vast.Client {
	if a.client != nil {
		return a.client
	}
	var opts []vast.ClientOption
	if a.httpClient != nil {
		opts = append(opts, vast.WithHTTPClient(a.httpClient))
	}
	opts = append(opts,
		vast.WithBaseURL(a.cfg.URL),
		vast.WithTimeout(a.cfg.Timeout),
		vast.WithRetries(a.cfg.Retries),
		vast.WithMinInterval(a.cfg.MinInterval),
		vast.WithLogger(a.logger),
		vast.WithObserver(a.metrics.ObserveRequest),
	)
	a.client = vast.NewClient(a.cfg.APIKey, opts...)
	return a.client
}

func (a *app) newRunContext(cmd *cobra.Command, path string) (*runContext, error) {
	if a.cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	raw, _ := cmd.Flags().GetBool("raw")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithCommand(ctx, path)
	ctx = logging.WithRequestID(ctx, uuid.NewString())

	return &runContext{
		ctx:    ctx,
		app:    a,
		flags:  cmd.Flags(),
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		raw:    raw,
	}, nil
}

// finish writes the metrics textfile when one is configured. A handler
// error takes precedence over a metrics error.
func (a *app) finish(err error) error {
	if a.cfg == nil || a.cfg.MetricsFile == "" {
		return err
	}
	if werr := a.metrics.WriteTextfile(a.cfg.MetricsFile); werr != nil {
		if err != nil {
			return err
		}
		return fmt.Errorf("failed to write metrics file: %w", werr)
	}
	return err
}
