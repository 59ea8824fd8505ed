package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/internal/selftest"
	"github.com/vastctl/vastctl/internal/ssh"
	"github.com/vastctl/vastctl/internal/storage"
	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		command{
			verb:  "self-test",
			noun:  "machine",
			use:   "<machine_id> [machine_id...]",
			short: "Rent each machine, check it and destroy the instance",
			long: `For each machine, one at a time: rent its cheapest offer with the test
image, wait for the instance to run, optionally ssh in to check the GPUs
and disk, then destroy the instance. The instance is destroyed even when
the test fails or is interrupted.

Results are printed and, with --history or selftest.history_path, stored
in a sqlite database that 'self-test history' reads.`,
			example: `  vastctl self-test machine 101 102 --inspect --identity ~/.ssh/id_ed25519
  vastctl self-test machine 101 --history ~/.local/share/vastctl/selftest.db --metrics-file /var/lib/node_exporter/vastctl.prom`,
			args: cobra.MinimumNArgs(1),
			flags: func(fs *pflag.FlagSet) {
				fs.String("image", "", "Test image (default: selftest.image)")
				fs.Float64("disk", 0, "Disk GB to request (default: selftest.disk)")
				fs.Duration("ready-timeout", 0, "How long to wait for running (default: selftest.ready_timeout)")
				fs.Duration("ssh-timeout", selftest.DefaultSSHTimeout, "How long to wait for sshd once running")
				fs.Duration("poll", 0, "Status poll interval (default: selftest.poll_interval)")
				fs.Bool("inspect", false, "SSH in and check GPUs and disk")
				fs.StringP("identity", "i", "", "Private key for the GPU inspection (default: ssh.identity_file)")
				fs.String("history", "", "Store results in this sqlite database")
			},
			run: runSelfTest,
		},
		command{
			verb:    "self-test",
			noun:    "history",
			short:   "Show stored self-test results",
			example: "  vastctl self-test history --machine 101 --failed\n  vastctl self-test history --summary",
			flags: func(fs *pflag.FlagSet) {
				fs.String("history", "", "sqlite database (default: selftest.history_path)")
				fs.Int("machine", 0, "Only this machine")
				fs.String("run", "", "Only this run ID")
				fs.Bool("failed", false, "Only failed tests")
				fs.String("since", "", "Only tests started after this date, YYYY-MM-DD")
				fs.Int("limit", 50, "Maximum rows, 0 for all")
				fs.Bool("summary", false, "Pass rates per machine instead of individual results")
				fs.Duration("prune", 0, "Delete results older than this first, e.g. 2160h")
			},
			run: runSelfTestHistory,
		},
	)
}

func runSelfTest(rc *runContext, args []string) error {
	ids, err := parseIDs(args, "machine id")
	if err != nil {
		return err
	}
	cfg := rc.app.cfg.SelfTest

	image := cfg.Image
	if rc.changed("image") {
		image = rc.str("image")
	}
	disk := cfg.Disk
	if rc.changed("disk") {
		disk = rc.float("disk")
	}
	ready := cfg.ReadyTimeout
	if d, _ := rc.flags.GetDuration("ready-timeout"); d > 0 {
		ready = d
	}
	poll := cfg.PollInterval
	if d, _ := rc.flags.GetDuration("poll"); d > 0 {
		poll = d
	}
	sshWait, _ := rc.flags.GetDuration("ssh-timeout")

	opts := []selftest.Option{
		selftest.WithLogger(rc.app.logger),
		selftest.WithMetrics(rc.app.metrics),
		selftest.WithImage(image),
		selftest.WithDisk(disk),
		selftest.WithSSHUser(rc.app.cfg.SSH.User),
		selftest.WithTimeouts(ready, sshWait),
		selftest.WithPollInterval(poll),
	}

	if rc.boolean("inspect") {
		dialer, err := inspectDialer(rc)
		if err != nil {
			return err
		}
		opts = append(opts, selftest.WithInspector(dialer))
	}

	store, closeStore, err := openHistory(rc, false)
	if err != nil {
		return err
	}
	if store != nil {
		defer closeStore()
		opts = append(opts, selftest.WithStore(store))
	}

	results, runErr := selftest.New(rc.client(), opts...).Run(rc.ctx, ids)

	rows := make([]vast.Record, 0, len(results))
	failed := 0
	for _, r := range results {
		rows = append(rows, r.Record())
		if !r.Passed {
			failed++
		}
	}
	if err := rc.render(rows, selfTestColumns); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d machines failed the self-test", failed, len(results))
	}
	return nil
}

func inspectDialer(rc *runContext) (*ssh.Dialer, error) {
	identity := rc.app.cfg.SSH.IdentityFile
	if rc.changed("identity") {
		identity = rc.str("identity")
	}
	opts := []ssh.Option{ssh.WithConnectTimeout(rc.app.cfg.SSH.ConnectTimeout)}
	if identity != "" {
		auth, err := ssh.AuthMethods(identity)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ssh.WithAuth(auth...))
	}
	return ssh.NewDialer(opts...), nil
}

// openHistory opens the results database named by --history or config.
// With required false and no path configured it returns a nil store.
func openHistory(rc *runContext, required bool) (*storage.SelfTestStore, func(), error) {
	path := rc.app.cfg.SelfTest.HistoryPath
	if rc.changed("history") {
		path = rc.str("history")
	}
	if path == "" {
		if required {
			return nil, nil, &vast.ValidationError{Field: "history", Message: "no database given; pass --history or set selftest.history_path"}
		}
		return nil, func() {}, nil
	}
	db, err := storage.Open(rc.ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewSelfTestStore(db), func() {
		if err := db.Close(); err != nil {
			rc.app.logger.Warn("closing self-test history", "error", err)
		}
	}, nil
}

func runSelfTestHistory(rc *runContext, _ []string) error {
	store, closeStore, err := openHistory(rc, true)
	if err != nil {
		return err
	}
	defer closeStore()

	if keep, _ := rc.flags.GetDuration("prune"); keep > 0 {
		n, err := store.Prune(rc.ctx, rc.app.now().Add(-keep))
		if err != nil {
			return err
		}
		rc.app.logger.Info("pruned self-test history", "deleted", n)
	}

	if rc.boolean("summary") {
		sums, err := store.Summaries(rc.ctx)
		if err != nil {
			return err
		}
		rows := make([]vast.Record, 0, len(sums))
		for _, s := range sums {
			rows = append(rows, vast.Record{
				"machine_id":  s.MachineID,
				"runs":        s.Runs,
				"passed":      s.Passed,
				"pass_rate":   s.PassRate(),
				"last_run":    float64(s.LastRun.Unix()),
				"last_passed": s.LastPassed,
			})
		}
		return rc.render(rows, selfTestSummaryColumns)
	}

	since, err := parseDate(rc.str("since"), "since")
	if err != nil {
		return err
	}
	recs, err := store.History(rc.ctx, storage.SelfTestFilter{
		MachineID:  rc.integer("machine"),
		RunID:      rc.str("run"),
		FailedOnly: rc.boolean("failed"),
		Since:      since,
		Limit:      rc.integer("limit"),
	})
	if err != nil {
		return err
	}
	rows := make([]vast.Record, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, vast.Record{
			"id":          r.ID,
			"run_id":      r.RunID,
			"machine_id":  r.MachineID,
			"offer_id":    r.OfferID,
			"instance_id": r.InstanceID,
			"gpu_name":    r.GPUName,
			"passed":      r.Passed,
			"reason":      r.Reason,
			"duration":    r.Duration.String(),
			"started_at":  float64(r.StartedAt.Unix()),
		})
	}
	return rc.render(rows, selfTestHistoryColumns)
}
