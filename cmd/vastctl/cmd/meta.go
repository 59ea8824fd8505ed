package cmd

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/pflag"
	"golang.org/x/mod/semver"

	"github.com/vastctl/vastctl/internal/config"
	"github.com/vastctl/vastctl/internal/update"
	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		command{
			verb:  "version",
			short: "Print the version, optionally checking for a newer release",
			flags: func(fs *pflag.FlagSet) {
				fs.Bool("check", false, "Compare with the latest release")
			},
			run: runVersion,
		},
		command{
			verb:  "update",
			short: "Replace this executable with the latest release",
			long: `Download the latest release for this platform and replace the running
executable. Builds that are not tagged releases refuse to update unless
--force is given.`,
			flags: func(fs *pflag.FlagSet) {
				fs.Bool("force", false, "Update even from a development build or when already current")
			},
			run: runSelfUpdate,
		},
		command{
			verb:  "config",
			noun:  "show",
			short: "Print the effective configuration",
			run: func(rc *runContext, _ []string) error {
				cfg := rc.app.cfg
				rec := vast.Record{
					"api_key":                config.Redacted(cfg.APIKey),
					"api_key_source":         cfg.KeySource,
					"url":                    cfg.URL,
					"retries":                cfg.Retries,
					"timeout":                cfg.Timeout.String(),
					"min_interval":           cfg.MinInterval.String(),
					"metrics_file":           cfg.MetricsFile,
					"logging.level":          cfg.Logging.Level,
					"logging.format":         cfg.Logging.Format,
					"ssh.user":               cfg.SSH.User,
					"ssh.identity_file":      cfg.SSH.IdentityFile,
					"ssh.connect_timeout":    cfg.SSH.ConnectTimeout.String(),
					"selftest.image":         cfg.SelfTest.Image,
					"selftest.disk":          cfg.SelfTest.Disk,
					"selftest.ready_timeout": cfg.SelfTest.ReadyTimeout.String(),
					"selftest.poll_interval": cfg.SelfTest.PollInterval.String(),
					"selftest.history_path":  cfg.SelfTest.HistoryPath,
					"update.releases_url":    cfg.Update.ReleasesURL,
					"config_dir":             config.Dir(),
				}
				return rc.detail(rec, nil)
			},
		},
	)
}

func (a *app) checker() *update.Checker {
	opts := []update.Option{update.WithLogger(a.logger)}
	if a.httpClient != nil {
		opts = append(opts, update.WithHTTPClient(a.httpClient))
	}
	return update.NewChecker(a.cfg.Update.ReleasesURL, opts...)
}

func runVersion(rc *runContext, _ []string) error {
	rec := vast.Record{
		"version": Version,
		"go":      runtime.Version(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
	if rc.boolean("check") {
		st, err := rc.app.checker().Check(rc.ctx, Version)
		if err != nil {
			return fmt.Errorf("version check failed: %w", err)
		}
		rec["latest"] = st.Latest
		rec["update_available"] = st.Newer
	}
	if rc.raw {
		return rc.detail(rec, nil)
	}

	fmt.Fprintf(rc.out, "vastctl %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if latest, ok := rec["latest"]; ok {
		if rec.Bool("update_available") {
			fmt.Fprintf(rc.out, "A newer release is available: %s. Run 'vastctl update'.\n", latest)
		} else {
			fmt.Fprintf(rc.out, "Latest release: %s\n", latest)
		}
	}
	return nil
}

func runSelfUpdate(rc *runContext, _ []string) error {
	force := rc.boolean("force")
	checker := rc.app.checker()

	st, err := checker.Check(rc.ctx, Version)
	if err != nil {
		return fmt.Errorf("version check failed: %w", err)
	}
	if !st.Newer && !force {
		if !semver.IsValid(update.Canonical(Version)) {
			return fmt.Errorf("%w (%s); pass --force to install %s anyway", update.ErrDevBuild, Version, st.Latest)
		}
		return rc.done(vast.Record{"success": true, "current": Version, "latest": st.Latest}, "vastctl %s is up to date", Version)
	}
	if st.Asset == nil {
		return fmt.Errorf("%s: %w (%s)", st.Latest, update.ErrNoAsset, update.AssetName(runtime.GOOS, runtime.GOARCH))
	}

	exe, err := rc.app.executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	if err := checker.Apply(rc.ctx, st.Asset, exe); err != nil {
		if errors.Is(err, update.ErrNoAsset) {
			return err
		}
		return fmt.Errorf("update to %s failed: %w", st.Latest, err)
	}
	logAudit(rc, "self update", "from", Version, "to", st.Latest)
	return rc.done(vast.Record{"success": true, "from": Version, "to": st.Latest, "path": exe}, "updated %s to %s", exe, st.Latest)
}
