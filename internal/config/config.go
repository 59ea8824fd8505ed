package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vastctl/vastctl/pkg/vast"
)

const (
	appDir        = "vastai"
	apiKeyFile    = "vast_api_key"
	legacyKeyFile = ".vast_api_key"
	configFile    = "config.yaml"
)

// Config holds all CLI configuration
type Config struct {
	APIKey      string         `mapstructure:"api_key"`
	URL         string         `mapstructure:"url"`
	Retries     int            `mapstructure:"retries"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	MinInterval time.Duration  `mapstructure:"min_interval"`
	MetricsFile string         `mapstructure:"metrics_file"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	SSH         SSHConfig      `mapstructure:"ssh"`
	SelfTest    SelfTestConfig `mapstructure:"selftest"`
	Update      UpdateConfig   `mapstructure:"update"`

	// KeySource records where APIKey came from, for `config show`.
	KeySource string `mapstructure:"-"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// SSHConfig holds settings for direct connections to instances
type SSHConfig struct {
	User           string        `mapstructure:"user"`
	IdentityFile   string        `mapstructure:"identity_file"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SelfTestConfig holds machine self-test defaults
type SelfTestConfig struct {
	Image        string        `mapstructure:"image"`
	Disk         float64       `mapstructure:"disk"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	HistoryPath  string        `mapstructure:"history_path"`
}

// UpdateConfig points the version check at a release feed
type UpdateConfig struct {
	ReleasesURL string `mapstructure:"releases_url"`
}

// flagKeys maps persistent CLI flags onto config keys.
var flagKeys = map[string]string{
	"api-key":      "api_key",
	"url":          "url",
	"retry":        "retries",
	"timeout":      "timeout",
	"metrics-file": "metrics_file",
	"log-format":   "logging.format",
}

// Load reads configuration from defaults, the YAML file, environment
// variables and flags, in increasing order of precedence. When no API key
// is configured the key file and then the legacy key file are consulted.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(Dir(), configFile)
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		// Config file is optional unless named explicitly
		var notFound viper.ConfigFileNotFoundError
		missing := errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
		if !missing || explicit {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	switch {
	case flags != nil && flags.Changed("api-key"):
		cfg.KeySource = "flag"
	case os.Getenv("VAST_API_KEY") != "":
		cfg.KeySource = "env"
	case cfg.APIKey != "":
		cfg.KeySource = configPath
	default:
		key, path, err := ReadAPIKey()
		if err != nil {
			return nil, err
		}
		cfg.APIKey = key
		cfg.KeySource = path
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url", vast.DefaultBaseURL)
	v.SetDefault("retries", vast.DefaultRetries)
	v.SetDefault("timeout", vast.DefaultTimeout)
	v.SetDefault("min_interval", time.Duration(0))

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "text")

	v.SetDefault("ssh.user", "root")
	v.SetDefault("ssh.connect_timeout", 30*time.Second)

	v.SetDefault("selftest.image", "vastai/test:selftest")
	v.SetDefault("selftest.disk", 20.0)
	v.SetDefault("selftest.ready_timeout", 10*time.Minute)
	v.SetDefault("selftest.poll_interval", 10*time.Second)

	v.SetDefault("update.releases_url", "https://api.github.com/repos/vastctl/vastctl/releases/latest")
}

func bindEnvVars(v *viper.Viper) {
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	bindEnv("api_key", "VAST_API_KEY")
	bindEnv("url", "VAST_URL")
	bindEnv("retries", "VAST_RETRY")
	bindEnv("timeout", "VAST_TIMEOUT")
	bindEnv("ssh.identity_file", "VAST_SSH_IDENTITY")
	bindEnv("selftest.history_path", "VAST_SELFTEST_DB")

	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url %q: expected scheme://host", c.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", c.URL)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", c.Retries)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

// Dir returns the per-user config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appDir
	}
	return filepath.Join(home, ".config", appDir)
}

// KeyPath is where `set api-key` stores the key.
func KeyPath() string {
	return filepath.Join(Dir(), apiKeyFile)
}

// LegacyKeyPath is the pre-XDG key location, read only as a fallback.
func LegacyKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, legacyKeyFile)
}

// ReadAPIKey returns the stored key and the file it came from. A missing
// file is not an error; both results are empty.
func ReadAPIKey() (string, string, error) {
	for _, path := range []string{KeyPath(), LegacyKeyPath()} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to read api key file: %w", err)
		}
		return strings.TrimSpace(string(data)), path, nil
	}
	return "", "", nil
}

// SaveAPIKey writes key to KeyPath with owner-only permissions and removes
// the legacy file so it can no longer shadow the new one.
func SaveAPIKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("api key cannot be empty")
	}
	path := KeyPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), apiKeyFile+".*")
	if err != nil {
		return "", fmt.Errorf("failed to write api key: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write api key: %w", err)
	}
	if _, err := tmp.WriteString(key); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write api key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write api key: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to write api key: %w", err)
	}

	if legacy := LegacyKeyPath(); legacy != "" {
		if err := os.Remove(legacy); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove legacy api key file", slog.String("path", legacy), slog.String("error", err.Error()))
		}
	}
	return path, nil
}

// Redacted returns the key with all but the last four characters masked.
func Redacted(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
