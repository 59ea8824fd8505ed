// Package update checks the release feed for newer versions and replaces
// the running executable.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

var (
	// ErrNoAsset is returned when a release has no build for this platform
	ErrNoAsset = errors.New("no release asset for this platform")

	// ErrDevBuild is returned when the running version is not a release
	ErrDevBuild = errors.New("running version is not a release")
)

// Release is the subset of release metadata the updater reads
type Release struct {
	Tag     string  `json:"tag_name"`
	Name    string  `json:"name"`
	HTMLURL string  `json:"html_url"`
	Assets  []Asset `json:"assets"`
}

// Asset is a downloadable release file
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

// Status compares the running version with the latest release
type Status struct {
	Current string
	Latest  string
	// Newer is true when Latest is a higher semantic version than Current.
	Newer bool
	Asset *Asset
}

// Checker reads the release feed
type Checker struct {
	releasesURL string
	httpClient  *http.Client
	goos        string
	goarch      string
	logger      *slog.Logger
}

// Option configures a Checker
type Option func(*Checker)

// WithHTTPClient sets the HTTP client used for the feed and downloads
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) {
		ch.httpClient = c
	}
}

// WithPlatform overrides the target OS and architecture
func WithPlatform(goos, goarch string) Option {
	return func(ch *Checker) {
		ch.goos = goos
		ch.goarch = goarch
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(ch *Checker) {
		ch.logger = l
	}
}

// NewChecker creates a checker for the release feed at releasesURL
func NewChecker(releasesURL string, opts ...Option) *Checker {
	c := &Checker{
		releasesURL: releasesURL,
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		goos:        runtime.GOOS,
		goarch:      runtime.GOARCH,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest fetches the newest release
func (c *Checker) Latest(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releasesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("release feed returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("failed to decode release feed: %w", err)
	}
	if !semver.IsValid(Canonical(rel.Tag)) {
		return nil, fmt.Errorf("release tag %q is not a semantic version", rel.Tag)
	}
	return &rel, nil
}

// Check compares current with the latest release. A current version that
// is not semver (a dev build) is never reported as outdated.
func (c *Checker) Check(ctx context.Context, current string) (*Status, error) {
	rel, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{Current: current, Latest: rel.Tag}

	cur := Canonical(current)
	if semver.IsValid(cur) {
		st.Newer = semver.Compare(Canonical(rel.Tag), cur) > 0
	}
	if asset, ok := c.pickAsset(rel); ok {
		st.Asset = &asset
	}

	c.logger.Debug("version check",
		slog.String("current", current),
		slog.String("latest", rel.Tag),
		slog.Bool("newer", st.Newer))
	return st, nil
}

// Canonical adds the leading v that semver requires
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// AssetName is the file name a release uses for a platform build
func AssetName(goos, goarch string) string {
	name := fmt.Sprintf("vastctl_%s_%s", goos, goarch)
	if goos == "windows" {
		name += ".exe"
	}
	return name
}

func (c *Checker) pickAsset(rel *Release) (Asset, bool) {
	want := AssetName(c.goos, c.goarch)
	for _, a := range rel.Assets {
		if a.Name == want {
			return a, true
		}
	}
	return Asset{}, false
}

// Apply downloads asset next to exePath and renames it into place, so a
// failed download leaves the old executable untouched.
func (c *Checker) Apply(ctx context.Context, asset *Asset, exePath string) error {
	if asset == nil || asset.DownloadURL == "" {
		return ErrNoAsset
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", asset.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s returned HTTP %d", asset.Name, resp.StatusCode)
	}

	dir := filepath.Dir(exePath)
	tmp, err := os.CreateTemp(dir, ".vastctl-update-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", asset.Name, err)
	}
	if asset.Size > 0 && n != asset.Size {
		return fmt.Errorf("download of %s truncated: got %d of %d bytes", asset.Name, n, asset.Size)
	}

	mode := os.FileMode(0o755)
	if info, err := os.Stat(exePath); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, exePath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", exePath, err)
	}

	c.logger.Info("executable replaced", slog.String("path", exePath), slog.String("asset", asset.Name), slog.Int64("bytes", n))
	return nil
}
