// Package themekit installs and runs the legacy ThemeKit binary.
package themekit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
)

// Flags are the ThemeKit command flags used by the preview workflow
type Flags struct {
	Dir          string
	Env          string
	IgnoredFiles []string
	NoDelete     bool
	Live         bool
	AllowLive    bool
	NoIgnore     bool
	Password     string
	Store        string
	ThemeID      int64
	Files        []string
}

// Args converts the flags into ThemeKit argv. --no-update-notifier is always
// set because the binary is pinned and must not try to update itself.
func (f Flags) Args() []string {
	var args []string
	if f.Dir != "" {
		args = append(args, "--dir", f.Dir)
	}
	if f.Env != "" {
		args = append(args, "--env", f.Env)
	}
	for _, file := range f.IgnoredFiles {
		if file = strings.TrimSpace(file); file != "" {
			args = append(args, "--ignored-file", file)
		}
	}
	if f.NoDelete {
		args = append(args, "--nodelete")
	}
	if f.Live {
		args = append(args, "--live")
	}
	if f.AllowLive {
		args = append(args, "--allow-live")
	}
	if f.NoIgnore {
		args = append(args, "--no-ignore")
	}
	if f.Password != "" {
		args = append(args, "--password", f.Password)
	}
	if f.Store != "" {
		args = append(args, "--store", f.Store)
	}
	if f.ThemeID > 0 {
		args = append(args, "--themeid", strconv.FormatInt(f.ThemeID, 10))
	}
	args = append(args, f.Files...)
	return append(args, "--no-update-notifier")
}

// StderrError is returned when ThemeKit writes to stderr
type StderrError struct {
	Command string
	Stderr  string
}

func (e *StderrError) Error() string {
	return fmt.Sprintf("themekit %s wrote to stderr: %s", e.Command, e.Stderr)
}

// Runner downloads a pinned ThemeKit release and runs commands with it
type Runner struct {
	version    *version.Version
	baseURL    string
	binDir     string
	goos       string
	goarch     string
	httpClient *http.Client
	output     io.Writer
	logger     *slog.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithPlatform overrides the detected OS and architecture.
func WithPlatform(goos, goarch string) Option {
	return func(r *Runner) {
		r.goos = goos
		r.goarch = goarch
	}
}

// WithHTTPClient replaces the download client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Runner) { r.httpClient = hc }
}

// WithOutput sets where ThemeKit stdout is streamed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.output = w }
}

// NewRunner creates a runner for the pinned version
func NewRunner(pinned, baseURL, binDir string, logger *slog.Logger, opts ...Option) (*Runner, error) {
	v, err := version.NewVersion(pinned)
	if err != nil {
		return nil, fmt.Errorf("invalid themekit version %q: %w", pinned, err)
	}

	r := &Runner{
		version:    v,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		binDir:     binDir,
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		output:     os.Stdout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// BinPath returns where the ThemeKit binary is installed
func (r *Runner) BinPath() string {
	name := "theme"
	if r.goos == "windows" {
		name = "theme.exe"
	}
	return filepath.Join(r.binDir, name)
}

// DownloadURL returns the release URL for the pinned version and platform
func (r *Runner) DownloadURL() (string, error) {
	var platform string
	switch {
	case r.goos == "darwin":
		platform = "darwin-amd64"
	case r.goos == "linux" && r.goarch == "amd64":
		platform = "linux-amd64"
	case r.goos == "linux":
		platform = "linux-386"
	case r.goos == "windows":
		return fmt.Sprintf("%s/v%s/windows-amd64/theme.exe", r.baseURL, r.version), nil
	default:
		return "", fmt.Errorf("themekit is not available for %s/%s", r.goos, r.goarch)
	}
	return fmt.Sprintf("%s/v%s/%s/theme", r.baseURL, r.version, platform), nil
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// InstalledVersion runs `theme version` on the installed binary
func (r *Runner) InstalledVersion(ctx context.Context) (*version.Version, error) {
	out, err := exec.CommandContext(ctx, r.BinPath(), "version").Output()
	if err != nil {
		return nil, err
	}
	match := versionPattern.Find(out)
	if match == nil {
		return nil, fmt.Errorf("unrecognized themekit version output: %q", strings.TrimSpace(string(out)))
	}
	return version.NewVersion(string(match))
}

// Ensure installs the pinned binary when it is missing or older than pinned
func (r *Runner) Ensure(ctx context.Context) error {
	if _, err := os.Stat(r.BinPath()); err == nil {
		installed, err := r.InstalledVersion(ctx)
		switch {
		case err != nil:
			r.logger.Warn("[Theme Kit] - Unable to determine installed version", "error", err)
		case !installed.LessThan(r.version):
			return nil
		default:
			r.logger.Info("[Theme Kit] - Installed binary is outdated", "installed", installed.String(), "pinned", r.version.String())
		}
	}

	r.logger.Info("[Theme Kit] - Installation starting")

	url, err := r.DownloadURL()
	if err != nil {
		return err
	}
	if err := r.download(ctx, url); err != nil {
		return fmt.Errorf("failed to install themekit: %w", err)
	}

	r.logger.Info("[Theme Kit] - Installation complete")
	return nil
}

func (r *Runner) download(ctx context.Context, url string) error {
	if err := os.MkdirAll(r.binDir, 0755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(r.binDir, ".theme-download-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0755); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, r.BinPath())
}

// Run executes a ThemeKit command. It fails when the command exits non-zero
// or writes anything to stderr.
func (r *Runner) Run(ctx context.Context, command string, flags Flags) error {
	if err := r.Ensure(ctx); err != nil {
		return err
	}

	r.logger.Info("[Theme Kit] - Command starting", "command", command)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.BinPath(), append([]string{command}, flags.Args()...)...)
	cmd.Stdout = r.output
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if stderr.Len() > 0 {
		r.logger.Error(strings.TrimSpace(stderr.String()))
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return fmt.Errorf("themekit %s exited with code %d: %w", command, exitErr.ExitCode(), runErr)
		}
		return fmt.Errorf("themekit %s failed: %w", command, runErr)
	}
	if stderr.Len() > 0 {
		return &StderrError{Command: command, Stderr: strings.TrimSpace(stderr.String())}
	}

	r.logger.Info("[Theme Kit] - Command finished", "command", command)
	return nil
}
