//go:build integration

package tier1

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schaermu/themesync/internal/testutil"
)

const (
	testThemeID    = 1234
	defaultTimeout = 2 * time.Minute
)

// fakeCLI stands in for the Shopify CLI. It logs every invocation and serves
// the remote build manifest on pull.
const fakeCLI = `#!/bin/sh
printf '%s\n' "$*" >> "$FAKE_CLI_LOG"
if [ "$2" = "pull" ] && [ -f "$FAKE_REMOTE_MANIFEST" ]; then
  cp "$FAKE_REMOTE_MANIFEST" "$3/manifest.json"
fi
if [ "$2" = "push" ] && [ -n "$FAKE_PUSH_EXIT" ]; then
  echo "push rejected" >&2
  exit "$FAKE_PUSH_EXIT"
fi
exit 0
`

// Harness drives the compiled themesync binary against a fake Shopify CLI
// and a fake Admin API.
type Harness struct {
	t        *testing.T
	binPath  string
	workDir  string
	themeDir string
	cliPath  string
	cliLog   string
	remote   string
	env      []string
	Shopify  *FakeShopify
}

// NewHarness builds the binary and prepares an isolated work directory
func NewHarness(t *testing.T, ctx context.Context) *Harness {
	t.Helper()

	workDir := t.TempDir()
	h := &Harness{
		t:        t,
		binPath:  filepath.Join(workDir, "themesync"),
		workDir:  workDir,
		themeDir: filepath.Join(workDir, "dist"),
		cliPath:  filepath.Join(workDir, "shopify"),
		cliLog:   filepath.Join(workDir, "cli.log"),
		remote:   filepath.Join(workDir, "remote-manifest.json"),
		Shopify:  NewFakeShopify(t),
	}

	if err := h.buildBinary(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}
	testutil.WriteScript(t, workDir, filepath.Base(h.cliPath), fakeCLI)
	if err := os.MkdirAll(h.themeDir, 0755); err != nil {
		t.Fatalf("create theme dir: %v", err)
	}
	return h
}

func (h *Harness) buildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binPath, "./cmd/themesync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// WriteConfig writes the themesync config used by Run
func (h *Harness) WriteConfig(removalFailures string) string {
	h.t.Helper()

	content := fmt.Sprintf(`shopify:
  store: example.myshopify.com
  password: shpat_test
  theme_id: %d
  base_url: %s
theme:
  root: %s
sync:
  concurrency: 2
  removal_failures: %s
cli:
  executable: %s
`, testThemeID, h.Shopify.URL(), h.themeDir, removalFailures, h.cliPath)

	path := filepath.Join(h.workDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatalf("write config: %v", err)
	}
	return path
}

// SetLocalManifest writes the current build manifest into the theme tree
func (h *Harness) SetLocalManifest(content string) {
	h.t.Helper()
	if err := os.WriteFile(filepath.Join(h.themeDir, "manifest.json"), []byte(content), 0644); err != nil {
		h.t.Fatalf("write local manifest: %v", err)
	}
}

// SetRemoteManifest sets the manifest served by the fake CLI on pull. An
// empty content removes it.
func (h *Harness) SetRemoteManifest(content string) {
	h.t.Helper()
	if content == "" {
		if err := os.Remove(h.remote); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.t.Fatalf("remove remote manifest: %v", err)
		}
		return
	}
	if err := os.WriteFile(h.remote, []byte(content), 0644); err != nil {
		h.t.Fatalf("write remote manifest: %v", err)
	}
}

// SetEnv adds KEY=VALUE pairs to the environment of subsequent runs
func (h *Harness) SetEnv(kv ...string) {
	h.env = append(h.env, kv...)
}

// Reset clears the CLI log, the recorded API calls and the extra environment
func (h *Harness) Reset() {
	h.t.Helper()
	if err := os.Remove(h.cliLog); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.t.Fatalf("clear cli log: %v", err)
	}
	h.env = nil
	h.Shopify.Reset()
}

// Run executes the binary and returns stdout, stderr and the exit code
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binPath, args...)
	cmd.Dir = h.workDir
	cmd.Env = append(os.Environ(),
		"HOME="+h.workDir,
		"SHOPIFY_SHOP=",
		"SHOPIFY_STORE=",
		"SHOPIFY_PASSWORD=",
		"SHOPIFY_THEME_ID=",
		"THEME_ROOT=",
		"SHOPIFY_API_BASE_URL=",
		"FAKE_CLI_LOG="+h.cliLog,
		"FAKE_REMOTE_MANIFEST="+h.remote,
	)
	cmd.Env = append(cmd.Env, h.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			h.t.Fatalf("run %v: %v", args, err)
		}
		exitCode = exitErr.ExitCode()
	}

	h.t.Logf("themesync %s exited %d\nstdout:\n%s\nstderr:\n%s", strings.Join(args, " "), exitCode, stdout.String(), stderr.String())
	return stdout.String(), stderr.String(), exitCode
}

// ReadCLILog returns every recorded invocation of the fake CLI
func (h *Harness) ReadCLILog() []CLILogEntry {
	h.t.Helper()

	content, err := os.ReadFile(h.cliLog)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		h.t.Fatalf("read cli log: %v", err)
	}

	var entries []CLILogEntry
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entries = append(entries, CLILogEntry{Args: strings.Fields(line)})
	}
	if err := scanner.Err(); err != nil {
		h.t.Fatalf("scan cli log: %v", err)
	}
	return entries
}

// CLILogEntry represents one invocation of the fake CLI
type CLILogEntry struct {
	Args []string
}

// String returns a human-readable representation
func (e CLILogEntry) String() string {
	return "shopify " + strings.Join(e.Args, " ")
}

// HasArgs checks if the entry starts with the given arguments
func (e CLILogEntry) HasArgs(args ...string) bool {
	if len(e.Args) < len(args) {
		return false
	}
	for i, arg := range args {
		if e.Args[i] != arg {
			return false
		}
	}
	return true
}

// ContainsArg checks if the entry contains a specific argument anywhere
func (e CLILogEntry) ContainsArg(arg string) bool {
	for _, a := range e.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// FakeShopify is an Admin API double that records asset deletions
type FakeShopify struct {
	server *httptest.Server

	mu       sync.Mutex
	deleted  []string
	failKeys map[string]bool
}

// NewFakeShopify starts a fake Admin API closed at test cleanup
func NewFakeShopify(t *testing.T) *FakeShopify {
	t.Helper()

	f := &FakeShopify{failKeys: make(map[string]bool)}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the store base URL
func (f *FakeShopify) URL() string {
	return f.server.URL
}

// FailKey makes deletions of key answer 500
func (f *FakeShopify) FailKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failKeys[key] = true
}

// Deleted returns the asset keys deleted so far
func (f *FakeShopify) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// Reset forgets recorded deletions and failures
func (f *FakeShopify) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = nil
	f.failKeys = make(map[string]bool)
}

func (f *FakeShopify) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Shopify-Access-Token") == "" {
		http.Error(w, `{"errors":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	wantPath := fmt.Sprintf("/themes/%d/assets.json", testThemeID)
	if r.Method != http.MethodDelete || !strings.HasSuffix(r.URL.Path, wantPath) {
		http.NotFound(w, r)
		return
	}

	key := r.URL.Query().Get("asset[key]")

	f.mu.Lock()
	fail := f.failKeys[key]
	if !fail {
		f.deleted = append(f.deleted, key)
	}
	f.mu.Unlock()

	if fail {
		http.Error(w, `{"errors":"boom"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"message":"ok"}`)
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
