package themecli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// PullOptions configures `shopify theme pull`
type PullOptions struct {
	ThemeID int64
	Live    bool
	Only    []string
	Ignore  []string
}

// PushOptions configures `shopify theme push`
type PushOptions struct {
	ThemeID   int64
	AllowLive bool
	NoDelete  bool
	Only      []string
	Ignore    []string
}

// Executor runs theme transfers against a store
type Executor interface {
	// Pull downloads theme files into dir
	Pull(ctx context.Context, dir string, opts PullOptions) error
	// Push uploads theme files from dir
	Push(ctx context.Context, dir string, opts PushOptions) error
}

// ExecError reports a failed CLI invocation
type ExecError struct {
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ShellClient implements Executor by shelling out to the Shopify CLI
type ShellClient struct {
	executable string
	env        []string
	output     io.Writer
	logger     *slog.Logger
}

// Option customizes a ShellClient.
type Option func(*ShellClient)

// WithEnv appends KEY=VALUE pairs to the CLI environment.
func WithEnv(kv ...string) Option {
	return func(c *ShellClient) { c.env = append(c.env, kv...) }
}

// WithOutput sets where CLI output is streamed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *ShellClient) { c.output = w }
}

// StoreEnv returns the environment the CLI reads store credentials from.
func StoreEnv(store, password string) []string {
	return []string{
		"SHOPIFY_FLAG_STORE=" + store,
		"SHOPIFY_CLI_THEME_TOKEN=" + password,
		"SHOPIFY_SHOP=" + store,
		"SHOPIFY_PASSWORD=" + password,
	}
}

// NewShellClient creates a client that runs the given CLI executable
func NewShellClient(executable string, logger *slog.Logger, opts ...Option) *ShellClient {
	if executable == "" {
		executable = "shopify"
	}
	c := &ShellClient{
		executable: executable,
		output:     os.Stdout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pull runs `shopify theme pull`
func (c *ShellClient) Pull(ctx context.Context, dir string, opts PullOptions) error {
	return c.run(ctx, PullArgs(dir, opts)...)
}

// Push runs `shopify theme push`
func (c *ShellClient) Push(ctx context.Context, dir string, opts PushOptions) error {
	return c.run(ctx, PushArgs(dir, opts)...)
}

// Login runs `shopify login` and fails once timeout elapses
func (c *ShellClient) Login(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := c.run(ctx, "login")
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("[shopify login] command took longer than %s", timeout)
	}
	return err
}

// PullArgs builds the argv for a pull
func PullArgs(dir string, opts PullOptions) []string {
	args := []string{"theme", "pull", dir}
	if opts.ThemeID > 0 {
		args = append(args, "--theme="+strconv.FormatInt(opts.ThemeID, 10))
	}
	if opts.Live {
		args = append(args, "--live")
	}
	args = appendEach(args, "--only=", opts.Only)
	return appendEach(args, "--ignore=", opts.Ignore)
}

// PushArgs builds the argv for a push
func PushArgs(dir string, opts PushOptions) []string {
	args := []string{"theme", "push", dir}
	if opts.AllowLive {
		args = append(args, "--allow-live")
	}
	if opts.NoDelete {
		args = append(args, "--nodelete")
	}
	if opts.ThemeID > 0 {
		args = append(args, "--theme="+strconv.FormatInt(opts.ThemeID, 10))
	}
	args = appendEach(args, "--only=", opts.Only)
	return appendEach(args, "--ignore=", opts.Ignore)
}

func appendEach(args []string, prefix string, values []string) []string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			args = append(args, prefix+v)
		}
	}
	return args
}

// run executes the CLI, streaming its output and keeping the tail for errors
func (c *ShellClient) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, c.executable, args...)
	cmd.Env = append(os.Environ(), c.env...)

	tail := &tailWriter{limit: 4096}
	w := io.MultiWriter(c.output, tail)
	cmd.Stdout = w
	cmd.Stderr = w

	c.logger.Debug("running shopify cli", "args", args)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &ExecError{
			Args:     append([]string{c.executable}, args...),
			ExitCode: exitCode,
			Output:   strings.TrimSpace(tail.String()),
			Err:      err,
		}
	}
	return nil
}

// tailWriter keeps the last limit bytes written to it
type tailWriter struct {
	limit int
	buf   []byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	return string(t.buf)
}
