// Package webhook runs the preview janitor: it receives GitHub pull_request
// deliveries and deletes the preview theme of every closed pull request.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/themesync/internal/activation"
	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/github"
)

// Deleter removes the preview theme of a branch
type Deleter interface {
	Delete(ctx context.Context, headRef string) error
}

// Server implements the webhook HTTP server
type Server struct {
	cfg     *config.Config
	deleter Deleter
	logger  *slog.Logger
	secret  []byte

	baseCtx context.Context

	flightMu sync.Mutex // guards flights
	flights  map[string]*flight
	debounce *debouncer
}

// flight tracks the deletion state of one branch
type flight struct {
	running bool // a deletion is in progress
	pending bool // another deletion is needed after the current one
}

// debouncer coalesces triggers per key
type debouncer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	delay  time.Duration
}

// NewServer creates a new webhook server
func NewServer(cfg *config.Config, deleter Deleter, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("webhook secret file %s is empty", cfg.Serve.GitHubWebhookSecretFile)
	}

	return &Server{
		cfg:     cfg,
		deleter: deleter,
		logger:  logger,
		secret:  secret,
		baseCtx: context.Background(),
		flights: make(map[string]*flight),
		debounce: &debouncer{
			timers: make(map[string]*time.Timer),
			delay:  cfg.Serve.Debounce,
		},
	}, nil
}

// Handler returns the HTTP handler serving webhook deliveries
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)
	return mux
}

// Start serves webhooks until ctx is cancelled. Deletions triggered by
// deliveries run under ctx.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	listener, activated, err := activation.Listen(s.cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting", "addr", listener.Addr().String(), "socket_activated", activated)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		s.debounce.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		s.debounce.stop()
		return err
	}
}

// handleWebhook handles incoming GitHub webhook requests
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	s.logger.Debug("received webhook", "event", eventType, "delivery", r.Header.Get("X-GitHub-Delivery"))

	if !s.isEventTypeAllowed(eventType) {
		s.logger.Info("ignoring disallowed event type", "event", eventType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Event type not configured\n")
		return
	}

	event, err := github.ParseEvent(body)
	if err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	repo := event.Repository.FullName
	if !s.isRepoAllowed(repo) {
		s.logger.Info("ignoring disallowed repository", "repo", repo)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Repository not configured\n")
		return
	}

	branch := event.HeadRef()
	if event.Action != "closed" || branch == "" {
		s.logger.Debug("ignoring pull request action", "action", event.Action, "pr", event.PRNumber())
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Action ignored\n")
		return
	}

	s.logger.Info("pull request closed, scheduling preview cleanup",
		"repo", repo,
		"pr", event.PRNumber(),
		"branch", branch,
		"merged", event.PullRequest.Merged)

	s.debounce.trigger(branch, func() {
		s.performDelete(s.baseCtx, branch)
	})

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Preview cleanup scheduled\n")
}

// verifySignature verifies the GitHub webhook signature
func (s *Server) verifySignature(body []byte, signature string) bool {
	// GitHub signature format: sha256=<hex>
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || hexSig == "" {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(hexSig), []byte(expected))
}

func (s *Server) isEventTypeAllowed(eventType string) bool {
	return allowed(s.cfg.Serve.AllowedEventTypes, eventType)
}

func (s *Server) isRepoAllowed(repo string) bool {
	return allowed(s.cfg.Serve.AllowedRepos, repo)
}

// allowed reports whether v is listed; an empty list allows everything.
func allowed(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// performDelete deletes the preview theme of branch with per-branch
// single-flight semantics. A request arriving while the branch is being
// handled queues at most one re-run.
func (s *Server) performDelete(ctx context.Context, branch string) {
	s.flightMu.Lock()
	f, ok := s.flights[branch]
	if !ok {
		f = &flight{}
		s.flights[branch] = f
	}
	if f.running {
		f.pending = true
		s.flightMu.Unlock()
		s.logger.Info("preview cleanup already in progress, queuing re-run", "branch", branch)
		return
	}
	f.running = true
	s.flightMu.Unlock()

	for {
		if err := s.deleter.Delete(ctx, branch); err != nil {
			s.logger.Error("preview cleanup failed", "branch", branch, "error", err)
		} else {
			s.logger.Info("preview cleanup completed", "branch", branch)
		}

		s.flightMu.Lock()
		if !f.pending {
			delete(s.flights, branch)
			s.flightMu.Unlock()
			return
		}
		f.pending = false
		s.flightMu.Unlock()

		s.logger.Info("re-running preview cleanup due to pending request", "branch", branch)
	}
}

// trigger schedules callback for key after the debounce delay, replacing any
// callback already scheduled for key.
func (d *debouncer) trigger(key string, callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.timers[key] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()

		callback()
	})
	d.timers[key] = t
}

// stop cancels every scheduled callback
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
