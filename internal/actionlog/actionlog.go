// Package actionlog renders slog records as GitHub Actions workflow commands.
//
// Debug, notice, warning and error records become ::debug::, ::notice::,
// ::warning:: and ::error:: annotations so the runner picks them up. Info
// records are printed without a command, which keeps step banners and
// progress lines readable in the job log. Every record is written as a single
// line so logged data can never start a workflow command of its own.
package actionlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
)

// LevelNotice sits between info and warning and maps to ::notice::.
const LevelNotice = slog.Level(2)

const banner = "=============================="

// handler is a slog.Handler that formats records as:
//
//	::<command>::<message> <key=value ...>
type handler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	runID string
	attrs []string // preformatted key=value pairs from WithAttrs
	group string   // dotted prefix from WithGroup
}

// NewHandler creates a workflow command handler writing to w.
func NewHandler(w io.Writer, level slog.Leveler, runID string) slog.Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &handler{mu: &sync.Mutex{}, w: w, level: level, runID: runID}
}

// NewRunID returns a short identifier for one invocation.
func NewRunID() string {
	return uuid.NewString()[:8]
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	command := commandFor(r.Level)
	if command != "" {
		sb.WriteString("::")
		sb.WriteString(command)
		sb.WriteString("::")
	}

	fields := append([]string{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, h.group, a)
		return true
	})

	line := r.Message
	if len(fields) > 0 {
		line += " " + strings.Join(fields, " ")
	}

	if command != "" && h.runID != "" {
		line += " run=" + h.runID
	}
	sb.WriteString(escapeData(line))
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = append([]string{}, h.attrs...)
	for _, a := range attrs {
		h2.attrs = appendAttr(h2.attrs, h.group, a)
	}
	return &h2
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.group = h.group + name + "."
	return &h2
}

func commandFor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= LevelNotice:
		return "notice"
	case l >= slog.LevelInfo:
		return ""
	default:
		return "debug"
	}
}

func appendAttr(fields []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return fields
	}
	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			fields = appendAttr(fields, groupPrefix, ga)
		}
		return fields
	}
	return append(fields, prefix+a.Key+"="+formatValue(a.Value.String()))
}

// formatValue quotes values holding spaces, quotes or control characters.
func formatValue(v string) string {
	if strings.ContainsFunc(v, func(r rune) bool {
		return r == ' ' || r == '"' || unicode.IsControl(r)
	}) {
		return strconv.Quote(v)
	}
	return v
}

// escapeData escapes workflow command data.
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}

// Step logs a section banner, one record per line.
func Step(logger *slog.Logger, name string) {
	for _, line := range []string{"", banner, name, banner, ""} {
		logger.Info(line)
	}
}

// Notice logs at LevelNotice.
func Notice(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Log(ctx, LevelNotice, msg, args...)
}

// ReplaceLevel names LevelNotice in the text and JSON handlers.
func ReplaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if l, ok := a.Value.Any().(slog.Level); ok && l == LevelNotice {
		a.Value = slog.StringValue("NOTICE")
	}
	return a
}

// ParseLevel accepts debug, info, notice, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
