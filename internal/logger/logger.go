package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar slog.LevelVar

	mu         sync.RWMutex
	out        io.Writer = os.Stdout
	jsonFormat bool
	base       *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	base = build()
}

// build must be called with mu held for writing, or from init.
func build() *slog.Logger {
	opts := &slog.HandlerOptions{Level: &levelVar}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	out = w
	base = build()
	mu.Unlock()
}

// SetFormat selects "json" or "text" (anything else) records.
func SetFormat(format string) {
	mu.Lock()
	jsonFormat = strings.EqualFold(strings.TrimSpace(format), "json")
	base = build()
	mu.Unlock()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func logf(l *slog.Logger, level slog.Level, format string, v []any) {
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(current(), slog.LevelDebug, format, v) }
func Infof(format string, v ...any)  { logf(current(), slog.LevelInfo, format, v) }
func Warnf(format string, v ...any)  { logf(current(), slog.LevelWarn, format, v) }
func Errorf(format string, v ...any) { logf(current(), slog.LevelError, format, v) }

// Scope attaches fixed attributes, such as the bot identity, to every record.
type Scope struct {
	attrs []any
}

// Scoped tags records with bot=<tag>. An empty tag adds nothing.
func Scoped(tag string) Scope {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Scope{}
	}
	return Scope{attrs: []any{"bot", tag}}
}

// With returns a copy of s carrying one more attribute.
func (s Scope) With(key string, value any) Scope {
	attrs := make([]any, 0, len(s.attrs)+2)
	attrs = append(attrs, s.attrs...)
	return Scope{attrs: append(attrs, key, value)}
}

func (s Scope) logger() *slog.Logger {
	l := current()
	if len(s.attrs) == 0 {
		return l
	}
	return l.With(s.attrs...)
}

func (s Scope) Debugf(format string, v ...any) { logf(s.logger(), slog.LevelDebug, format, v) }
func (s Scope) Infof(format string, v ...any)  { logf(s.logger(), slog.LevelInfo, format, v) }
func (s Scope) Warnf(format string, v ...any)  { logf(s.logger(), slog.LevelWarn, format, v) }
func (s Scope) Errorf(format string, v ...any) { logf(s.logger(), slog.LevelError, format, v) }
