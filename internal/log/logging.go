// Package log builds the tool's slog.Logger and the transaction trace sink.
//
// Without a log file, records below Error go to stdout and errors to stderr
// so stderr can be redirected on its own. With a log file, the console only
// gets stderr output and the file receives everything at the chosen level.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is below Debug and enables report-level tracing on stdout.
const LevelTrace slog.Level = -8

// Config selects level, format and optional log file.
type Config struct {
	Level     string `help:"Log level" enum:"trace,debug,info,warn,error" default:"info" env:"LICENCE_TOOL_LOG_LEVEL"`
	Format    string `help:"Log format" enum:"text,json" default:"text" env:"LICENCE_TOOL_LOG_FORMAT"`
	File      string `help:"Also write logs to this file" env:"LICENCE_TOOL_LOG_FILE"`
	TraceFile string `help:"Write the report trace (hex dumps of every report) to this file" env:"LICENCE_TOOL_TRACE_FILE"`
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MultiHandler fans records out to several handlers.
type MultiHandler struct{ hs []slog.Handler }

func (m MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.hs {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.hs {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		_ = h.Handle(ctx, r.Clone())
	}
	return nil
}

func (m MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithAttrs(attrs)
	}
	return MultiHandler{hs: out}
}

func (m MultiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithGroup(name)
	}
	return MultiHandler{hs: out}
}

// LevelFilter passes to h only the levels accepted by pass.
type LevelFilter struct {
	pass func(slog.Level) bool
	h    slog.Handler
}

func (f LevelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.pass(level) && f.h.Enabled(ctx, level)
}

func (f LevelFilter) Handle(ctx context.Context, r slog.Record) error {
	if !f.pass(r.Level) {
		return nil
	}
	return f.h.Handle(ctx, r)
}

func (f LevelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return LevelFilter{pass: f.pass, h: f.h.WithAttrs(attrs)}
}

func (f LevelFilter) WithGroup(name string) slog.Handler {
	return LevelFilter{pass: f.pass, h: f.h.WithGroup(name)}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// replaceLevel prints LevelTrace as TRACE instead of DEBUG-4.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// SetupLogger builds the console logger plus an optional file logger.
// The returned closers must be closed on exit.
func SetupLogger(cfg Config) (*slog.Logger, []io.Closer, error) {
	return setupLogger(cfg, os.Stdout, os.Stderr)
}

func setupLogger(cfg Config, stdout, stderr io.Writer) (*slog.Logger, []io.Closer, error) {
	level := ParseLevel(cfg.Level)
	var handlers []slog.Handler

	if cfg.File == "" {
		handlers = append(handlers,
			LevelFilter{pass: func(l slog.Level) bool { return l < slog.LevelError }, h: newHandler(stdout, cfg.Format, level)},
			LevelFilter{pass: func(l slog.Level) bool { return l >= slog.LevelError }, h: newHandler(stderr, cfg.Format, slog.LevelError)},
		)
	} else {
		handlers = append(handlers, newHandler(stderr, cfg.Format, level))
	}

	var closers []io.Closer
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, f)
		handlers = append(handlers, newHandler(f, cfg.Format, level))
	}
	return slog.New(MultiHandler{hs: handlers}), closers, nil
}

// SetupTrace opens the trace sink described by cfg. Without a trace file the
// trace goes to stdout at level trace and is discarded otherwise.
func SetupTrace(cfg Config) (TraceLogger, io.Closer, error) {
	if cfg.TraceFile != "" {
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return NewTrace(nil), nil, err
		}
		return NewTrace(f), f, nil
	}
	if ParseLevel(cfg.Level) == LevelTrace {
		return NewTrace(os.Stdout), nil, nil
	}
	return NewTrace(nil), nil, nil
}
