package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// newRunLogger returns a logger that writes to stderr at the configured
// level and additionally records error-level entries in a per-run file
// under logsRoot, so a failed run leaves a durable trace after the
// process output is gone. The returned closer releases the file.
func newRunLogger(logsRoot string, level slog.Leveler) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logsRoot, 0o755); err != nil {
		return nil, nil, fmt.Errorf("unable to create logs root err:%w", err)
	}

	// RFC3339 with colons replaced, valid on every filesystem
	stamp := strings.ReplaceAll(time.Now().UTC().Format(time.RFC3339), ":", "-")
	name := filepath.Join(logsRoot, fmt.Sprintf("error-%s.log", stamp))

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open error log file err:%w", err)
	}

	handler := &fanoutHandler{
		handlers: []slog.Handler{
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
			slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelError}),
		},
	}

	return slog.New(handler), f, nil
}

// fanoutHandler delivers each record to every handler that has it
// enabled, each handler keeps its own level
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, record.Level) {
			continue
		}
		if err := hh.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		handlers[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		handlers[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}
