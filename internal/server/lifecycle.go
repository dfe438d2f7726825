package server

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Backoff bounds between restarts of a supervised goroutine.
var (
	initialBackoff = time.Second
	maxBackoff     = 5 * time.Minute
)

// RunWithRecovery runs fn in a loop, recovering from panics with exponential backoff.
// It stops when ctx is cancelled.
func RunWithRecovery(ctx context.Context, logger *slog.Logger, name string, fn func(ctx context.Context)) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("goroutine stopped", "name", name, "reason", "context cancelled")
			return
		default:
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("goroutine panicked",
						"name", name,
						"panic", r,
						"stack", string(debug.Stack()),
						"attempt", attempt,
					)
				}
			}()
			fn(ctx)
		}()

		// If fn returned normally (not panic), check if context is done
		select {
		case <-ctx.Done():
			return
		default:
		}

		attempt++
		wait := backoff(attempt)
		logger.Warn("goroutine restarting",
			"name", name,
			"attempt", attempt,
			"backoff", wait,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// backoff doubles from initialBackoff per attempt, capped at maxBackoff.
func backoff(attempt int) time.Duration {
	d := initialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return min(d, maxBackoff)
}

// Group supervises named background goroutines so shutdown can wait for them.
type Group struct {
	ctx    context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewGroup creates a Group whose goroutines stop when ctx is cancelled.
func NewGroup(ctx context.Context, logger *slog.Logger) *Group {
	return &Group{ctx: ctx, logger: logger}
}

// Go starts fn under RunWithRecovery.
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		RunWithRecovery(g.ctx, g.logger, name, fn)
	}()
}

// Wait blocks until every goroutine has returned or ctx expires.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetupLogger creates a structured slog.Logger with JSON output to stdout.
func SetupLogger(level string) *slog.Logger {
	return NewLogger(level, os.Stdout)
}

// NewLogger creates a JSON slog.Logger writing to w. Unknown levels fall
// back to info.
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler).With("service", "qrshield")
}
