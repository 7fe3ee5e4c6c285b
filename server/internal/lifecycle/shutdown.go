package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// DefaultTimeout bounds the shutdown function.
const DefaultTimeout = 30 * time.Second

// Handler owns the signal subscription of the process.
type Handler struct {
	quit         chan os.Signal
	shuttingDown atomic.Bool
	onShutdown   func(ctx context.Context) error
	exit         func(code int)
	timeout      time.Duration
	wg           sync.WaitGroup
	stopOnce     sync.Once
}

// Option customizes a Handler.
type Option func(*Handler)

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(h *Handler) { h.exit = exit }
}

// WithTimeout bounds the shutdown function; past it the process exits 1.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// New subscribes to SIGINT and SIGTERM and starts waiting for one.
func New(onShutdown func(ctx context.Context) error, opts ...Option) *Handler {
	h := &Handler{
		quit:       make(chan os.Signal, 2),
		onShutdown: onShutdown,
		exit:       os.Exit,
		timeout:    DefaultTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	signal.Notify(h.quit, syscall.SIGINT, syscall.SIGTERM)

	h.wg.Add(1)
	go h.loop()
	return h
}

// Shutdown triggers the shutdown programmatically. Calls after the first
// are ignored.
func (h *Handler) Shutdown() {
	if !h.shuttingDown.Load() {
		select {
		case h.quit <- syscall.SIGTERM:
		default:
		}
	}
}

// ShuttingDown reports whether shutdown has started.
func (h *Handler) ShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Wait blocks until the shutdown function has returned and exit was called.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) loop() {
	defer h.wg.Done()

	sig := <-h.quit
	h.shuttingDown.Store(true)
	slog.Info("lifecycle: received signal, shutting down", "signal", sig.String())

	stopIgnoring := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-h.quit:
				slog.Warn("lifecycle: already shutting down, signal ignored", "signal", s.String())
			case <-stopIgnoring:
				return
			}
		}
	}()

	code := h.run()
	close(stopIgnoring)
	h.stopOnce.Do(func() { signal.Stop(h.quit) })
	h.exit(code)
}

func (h *Handler) run() int {
	if h.onShutdown == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.onShutdown(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			code := ExitCode(err)
			slog.Error("lifecycle: shutdown failed", "err", err, "code", code)
			return code
		}
		slog.Info("lifecycle: shutdown tasks completed, exiting")
		return 0
	case <-ctx.Done():
		slog.Error("lifecycle: shutdown tasks did not complete in time", "timeout", h.timeout)
		return 1
	}
}

// ExitCode maps err to a process exit code: 0 for nil, the errno of a
// wrapped system error, else 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	return 1
}
