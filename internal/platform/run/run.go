package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type Runner struct {
	Logger *zap.Logger
	// ShutdownTimeout bounds each shutdown hook; zero keeps 10s.
	ShutdownTimeout time.Duration
}

func New(log *zap.Logger) *Runner {
	return &Runner{Logger: log, ShutdownTimeout: 10 * time.Second}
}

// WithSignals runs start until it returns or SIGINT/SIGTERM arrives, then
// runs the shutdown hooks in order. It returns the process exit code.
func (r *Runner) WithSignals(start func(ctx context.Context) error, shutdown ...func(context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	code := 0
	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.Logger.Error("service exited with error", zap.Error(err))
			code = 1
		}
	}
	for _, fn := range shutdown {
		if err := r.Graceful(fn); err != nil {
			r.Logger.Warn("shutdown hook failed", zap.Error(err))
		}
	}
	return code
}

// Graceful runs one shutdown hook bounded by ShutdownTimeout.
func (r *Runner) Graceful(shutdown func(context.Context) error) error {
	timeout := r.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return shutdown(c)
}

func Exit(code int) {
	os.Exit(code)
}
