package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultFlushInterval is the period of the scheduler's fallback flush.
const DefaultFlushInterval = 10 * time.Second

// Flusher is the flush routine driven by a Scheduler.
type Flusher interface {
	Flush(ctx context.Context) (FlushResult, error)
}

// SchedulerOptions configures a Scheduler. Ticks replaces the internal
// ticker when set, so tests can drive the period by hand.
type SchedulerOptions struct {
	Interval time.Duration
	Ticks    <-chan time.Time
	Logger   *zap.Logger
}

// Scheduler flushes on a fixed period and whenever a suspension point asks
// for it. Requests made while a flush is running collapse into one.
type Scheduler struct {
	flusher  Flusher
	interval time.Duration
	ticks    <-chan time.Time
	log      *zap.Logger

	requests chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewScheduler returns a stopped scheduler for f.
func NewScheduler(f Flusher, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		flusher:  f,
		interval: opts.Interval,
		ticks:    opts.Ticks,
		log:      opts.Logger,
		requests: make(chan struct{}, 1),
	}
}

// Start runs the flush loop until Stop is called or ctx is cancelled.
// Calling Start on a running or stopped scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ticks := s.ticks
	var ticker *time.Ticker
	if ticks == nil {
		ticker = time.NewTicker(s.interval)
		ticks = ticker.C
	}

	go func() {
		defer close(s.done)
		if ticker != nil {
			defer ticker.Stop()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				s.flush(ctx, "interval")
			case <-s.requests:
				s.flush(ctx, "request")
			}
		}
	}()
}

// RequestFlush asks for an immediate flush. It never blocks.
func (s *Scheduler) RequestFlush() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Stop ends the loop and runs one last best-effort flush bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.flush(ctx, "teardown")
}

func (s *Scheduler) flush(ctx context.Context, reason string) {
	res, err := s.flusher.Flush(ctx)
	if err != nil {
		s.log.Debug("scheduled flush failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	if res.Written > 0 {
		s.log.Debug("scheduled flush", zap.String("reason", reason), zap.Int("written", res.Written))
	}
}
