// Package sessions hosts one progress session per active learner.
package sessions

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/example/chess-academy/internal/platform/analytics"
	"github.com/example/chess-academy/internal/platform/metrics"
	"github.com/example/chess-academy/internal/progress"
)

// DefaultIdleTimeout is how long a session may go without traffic before eviction.
const DefaultIdleTimeout = 30 * time.Minute

// Config wires the collaborators shared by every hosted session.
type Config struct {
	Catalog   progress.Catalog
	Remote    progress.RemoteStore
	Local     progress.LocalCache
	Player    progress.Player
	Analytics *analytics.Publisher
	Logger    *zap.Logger

	FlushInterval time.Duration
	FlushTimeout  time.Duration
	IdleTimeout   time.Duration
	Now           func() time.Time
	// Ticks replaces every scheduler's ticker; tests only.
	Ticks <-chan time.Time
}

// Handle is an open learner session with its scheduler and event adapter.
type Handle struct {
	Session  *progress.Session
	Playback *progress.Playback

	scheduler *progress.Scheduler
	lastUsed  time.Time
}

// Manager opens sessions on first use and tears them down on eviction or shutdown.
type Manager struct {
	cfg  Config
	log  *zap.Logger
	now  func() time.Time
	open singleflight.Group

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Handle
}

func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		now:      now,
		baseCtx:  ctx,
		cancel:   cancel,
		sessions: make(map[string]*Handle),
	}
}

// Get returns the session of subjectID, opening and reconciling it on first use.
// Concurrent first calls for one subject share a single open.
func (m *Manager) Get(ctx context.Context, subjectID string) (*Handle, error) {
	if subjectID == "" {
		return nil, progress.ErrNoSubject
	}
	if h := m.touch(subjectID); h != nil {
		return h, nil
	}

	v, err, _ := m.open.Do(subjectID, func() (any, error) {
		if h := m.touch(subjectID); h != nil {
			return h, nil
		}
		return m.openSession(ctx, subjectID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Playback returns the player event adapter of subjectID.
func (m *Manager) Playback(ctx context.Context, subjectID string) (*progress.Playback, error) {
	h, err := m.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return h.Playback, nil
}

func (m *Manager) touch(subjectID string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[subjectID]
	if !ok {
		return nil
	}
	h.lastUsed = m.now()
	return h
}

func (m *Manager) openSession(ctx context.Context, subjectID string) (*Handle, error) {
	sess, err := progress.Open(ctx, progress.SessionConfig{
		SubjectID:    subjectID,
		Catalog:      m.cfg.Catalog,
		Remote:       m.cfg.Remote,
		Local:        m.cfg.Local,
		Logger:       m.log,
		FlushTimeout: m.cfg.FlushTimeout,
		Now:          m.cfg.Now,
		OnComplete: func(subject string, r progress.Record) {
			m.cfg.Analytics.LectureCompleted(subject, r.ItemID, r.Percent)
		},
	})
	if err != nil {
		return nil, err
	}

	sched := progress.NewScheduler(sess, progress.SchedulerOptions{
		Interval: m.cfg.FlushInterval,
		Ticks:    m.cfg.Ticks,
		Logger:   m.log.With(zap.String("subject_id", subjectID)),
	})
	h := &Handle{
		Session:   sess,
		Playback:  progress.NewPlayback(sess, sched, m.cfg.Player, m.log),
		scheduler: sched,
		lastUsed:  m.now(),
	}
	sched.Start(m.baseCtx)

	m.mu.Lock()
	m.sessions[subjectID] = h
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SetOpenSessions(n)

	m.log.Info("learner session opened",
		zap.String("subject_id", subjectID),
		zap.Int("records", len(sess.Records())),
		zap.Int("pending", sess.Pending()),
	)
	return h, nil
}

// Suspend flushes subjectID now. It is the navigation-away hook and never opens a session.
func (m *Manager) Suspend(ctx context.Context, subjectID string) (progress.FlushResult, error) {
	h := m.touch(subjectID)
	if h == nil {
		return progress.FlushResult{}, nil
	}
	return h.Session.Flush(ctx)
}

// Reset clears subjectID's progress and reports it to analytics.
func (m *Manager) Reset(ctx context.Context, subjectID, requested string) error {
	h, err := m.Get(ctx, subjectID)
	if err != nil {
		return err
	}
	if err := h.Session.Reset(ctx, requested); err != nil {
		return err
	}
	m.cfg.Analytics.ProgressReset(subjectID, len(h.Session.Records()))
	return nil
}

// Close stops subjectID's scheduler, which runs a final flush, and forgets the session.
func (m *Manager) Close(ctx context.Context, subjectID string) {
	m.closeSession(ctx, subjectID, nil)
}

// closeSession removes subjectID when keep is nil or reports false for the
// handle. keep runs under m.mu, so a touch that wins the lock is honoured.
func (m *Manager) closeSession(ctx context.Context, subjectID string, keep func(*Handle) bool) bool {
	m.mu.Lock()
	h, ok := m.sessions[subjectID]
	if !ok || (keep != nil && keep(h)) {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, subjectID)
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SetOpenSessions(n)
	h.scheduler.Stop(ctx)
	return true
}

// closeIfIdle evicts subjectID only if it has not been used since cutoff.
func (m *Manager) closeIfIdle(ctx context.Context, subjectID string, cutoff time.Time) bool {
	return m.closeSession(ctx, subjectID, func(h *Handle) bool {
		return !h.lastUsed.Before(cutoff)
	})
}

// EvictIdle closes every session idle for longer than the idle timeout.
func (m *Manager) EvictIdle(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)
	var idle []string
	m.mu.Lock()
	for id, h := range m.sessions {
		if h.lastUsed.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	evicted := 0
	for _, id := range idle {
		if m.closeIfIdle(ctx, id, cutoff) {
			evicted++
		}
	}
	if evicted > 0 {
		m.log.Info("evicted idle learner sessions", zap.Int("count", evicted))
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.EvictIdle(ctx)
		}
	}
}

// Len reports how many sessions are open.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every session in parallel, each with a final flush bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.sessions))
	for id, h := range m.sessions {
		handles = append(handles, h)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	metrics.SetOpenSessions(0)

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			h.scheduler.Stop(gctx)
			return nil
		})
	}
	err := g.Wait()
	m.cancel()
	return err
}
