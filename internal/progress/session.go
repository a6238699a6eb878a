package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/example/chess-academy/internal/platform/metrics"
)

const (
	defaultFlushTimeout = 5 * time.Second
	defaultQueryTimeout = 5 * time.Second
)

// SessionConfig wires a session to its collaborators. Remote is required;
// Catalog, Local and OnComplete may be nil.
type SessionConfig struct {
	SubjectID    string
	Catalog      Catalog
	Remote       RemoteStore
	Local        LocalCache
	Logger       *zap.Logger
	FlushTimeout time.Duration
	QueryTimeout time.Duration
	Now          func() time.Time
	// OnComplete is called outside the session lock when a record becomes completed.
	OnComplete func(subjectID string, r Record)
}

// FlushResult describes what a single flush did.
type FlushResult struct {
	Coalesced bool
	Attempted int
	Written   int
	Mirrored  bool
}

// Session owns the progress records of one subject: the in-memory store, the
// dirty set and the flush routine that writes both to the remote store and
// the local cache.
type Session struct {
	subject      string
	remote       RemoteStore
	local        LocalCache
	log          *zap.Logger
	flushTimeout time.Duration
	now          func() time.Time
	onComplete   func(string, Record)

	mu      sync.Mutex
	store   *Store
	dirty   *DirtySet
	catalog []CatalogItem

	flushing atomic.Bool
}

type cacheEnvelope struct {
	SubjectID string    `json:"subject_id"`
	SavedAt   time.Time `json:"saved_at"`
	Records   []Record  `json:"records"`
}

// Open reconciles the local cache and the remote store for cfg.SubjectID and
// returns a ready session. Only a missing subject or remote is an error;
// catalog, cache and remote failures degrade to whatever data is available.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	subject := strings.TrimSpace(cfg.SubjectID)
	if subject == "" {
		return nil, ErrNoSubject
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("progress: remote store is required for subject %s", subject)
	}
	s := &Session{
		subject:      subject,
		remote:       cfg.Remote,
		local:        cfg.Local,
		log:          cfg.Logger,
		flushTimeout: cfg.FlushTimeout,
		now:          cfg.Now,
		onComplete:   cfg.OnComplete,
		dirty:        NewDirtySet(),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("subject_id", subject))
	if s.flushTimeout <= 0 {
		s.flushTimeout = defaultFlushTimeout
	}
	if s.now == nil {
		s.now = func() time.Time { return WireTime(time.Now()) }
	}
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}

	if cfg.Catalog != nil {
		items, err := cfg.Catalog.Items(ctx, subject)
		if err != nil {
			s.log.Warn("catalog unavailable, reconciling known records only", zap.Error(err))
		}
		s.catalog = items
	}

	local := s.loadLocal(ctx)
	remote, remoteOK := s.queryRemote(ctx, queryTimeout, local)

	s.store = Reconcile(local, remote, s.catalog)
	s.markUnsynced(local, remote, remoteOK)
	return s, nil
}

func (s *Session) loadLocal(ctx context.Context) []Record {
	if s.local == nil {
		return nil
	}
	key := CacheKey(s.subject)
	raw, err := s.local.Get(ctx, key)
	if err != nil {
		s.log.Warn("local cache read failed", zap.Error(err))
		return nil
	}
	if raw == nil {
		return nil
	}
	var env cacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || (env.SubjectID != "" && env.SubjectID != s.subject) {
		if err == nil {
			err = fmt.Errorf("cache entry belongs to subject %q", env.SubjectID)
		}
		s.log.Warn("discarding corrupt local cache entry", zap.Error(err))
		metrics.RecordLocalCacheDiscard()
		if derr := s.local.Delete(ctx, key); derr != nil {
			s.log.Warn("local cache delete failed", zap.Error(derr))
		}
		return nil
	}
	out := make([]Record, 0, len(env.Records))
	for _, r := range env.Records {
		if r.ItemID == "" {
			continue
		}
		out = append(out, r.normalized())
	}
	return out
}

func (s *Session) queryRemote(ctx context.Context, timeout time.Duration, local []Record) ([]Record, bool) {
	ids := make([]string, 0, len(s.catalog)+len(local))
	seen := make(map[string]struct{}, cap(ids))
	for _, it := range s.catalog {
		if _, ok := seen[it.ItemID]; !ok && it.ItemID != "" {
			seen[it.ItemID] = struct{}{}
			ids = append(ids, it.ItemID)
		}
	}
	for _, r := range local {
		if _, ok := seen[r.ItemID]; !ok {
			seen[r.ItemID] = struct{}{}
			ids = append(ids, r.ItemID)
		}
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	wire, err := s.remote.Query(qctx, s.subject, ids)
	if err != nil {
		s.log.Warn("remote query failed, reconciling from local cache", zap.Error(err))
		metrics.RecordReconcile("local_only")
		return nil, false
	}
	metrics.RecordReconcile("merged")

	out := make([]Record, 0, len(wire))
	for _, w := range wire {
		if w.SubjectID != "" && w.SubjectID != s.subject {
			continue
		}
		r, ok := FromWire(w)
		if !ok {
			s.log.Warn("skipping remote record without item id")
			continue
		}
		out = append(out, r)
	}
	return out, true
}

// markUnsynced dirties local records the remote store has not seen yet, so
// progress recorded while offline is written on the next flush.
func (s *Session) markUnsynced(local, remote []Record, remoteOK bool) {
	remoteByID := indexRecords(remote)
	for _, l := range local {
		if l.LastWatchedAt.IsZero() {
			continue
		}
		r, ok := remoteByID[l.ItemID]
		if !remoteOK || !ok || WireTime(l.LastWatchedAt).After(WireTime(r.LastWatchedAt)) {
			s.dirty.Mark(l.ItemID)
		}
	}
}

// Subject returns the subject this session belongs to.
func (s *Session) Subject() string { return s.subject }

// Apply is the single reducer for playback and explicit deltas. It creates
// the record on first use and marks it dirty. It never flushes.
func (s *Session) Apply(d Delta) (Record, error) {
	d.ItemID = strings.TrimSpace(d.ItemID)
	if d.ItemID == "" {
		return Record{}, ErrNoItem
	}
	if d.At.IsZero() {
		d.At = s.now()
	}

	s.mu.Lock()
	prev, ok := s.store.Get(d.ItemID)
	if !ok {
		prev = Record{ItemID: d.ItemID}
	}
	next := Reduce(prev, d)
	s.store.Put(next)
	s.dirty.Mark(d.ItemID)
	s.mu.Unlock()

	if !prev.Completed && next.Completed && s.onComplete != nil {
		s.onComplete(s.subject, next)
	}
	return next, nil
}

// Record returns the record for itemID, or a zero record when the item has
// not been seen yet.
func (s *Session) Record(itemID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.store.Get(itemID)
	if !ok {
		return Record{ItemID: itemID}, false
	}
	return r, true
}

// Records returns a copy of every record.
func (s *Session) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Records()
}

// OverallPercent is the aggregate projection over the subject's catalog.
func (s *Session) OverallPercent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return OverallPercent(s.store.Records(), s.store.Order())
}

// Pending returns the number of records awaiting a remote write.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty.Len()
}

// IsDirty reports whether itemID is awaiting a remote write.
func (s *Session) IsDirty(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty.Contains(itemID)
}

// MarkComplete explicitly completes itemID and flushes immediately. A failed
// flush is logged and retried by the scheduler.
func (s *Session) MarkComplete(ctx context.Context, itemID string) (Record, error) {
	rec, err := s.Apply(Delta{ItemID: itemID, Kind: DeltaComplete})
	if err != nil {
		return Record{}, err
	}
	_, _ = s.Flush(ctx)
	return rec, nil
}

// Reset replaces every record of the subject with a fresh zero record, drops
// the local cache entry and marks the fresh records dirty so the reset
// reaches the remote store.
func (s *Session) Reset(ctx context.Context, subjectID string) error {
	if strings.TrimSpace(subjectID) != s.subject {
		return ErrSubjectMismatch
	}
	now := s.now()

	s.mu.Lock()
	catalog := s.catalog
	if len(catalog) == 0 {
		for _, r := range s.store.Records() {
			catalog = append(catalog, CatalogItem{ItemID: r.ItemID, DurationSeconds: r.DurationSeconds})
		}
	}
	fresh := NewStore(catalog)
	s.dirty.Reset()
	for _, r := range fresh.Records() {
		r.LastWatchedAt = now
		fresh.Put(r.normalized())
		s.dirty.Mark(r.ItemID)
	}
	s.store = fresh
	s.mu.Unlock()

	if s.local != nil {
		if err := s.local.Delete(ctx, CacheKey(s.subject)); err != nil {
			s.log.Warn("local cache delete failed during reset", zap.Error(err))
		}
	}
	_, _ = s.Flush(ctx)
	return nil
}

// Flush writes the records dirty at flush start to the remote store in one
// batch and mirrors the whole store to the local cache. A flush requested
// while another is in flight is coalesced. On remote failure every dirty id
// stays dirty for the next attempt.
func (s *Session) Flush(ctx context.Context) (FlushResult, error) {
	if !s.flushing.CompareAndSwap(false, true) {
		metrics.RecordFlush("coalesced")
		return FlushResult{Coalesced: true}, nil
	}
	defer s.flushing.Store(false)

	s.mu.Lock()
	snap := s.dirty.Snapshot()
	batch := make([]WireRecord, 0, snap.Len())
	for _, id := range snap.IDs() {
		if r, ok := s.store.Get(id); ok {
			batch = append(batch, r.ToWire(s.subject))
		}
	}
	s.mu.Unlock()

	if snap.Len() == 0 {
		metrics.RecordFlush("empty")
		return FlushResult{}, nil
	}

	res := FlushResult{Attempted: len(batch)}
	uctx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	err := s.remote.Upsert(uctx, batch)
	cancel()
	if err != nil {
		s.log.Warn("progress flush failed, will retry", zap.Int("records", len(batch)), zap.Error(err))
		metrics.RecordFlush("failure")
		err = fmt.Errorf("flush %d records: %w", len(batch), err)
	} else {
		s.mu.Lock()
		s.dirty.Clear(snap)
		s.mu.Unlock()
		res.Written = len(batch)
		metrics.RecordFlush("success")
		metrics.AddRecordsFlushed(len(batch))
	}

	s.mu.Lock()
	metrics.ObserveDirtyRecords(s.dirty.Len())
	s.mu.Unlock()

	res.Mirrored = s.mirror(ctx)
	return res, err
}

func (s *Session) mirror(ctx context.Context) bool {
	if s.local == nil {
		return false
	}
	s.mu.Lock()
	env := cacheEnvelope{SubjectID: s.subject, SavedAt: s.now(), Records: s.store.Records()}
	s.mu.Unlock()

	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Warn("local cache encode failed", zap.Error(err))
		return false
	}
	if err := s.local.Set(ctx, CacheKey(s.subject), raw); err != nil {
		s.log.Warn("local cache write failed", zap.Error(err))
		return false
	}
	return true
}
