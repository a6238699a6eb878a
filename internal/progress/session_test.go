package progress

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestOpen_RequiresSubject(t *testing.T) {
	_, err := Open(context.Background(), SessionConfig{SubjectID: "  ", Remote: newFakeRemote()})
	if !errors.Is(err, ErrNoSubject) {
		t.Fatalf("expected ErrNoSubject, got %v", err)
	}
}

func TestOpen_RequiresRemote(t *testing.T) {
	if _, err := Open(context.Background(), SessionConfig{SubjectID: testSubject}); err == nil {
		t.Fatal("expected error without remote store")
	}
}

func TestOpen_SeedsCatalog(t *testing.T) {
	s, err := openTestSession(newFakeRemote(), nil, staticCatalog{{ItemID: "lec-1", DurationSeconds: ptr(120)}, {ItemID: "lec-2"}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if n := len(s.Records()); n != 2 {
		t.Fatalf("expected 2 records, got %d", n)
	}
	r, ok := s.Record("lec-1")
	if !ok || r.DurationSeconds == nil || *r.DurationSeconds != 120 {
		t.Fatalf("expected seeded lec-1 with duration, got %+v", r)
	}
	if s.Pending() != 0 {
		t.Fatalf("seeded records must not be dirty, got %d", s.Pending())
	}
}

func TestOpen_RemoteFailureFallsBackToLocal(t *testing.T) {
	cache := newMemCache()
	env := cacheEnvelope{SubjectID: testSubject, Records: []Record{
		{ItemID: "lec-1", WatchedSeconds: 45, DurationSeconds: ptr(90), LastWatchedAt: t1},
	}}
	raw, _ := json.Marshal(env)
	cache.data[CacheKey(testSubject)] = raw

	remote := newFakeRemote()
	remote.queryErr = errNetwork

	s, err := openTestSession(remote, cache, staticCatalog{{ItemID: "lec-1"}})
	if err != nil {
		t.Fatalf("open must not fail on remote error: %v", err)
	}
	r, _ := s.Record("lec-1")
	if r.WatchedSeconds != 45 || r.Percent != 50 {
		t.Fatalf("expected local record, got %+v", r)
	}
	if !s.IsDirty("lec-1") {
		t.Fatal("local progress the remote has not confirmed must be dirty")
	}
}

func TestOpen_CorruptLocalCacheIsDiscarded(t *testing.T) {
	cache := newMemCache()
	cache.data[CacheKey(testSubject)] = []byte("{not json")

	remote := newFakeRemote()
	remote.rows[testSubject+"\x00lec-1"] = WireRecord{SubjectID: testSubject, ItemID: "lec-1", WatchedSeconds: 30, DurationSeconds: ptr(60), LastWatchedAt: t1}

	s, err := openTestSession(remote, cache, staticCatalog{{ItemID: "lec-1"}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if r, _ := s.Record("lec-1"); r.WatchedSeconds != 30 {
		t.Fatalf("expected remote record, got %+v", r)
	}
	if _, ok := cache.data[CacheKey(testSubject)]; ok {
		t.Fatal("expected corrupt entry to be deleted")
	}
}

func TestOpen_LocalNewerThanRemoteIsDirty(t *testing.T) {
	cache := newMemCache()
	raw, _ := json.Marshal(cacheEnvelope{SubjectID: testSubject, Records: []Record{
		{ItemID: "lec-1", WatchedSeconds: 80, LastWatchedAt: t2},
		{ItemID: "lec-2", WatchedSeconds: 10, LastWatchedAt: t1},
	}})
	cache.data[CacheKey(testSubject)] = raw

	remote := newFakeRemote()
	remote.rows[testSubject+"\x00lec-1"] = WireRecord{SubjectID: testSubject, ItemID: "lec-1", WatchedSeconds: 20, LastWatchedAt: t1}
	remote.rows[testSubject+"\x00lec-2"] = WireRecord{SubjectID: testSubject, ItemID: "lec-2", WatchedSeconds: 10, LastWatchedAt: t1}

	s, err := openTestSession(remote, cache, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !s.IsDirty("lec-1") {
		t.Fatal("expected fresher local record to be dirty")
	}
	if s.IsDirty("lec-2") {
		t.Fatal("expected record already on the remote to be clean")
	}
}

// microsRemote stores last_watched_at at microsecond resolution like timestamptz.
type microsRemote struct {
	*fakeRemote
}

func (m microsRemote) Upsert(ctx context.Context, records []WireRecord) error {
	out := make([]WireRecord, len(records))
	for i, r := range records {
		r.LastWatchedAt = r.LastWatchedAt.Truncate(time.Microsecond)
		out[i] = r
	}
	return m.fakeRemote.Upsert(ctx, out)
}

func TestOpen_SyncedRecordIsNotRewrittenOnReopen(t *testing.T) {
	remote := microsRemote{newFakeRemote()}
	cache := newMemCache()
	at := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	cfg := SessionConfig{
		SubjectID: testSubject,
		Remote:    remote,
		Local:     cache,
		Now:       func() time.Time { return at },
	}

	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec, _ := s.Apply(Delta{ItemID: "lec-1", Kind: DeltaPosition, Position: 40})
	if rec.LastWatchedAt.Nanosecond()%1000 != 0 {
		t.Fatalf("expected microsecond timestamp, got %v", rec.LastWatchedAt)
	}
	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	written := remote.upserts

	again, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.Pending() != 0 {
		t.Fatalf("expected nothing pending after reopen, got %d", again.Pending())
	}
	res, _ := again.Flush(context.Background())
	if res.Attempted != 0 || remote.upserts != written {
		t.Fatalf("synced record rewritten on reopen: attempted=%d upserts=%d", res.Attempted, remote.upserts-written)
	}
}

func TestOpen_LegacyNanosecondCacheIsNotRewritten(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	cache := newMemCache()
	raw, _ := json.Marshal(cacheEnvelope{SubjectID: testSubject, Records: []Record{
		{ItemID: "lec-1", WatchedSeconds: 40, LastWatchedAt: at},
	}})
	cache.data[CacheKey(testSubject)] = raw

	remote := newFakeRemote()
	remote.rows[testSubject+"\x00lec-1"] = WireRecord{
		SubjectID: testSubject, ItemID: "lec-1", WatchedSeconds: 40,
		LastWatchedAt: at.Truncate(time.Microsecond),
	}

	s, err := openTestSession(remote, cache, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.IsDirty("lec-1") {
		t.Fatal("expected record equal at store precision to be clean")
	}
}

func TestFlush_RetryAfterFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.failNext = 1
	s, _ := openTestSession(remote, newMemCache(), staticCatalog{{ItemID: "lec-1", DurationSeconds: ptr(100)}})

	if _, err := s.Apply(Delta{ItemID: "lec-1", Kind: DeltaPosition, Position: 40.6}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := s.Flush(context.Background()); err == nil {
		t.Fatal("expected first flush to fail")
	}
	if !s.IsDirty("lec-1") {
		t.Fatal("item must stay dirty after a failed flush")
	}
	if _, ok := remote.row(testSubject, "lec-1"); ok {
		t.Fatal("remote must be empty after failed flush")
	}

	res, err := s.Flush(context.Background())
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if res.Written != 1 {
		t.Fatalf("expected 1 record written, got %d", res.Written)
	}
	if s.IsDirty("lec-1") {
		t.Fatal("item must be clean after a successful flush")
	}
	row, ok := remote.row(testSubject, "lec-1")
	if !ok || row.WatchedSeconds != 41 {
		t.Fatalf("expected watched rounded to 41, got %+v", row)
	}
}

func TestFlush_RepeatedBatchIsIdempotent(t *testing.T) {
	once := newFakeRemote()
	twice := newFakeRemote()
	twice.failAfterApply = 1

	var states []map[string]WireRecord
	for _, remote := range []*fakeRemote{once, twice} {
		s, _ := openTestSession(remote, nil, staticCatalog{{ItemID: "lec-1", DurationSeconds: ptr(100)}})
		_, _ = s.Apply(Delta{ItemID: "lec-1", Kind: DeltaPosition, Position: 50})
		_, _ = s.Apply(Delta{ItemID: "lec-2", Kind: DeltaEnded, Position: 12})
		_, _ = s.Flush(context.Background())
		if remote == twice {
			if s.Pending() != 2 {
				t.Fatalf("expected lost ack to keep records dirty, got %d", s.Pending())
			}
			if _, err := s.Flush(context.Background()); err != nil {
				t.Fatalf("retry flush: %v", err)
			}
		}
		states = append(states, remote.snapshot())
	}

	if len(states[0]) != len(states[1]) {
		t.Fatalf("remote states differ: %v vs %v", states[0], states[1])
	}
	for k, a := range states[0] {
		b := states[1][k]
		if a.WatchedSeconds != b.WatchedSeconds || a.Completed != b.Completed || !a.LastWatchedAt.Equal(b.LastWatchedAt) {
			t.Fatalf("remote row %q differs: %+v vs %+v", k, a, b)
		}
	}
	if len(twice.batches) != 2 {
		t.Fatalf("expected 2 upsert calls, got %d", len(twice.batches))
	}
}

func TestFlush_RemarkDuringFlightStaysDirty(t *testing.T) {
	remote := newFakeRemote()
	remote.started = make(chan struct{}, 1)
	remote.block = make(chan struct{})
	s, _ := openTestSession(remote, nil, nil)
	_, _ = s.Apply(Delta{ItemID: "lec-1", Kind: DeltaPosition, Position: 10})

	done := make(chan error, 1)
	go func() {
		_, err := s.Flush(context.Background())
		done <- err
	}()

	select {
	case <-remote.started:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not reach the remote")
	}

	res, err := s.Flush(context.Background())
	if err != nil || !res.Coalesced {
		t.Fatalf("expected overlapping flush to be coalesced, got %+v, %v", res, err)
	}

	_, _ = s.Apply(Delta{ItemID: "lec-1", Kind: DeltaPosition, Position: 20})
	_, _ = s.Apply(Delta{ItemID: "lec-2", Kind: DeltaPosition, Position: 5})
	close(remote.block)

	if err := <-done; err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !s.IsDirty("lec-1") || !s.IsDirty("lec-2") {
		t.Fatal("records changed mid-flush must stay dirty")
	}

	remote.mu.Lock()
	remote.started = nil
	remote.block = nil
	remote.mu.Unlock()
	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("follow-up flush: %v", err)
	}
	if row, _ := remote.row(testSubject, "lec-1"); row.WatchedSeconds != 20 {
		t.Fatalf("expected follow-up flush to write 20, got %+v", row)
	}
	if s.Pending() != 0 {
		t.Fatalf("expected clean set, got %d", s.Pending())
	}
}

func TestFlush_MirrorsLocalEvenWhenRemoteFails(t *testing.T) {
	remote := newFakeRemote()
	remote.failNext = 1
	cache := newMemCache()
	s, _ := openTestSession(remote, cache, nil)
	_, _ = s.Apply(Delta{ItemID: "lec-1", Kind: DeltaPosition, Position: 33})

	res, _ := s.Flush(context.Background())
	if !res.Mirrored {
		t.Fatal("expected local mirror after failed remote write")
	}
	var env cacheEnvelope
	if err := json.Unmarshal(cache.data[CacheKey(testSubject)], &env); err != nil {
		t.Fatalf("decode cache: %v", err)
	}
	if len(env.Records) != 1 || env.Records[0].WatchedSeconds != 33 {
		t.Fatalf("unexpected mirrored records %+v", env.Records)
	}
}

func TestFlush_EmptyIsNoop(t *testing.T) {
	remote := newFakeRemote()
	s, _ := openTestSession(remote, nil, staticCatalog{{ItemID: "lec-1"}})
	res, err := s.Flush(context.Background())
	if err != nil || res.Attempted != 0 {
		t.Fatalf("expected empty flush, got %+v, %v", res, err)
	}
	if remote.upserts != 0 {
		t.Fatalf("expected no remote call, got %d", remote.upserts)
	}
}

func TestFlush_TimeoutKeepsDirty(t *testing.T) {
	remote := newFakeRemote()
	remote.block = make(chan struct{})
	defer close(remote.block)

	s, err := Open(context.Background(), SessionConfig{
		SubjectID:    testSubject,
		Remote:       remote,
		FlushTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = s.Apply(Delta{ItemID: "lec-1", Kind: DeltaPosition, Position: 10})

	if _, err := s.Flush(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !s.IsDirty("lec-1") {
		t.Fatal("timed out flush must keep the record dirty")
	}
}

func TestMarkComplete(t *testing.T) {
	remote := newFakeRemote()
	var completed []string
	s, _ := Open(context.Background(), SessionConfig{
		SubjectID: testSubject,
		Remote:    remote,
		Catalog:   staticCatalog{{ItemID: "lec-1"}},
		OnComplete: func(_ string, r Record) {
			completed = append(completed, r.ItemID)
		},
	})

	rec, err := s.MarkComplete(context.Background(), "lec-1")
	if err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	if !rec.Completed || rec.Percent != 100 {
		t.Fatalf("expected {100 true}, got %+v", rec)
	}
	row, ok := remote.row(testSubject, "lec-1")
	if !ok || !row.Completed {
		t.Fatalf("expected completion flushed, got %+v", row)
	}
	_, _ = s.MarkComplete(context.Background(), "lec-1")
	if len(completed) != 1 {
		t.Fatalf("expected one completion callback, got %v", completed)
	}
	if _, err := s.MarkComplete(context.Background(), ""); !errors.Is(err, ErrNoItem) {
		t.Fatalf("expected ErrNoItem, got %v", err)
	}
}

func TestReset(t *testing.T) {
	remote := newFakeRemote()
	cache := newMemCache()
	s, _ := openTestSession(remote, cache, staticCatalog{{ItemID: "lec-1", DurationSeconds: ptr(60)}, {ItemID: "lec-2"}})
	_, _ = s.MarkComplete(context.Background(), "lec-1")

	if err := s.Reset(context.Background(), "someone-else"); !errors.Is(err, ErrSubjectMismatch) {
		t.Fatalf("expected ErrSubjectMismatch, got %v", err)
	}
	if err := s.Reset(context.Background(), testSubject); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for _, r := range s.Records() {
		if r.WatchedSeconds != 0 || r.Completed || r.Percent != 0 {
			t.Fatalf("expected zero record after reset, got %+v", r)
		}
	}
	if s.OverallPercent() != 0 {
		t.Fatalf("expected overall 0, got %d", s.OverallPercent())
	}
	row, ok := remote.row(testSubject, "lec-1")
	if !ok || row.Completed {
		t.Fatalf("expected reset written to remote, got %+v", row)
	}
	var env cacheEnvelope
	_ = json.Unmarshal(cache.data[CacheKey(testSubject)], &env)
	for _, r := range env.Records {
		if r.Completed {
			t.Fatalf("local cache still holds completed record %+v", r)
		}
	}
}

func TestOverallPercentAcrossCatalog(t *testing.T) {
	s, _ := openTestSession(newFakeRemote(), nil, staticCatalog{
		{ItemID: "lec-1", DurationSeconds: ptr(100)},
		{ItemID: "lec-2", DurationSeconds: ptr(100)},
	})
	_, _ = s.Apply(Delta{ItemID: "lec-1", Kind: DeltaPosition, Position: 50})
	_, _ = s.MarkComplete(context.Background(), "lec-2")
	if got := s.OverallPercent(); got != 75 {
		t.Fatalf("expected 75, got %d", got)
	}
}

func TestMarkComplete_PercentFollowsWatchedAfterReopen(t *testing.T) {
	remote := newFakeRemote()
	cache := newMemCache()
	catalog := staticCatalog{{ItemID: "lec-1", DurationSeconds: ptr(200)}}
	s, _ := openTestSession(remote, cache, catalog)

	rec, _ := s.MarkComplete(context.Background(), "lec-1")
	if rec.Percent != 100 || !rec.Completed {
		t.Fatalf("expected {100 true} on explicit completion, got %+v", rec)
	}

	again, _ := openTestSession(remote, cache, catalog)
	got, _ := again.Record("lec-1")
	if !got.Completed {
		t.Fatal("completion must survive a reopen")
	}
	if got.Percent != 0 {
		t.Fatalf("expected percent recomputed from watched seconds, got %d", got.Percent)
	}
}
