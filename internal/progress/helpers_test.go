package progress

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errNetwork = errors.New("network down")

// fakeRemote is an idempotent in-memory store of record with fault injection.
type fakeRemote struct {
	mu             sync.Mutex
	rows           map[string]WireRecord
	upserts        int
	batches        [][]WireRecord
	failNext       int
	failAfterApply int
	queryErr       error
	queryRows      []WireRecord
	started        chan struct{}
	block          chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: make(map[string]WireRecord)}
}

func (f *fakeRemote) Upsert(ctx context.Context, records []WireRecord) error {
	f.mu.Lock()
	f.upserts++
	f.batches = append(f.batches, append([]WireRecord(nil), records...))
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return errNetwork
	}
	started, block := f.started, f.block
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		k := r.SubjectID + "\x00" + r.ItemID
		if cur, ok := f.rows[k]; ok && cur.LastWatchedAt.After(r.LastWatchedAt) {
			continue
		}
		f.rows[k] = r
	}
	if f.failAfterApply > 0 {
		f.failAfterApply--
		return errNetwork
	}
	return nil
}

func (f *fakeRemote) Query(_ context.Context, subjectID string, itemIDs []string) ([]WireRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryRows != nil {
		return append([]WireRecord(nil), f.queryRows...), nil
	}
	want := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = struct{}{}
	}
	var out []WireRecord
	for _, r := range f.rows {
		if r.SubjectID != subjectID {
			continue
		}
		if _, ok := want[r.ItemID]; ok || len(want) == 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) row(subjectID, itemID string) (WireRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[subjectID+"\x00"+itemID]
	return r, ok
}

func (f *fakeRemote) snapshot() map[string]WireRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]WireRecord, len(f.rows))
	for k, v := range f.rows {
		out[k] = v
	}
	return out
}

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type staticCatalog []CatalogItem

func (c staticCatalog) Items(context.Context, string) ([]CatalogItem, error) {
	return append([]CatalogItem(nil), c...), nil
}

type fakePlayer struct {
	mu    sync.Mutex
	seeks []SeekCommand
}

func (p *fakePlayer) Seek(_ context.Context, cmd SeekCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, cmd)
	return nil
}

type countingRequester struct {
	mu sync.Mutex
	n  int
}

func (c *countingRequester) RequestFlush() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingRequester) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

const testSubject = "9b2f6a8e-4c1d-4e0b-9a55-0f8c2d7e1a33"

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func openTestSession(remote *fakeRemote, cache *memCache, catalog staticCatalog) (*Session, error) {
	cfg := SessionConfig{
		SubjectID: testSubject,
		Remote:    remote,
		Now:       fixedClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
	}
	if cache != nil {
		cfg.Local = cache
	}
	if catalog != nil {
		cfg.Catalog = catalog
	}
	return Open(context.Background(), cfg)
}
