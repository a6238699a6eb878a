// Package progress tracks how far a learner has advanced through a sequence of
// timed lectures and keeps that state in sync with a local cache and a remote
// store of record.
package progress

import (
	"math"
	"sort"
	"time"
)

// Record is the in-memory progress of a single lecture for one subject.
type Record struct {
	ItemID          string    `json:"item_id"`
	WatchedSeconds  float64   `json:"watched_seconds"`
	DurationSeconds *float64  `json:"duration_seconds"`
	Percent         int       `json:"percent"`
	Completed       bool      `json:"completed"`
	LastWatchedAt   time.Time `json:"last_watched_at"`
}

// WireRecord is the remote-shaped record exchanged with the store of record.
// WatchedSeconds is rounded to whole seconds.
type WireRecord struct {
	SubjectID       string    `json:"subject_id"`
	ItemID          string    `json:"item_id"`
	WatchedSeconds  int64     `json:"watched_seconds"`
	DurationSeconds *float64  `json:"duration_seconds"`
	Completed       bool      `json:"completed"`
	LastWatchedAt   time.Time `json:"last_watched_at"`
}

// CatalogItem is a lecture the subject is enrolled in.
type CatalogItem struct {
	ItemID          string   `json:"item_id"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// TimePrecision is the resolution of last_watched_at in the store of record.
// Timestamps are truncated to it so a record read back from the store
// compares equal to the in-memory copy that was written.
const TimePrecision = time.Microsecond

// WireTime returns t in UTC truncated to TimePrecision.
func WireTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimePrecision)
}

// KnownDuration reports the duration when it is positive and finite.
func KnownDuration(d *float64) (float64, bool) {
	if d == nil {
		return 0, false
	}
	v := *d
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// Seconds returns a pointer to v, or nil when v is not a usable duration.
func Seconds(v float64) *float64 {
	if _, ok := KnownDuration(&v); !ok {
		return nil
	}
	return &v
}

func sanitizeSeconds(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// ToWire converts r into the shape written to the store of record.
func (r Record) ToWire(subjectID string) WireRecord {
	w := WireRecord{
		SubjectID:      subjectID,
		ItemID:         r.ItemID,
		WatchedSeconds: int64(math.Round(sanitizeSeconds(r.WatchedSeconds))),
		Completed:      r.Completed,
		LastWatchedAt:  WireTime(r.LastWatchedAt),
	}
	if d, ok := KnownDuration(r.DurationSeconds); ok {
		w.DurationSeconds = &d
	}
	return w
}

// FromWire converts a remote record into a Record, substituting safe defaults
// for missing or negative fields. ok is false when the record has no item id.
func FromWire(w WireRecord) (Record, bool) {
	if w.ItemID == "" {
		return Record{}, false
	}
	watched := float64(w.WatchedSeconds)
	if watched < 0 {
		watched = 0
	}
	r := Record{
		ItemID:         w.ItemID,
		WatchedSeconds: watched,
		Completed:      w.Completed,
		LastWatchedAt:  w.LastWatchedAt,
	}
	if d, ok := KnownDuration(w.DurationSeconds); ok {
		r.DurationSeconds = &d
	}
	return r.normalized(), true
}

// normalized recomputes Percent from the seconds fields and clamps bad input.
func (r Record) normalized() Record {
	r.WatchedSeconds = sanitizeSeconds(r.WatchedSeconds)
	r.LastWatchedAt = WireTime(r.LastWatchedAt)
	if _, ok := KnownDuration(r.DurationSeconds); !ok {
		r.DurationSeconds = nil
	}
	out := Derive(r.WatchedSeconds, r.DurationSeconds, false, r.Completed)
	r.Percent = out.Percent
	r.Completed = out.Completed
	return r
}

// Store is the set of records for one subject. It is not safe for concurrent
// use; Session serializes access.
type Store struct {
	records map[string]Record
	order   []string
}

// NewStore returns an empty store ordered by the given catalog.
func NewStore(catalog []CatalogItem) *Store {
	s := &Store{records: make(map[string]Record, len(catalog))}
	for _, it := range catalog {
		if it.ItemID == "" {
			continue
		}
		if _, seen := s.records[it.ItemID]; seen {
			continue
		}
		s.order = append(s.order, it.ItemID)
		s.records[it.ItemID] = Record{ItemID: it.ItemID, DurationSeconds: durationCopy(it.DurationSeconds)}
	}
	return s
}

// Get returns the record for itemID.
func (s *Store) Get(itemID string) (Record, bool) {
	r, ok := s.records[itemID]
	return r, ok
}

// Put stores r, adding it to the store if it is new.
func (s *Store) Put(r Record) {
	s.records[r.ItemID] = r
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Order returns the catalog order the store was seeded with.
func (s *Store) Order() []string {
	return append([]string(nil), s.order...)
}

// Records returns a copy of every record, catalog items first in catalog
// order and any remaining records sorted by id.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.records))
	seen := make(map[string]struct{}, len(s.order))
	for _, id := range s.order {
		if r, ok := s.records[id]; ok {
			out = append(out, r)
			seen[id] = struct{}{}
		}
	}
	var extra []string
	for id := range s.records {
		if _, ok := seen[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out = append(out, s.records[id])
	}
	return out
}

func durationCopy(d *float64) *float64 {
	if v, ok := KnownDuration(d); ok {
		return &v
	}
	return nil
}
