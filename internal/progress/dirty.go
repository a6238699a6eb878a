package progress

import "sort"

// DirtySet tracks item ids whose records changed since the last successful
// remote write. Each mark bumps a per-id version so that clearing a snapshot
// leaves ids that were marked again after the snapshot was taken.
type DirtySet struct {
	versions map[string]uint64
	seq      uint64
}

// DirtySnapshot is the set of ids (with their versions) taken at flush start.
type DirtySnapshot struct {
	versions map[string]uint64
}

// NewDirtySet returns an empty set.
func NewDirtySet() *DirtySet {
	return &DirtySet{versions: make(map[string]uint64)}
}

// Mark adds itemID to the set.
func (d *DirtySet) Mark(itemID string) {
	d.seq++
	d.versions[itemID] = d.seq
}

// Contains reports whether itemID is pending a remote write.
func (d *DirtySet) Contains(itemID string) bool {
	_, ok := d.versions[itemID]
	return ok
}

// Len returns the number of pending ids.
func (d *DirtySet) Len() int { return len(d.versions) }

// Snapshot captures the current membership without clearing it.
func (d *DirtySet) Snapshot() DirtySnapshot {
	s := DirtySnapshot{versions: make(map[string]uint64, len(d.versions))}
	for id, v := range d.versions {
		s.versions[id] = v
	}
	return s
}

// Clear removes exactly the ids of snap that have not been marked since.
func (d *DirtySet) Clear(snap DirtySnapshot) {
	for id, v := range snap.versions {
		if cur, ok := d.versions[id]; ok && cur == v {
			delete(d.versions, id)
		}
	}
}

// Reset empties the set.
func (d *DirtySet) Reset() {
	d.versions = make(map[string]uint64)
}

// IDs returns the snapshot ids sorted.
func (s DirtySnapshot) IDs() []string {
	out := make([]string, 0, len(s.versions))
	for id := range s.versions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of ids in the snapshot.
func (s DirtySnapshot) Len() int { return len(s.versions) }
