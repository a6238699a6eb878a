package progress

// Reconcile merges the local cache and the remote store into the initial
// store for a session. For every catalog item the fresher record wins (ties
// go to remote), duration prefers the remote numeric value, and percent is
// always recomputed. Records outside the catalog are kept.
func Reconcile(local, remote []Record, catalog []CatalogItem) *Store {
	localByID := indexRecords(local)
	remoteByID := indexRecords(remote)

	store := NewStore(catalog)
	for _, it := range catalog {
		if it.ItemID == "" {
			continue
		}
		l, hasL := localByID[it.ItemID]
		r, hasR := remoteByID[it.ItemID]
		store.Put(merge(it, l, hasL, r, hasR))
	}

	for _, src := range []map[string]Record{remoteByID, localByID} {
		for id := range src {
			if _, ok := store.Get(id); ok {
				continue
			}
			l, hasL := localByID[id]
			r, hasR := remoteByID[id]
			store.Put(merge(CatalogItem{ItemID: id}, l, hasL, r, hasR))
		}
	}
	return store
}

func merge(item CatalogItem, local Record, hasLocal bool, remote Record, hasRemote bool) Record {
	var out Record
	switch {
	case hasLocal && hasRemote:
		out = remote
		if local.LastWatchedAt.After(remote.LastWatchedAt) {
			out = local
		}
		out.Completed = local.Completed || remote.Completed
	case hasRemote:
		out = remote
	case hasLocal:
		out = local
	default:
		out = Record{}
	}
	out.ItemID = item.ItemID

	switch {
	case hasRemote && isKnown(remote.DurationSeconds):
		out.DurationSeconds = durationCopy(remote.DurationSeconds)
	case hasLocal && isKnown(local.DurationSeconds):
		out.DurationSeconds = durationCopy(local.DurationSeconds)
	default:
		out.DurationSeconds = durationCopy(item.DurationSeconds)
	}
	return out.normalized()
}

func indexRecords(records []Record) map[string]Record {
	out := make(map[string]Record, len(records))
	for _, r := range records {
		if r.ItemID == "" {
			continue
		}
		if prev, ok := out[r.ItemID]; ok && !r.LastWatchedAt.After(prev.LastWatchedAt) {
			continue
		}
		out[r.ItemID] = r
	}
	return out
}

func isKnown(d *float64) bool {
	_, ok := KnownDuration(d)
	return ok
}
