package progress

import "time"

// DeltaKind identifies what a playback delta changes.
type DeltaKind int

const (
	// DeltaPosition reports a playhead position.
	DeltaPosition DeltaKind = iota
	// DeltaDuration reports the media duration once metadata is loaded.
	DeltaDuration
	// DeltaEnded reports that playback reached the end of the media.
	DeltaEnded
	// DeltaComplete is an explicit mark-complete action.
	DeltaComplete
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaPosition:
		return "position"
	case DeltaDuration:
		return "duration"
	case DeltaEnded:
		return "ended"
	case DeltaComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Delta is a normalized change to one record produced by an event source.
type Delta struct {
	ItemID   string
	Kind     DeltaKind
	Position float64
	Duration float64
	At       time.Time
}

// Reduce applies d to r and returns the new record. It is pure.
func Reduce(r Record, d Delta) Record {
	r.ItemID = d.ItemID
	explicit := false

	switch d.Kind {
	case DeltaPosition:
		r.WatchedSeconds = maxSeconds(r.WatchedSeconds, d.Position)
	case DeltaDuration:
		if v := Seconds(d.Duration); v != nil {
			r.DurationSeconds = v
		}
	case DeltaEnded:
		r.WatchedSeconds = maxSeconds(r.WatchedSeconds, d.Position)
		explicit = true
	case DeltaComplete:
		explicit = true
	}

	if !d.At.IsZero() {
		r.LastWatchedAt = WireTime(d.At)
	}
	r.WatchedSeconds = sanitizeSeconds(r.WatchedSeconds)
	out := Derive(r.WatchedSeconds, r.DurationSeconds, explicit, r.Completed)
	r.Percent = out.Percent
	r.Completed = out.Completed
	return r
}

func maxSeconds(cur, next float64) float64 {
	next = sanitizeSeconds(next)
	if next > cur {
		return next
	}
	return cur
}
