package progress

import "math"

// CompletedThreshold is the watch ratio at which a lecture counts as completed.
const CompletedThreshold = 0.95

// Outcome is the derived completion state of a record.
type Outcome struct {
	Percent   int
	Completed bool
}

// Derive maps watched seconds and an optional duration to a clamped percent
// and a completed flag. The result is never less complete than completedBefore.
func Derive(watched float64, duration *float64, explicit, completedBefore bool) Outcome {
	if explicit {
		return Outcome{Percent: 100, Completed: true}
	}
	d, ok := KnownDuration(duration)
	if !ok {
		if completedBefore {
			return Outcome{Percent: 100, Completed: true}
		}
		return Outcome{}
	}
	ratio := sanitizeSeconds(watched) / d
	if ratio > 1 {
		ratio = 1
	}
	return Outcome{
		Percent:   clampPercent(int(math.Round(ratio * 100))),
		Completed: completedBefore || ratio >= CompletedThreshold,
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
