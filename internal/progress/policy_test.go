package progress

import (
	"math"
	"testing"
)

func TestDerive(t *testing.T) {
	cases := []struct {
		name     string
		watched  float64
		duration *float64
		explicit bool
		before   bool
		want     Outcome
	}{
		{"explicit wins", 0, nil, true, false, Outcome{100, true}},
		{"unknown duration", 50, nil, false, false, Outcome{0, false}},
		{"unknown duration completed before", 50, nil, false, true, Outcome{100, true}},
		{"zero duration is unknown", 50, ptr(0), false, false, Outcome{0, false}},
		{"negative duration is unknown", 50, ptr(-3), false, false, Outcome{0, false}},
		{"nan duration is unknown", 50, ptr(math.NaN()), false, false, Outcome{0, false}},
		{"half way", 60, ptr(120), false, false, Outcome{50, false}},
		{"rounds", 1, ptr(3), false, false, Outcome{33, false}},
		{"threshold", 95, ptr(100), false, false, Outcome{95, true}},
		{"just below threshold", 94.9, ptr(100), false, false, Outcome{95, false}},
		{"past the end clamps", 500, ptr(100), false, false, Outcome{100, true}},
		{"negative watched clamps", -10, ptr(100), false, false, Outcome{0, false}},
		{"completed carried forward", 10, ptr(100), false, true, Outcome{10, true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Derive(tc.watched, tc.duration, tc.explicit, tc.before)
			if got != tc.want {
				t.Fatalf("Derive(%v, %v, %v, %v) = %+v, want %+v", tc.watched, tc.duration, tc.explicit, tc.before, got, tc.want)
			}
		})
	}
}

func TestDerive_PercentAlwaysClamped(t *testing.T) {
	watched := []float64{-1e9, -1, 0, 0.4, 1, 59.5, 99.9, 100, 1e9, math.Inf(1), math.NaN()}
	durations := []*float64{nil, ptr(0), ptr(-1), ptr(0.001), ptr(1), ptr(100), ptr(math.Inf(1))}
	for _, w := range watched {
		for _, d := range durations {
			for _, explicit := range []bool{false, true} {
				for _, before := range []bool{false, true} {
					got := Derive(w, d, explicit, before)
					if got.Percent < 0 || got.Percent > 100 {
						t.Fatalf("Derive(%v, %v) percent %d out of range", w, d, got.Percent)
					}
				}
			}
		}
	}
}

func TestDerive_CompletionNeverRegresses(t *testing.T) {
	d := ptr(100)
	out := Derive(96, d, false, false)
	if !out.Completed {
		t.Fatal("expected completed at 96%")
	}
	for _, w := range []float64{90, 50, 10, 0} {
		out = Derive(w, d, false, out.Completed)
		if !out.Completed {
			t.Fatalf("completion regressed at watched=%v", w)
		}
	}
	if out = Derive(0, nil, false, true); !out.Completed {
		t.Fatal("completion regressed when duration became unknown")
	}
}

func ptr(v float64) *float64 { return &v }
