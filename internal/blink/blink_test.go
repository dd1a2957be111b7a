package blink

import (
	"math/rand"
	"testing"
)

func feed(c *Counter, ratios []float64) []uint64 {
	counts := make([]uint64, 0, len(ratios))
	for _, r := range ratios {
		c.Observe(r, true)
		counts = append(counts, c.State().Count)
	}
	return counts
}

func equalCounts(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCounterSequences(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		ratios []float64
		want   []uint64
	}{
		{
			name:   "RisingEdgeWithCooldown",
			cfg:    Config{Threshold: 0.25, Debounce: 1, Cooldown: 3},
			ratios: []float64{0.30, 0.10, 0.30, 0.30, 0.30, 0.10, 0.30},
			want:   []uint64{0, 0, 1, 1, 1, 1, 2},
		},
		{
			name:   "CooldownSuppressesSecondBlink",
			cfg:    Config{Threshold: 0.25, Debounce: 1, Cooldown: 3},
			ratios: []float64{0.1, 0.3, 0.1, 0.3},
			want:   []uint64{0, 1, 1, 1},
		},
		{
			name:   "LongClosureCountsOnce",
			cfg:    Config{Threshold: 0.25, Debounce: 1, Cooldown: 0},
			ratios: []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.3, 0.3},
			want:   []uint64{0, 0, 0, 0, 0, 1, 1},
		},
		{
			name:   "DebounceRejectsShortClosure",
			cfg:    Config{Threshold: 0.21, Debounce: 2, Cooldown: 0},
			ratios: []float64{0.1, 0.3, 0.1, 0.1, 0.3},
			want:   []uint64{0, 0, 0, 0, 1},
		},
		{
			name:   "ThresholdIsInclusiveOpen",
			cfg:    Config{Threshold: 0.25, Debounce: 1, Cooldown: 0},
			ratios: []float64{0.1, 0.25},
			want:   []uint64{0, 1},
		},
		{
			// A closure that never reopens is not a blink.
			name:   "ClosedAtEndIsNotCounted",
			cfg:    Config{Threshold: 0.25, Debounce: 1, Cooldown: 0},
			ratios: []float64{0.3, 0.1, 0.1, 0.1},
			want:   []uint64{0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feed(NewCounter(tt.cfg), tt.ratios)
			if !equalCounts(got, tt.want) {
				t.Errorf("counts = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoDoubleCount(t *testing.T) {
	c := NewCounter(Config{Threshold: 0.25, Debounce: 1, Cooldown: 3})
	feed(c, []float64{0.1, 0.3})
	if got := c.State().Count; got != 1 {
		t.Fatalf("count after first blink = %d, want 1", got)
	}
	feed(c, []float64{0.1, 0.3})
	if got := c.State().Count; got != 1 {
		t.Errorf("count after blink inside cooldown = %d, want 1", got)
	}
}

func TestNeutralFrameOnlyTicksCooldown(t *testing.T) {
	cfg := Config{Threshold: 0.25, Debounce: 1, Cooldown: 3}
	s := State{FrameCounter: 2, CooldownRemaining: 2, Count: 5}

	next, registered := Step(cfg, s, 0, false)
	if registered {
		t.Error("neutral frame registered a blink")
	}
	want := State{FrameCounter: 2, CooldownRemaining: 1, Count: 5}
	if next != want {
		t.Errorf("Step(neutral) = %+v, want %+v", next, want)
	}
}

func TestFrameCounterResetsOnReopen(t *testing.T) {
	cfg := Config{Threshold: 0.25, Debounce: 5, Cooldown: 0}
	s := State{FrameCounter: 3}
	next, registered := Step(cfg, s, 0.3, true)
	if registered {
		t.Error("closure shorter than debounce registered")
	}
	if next.FrameCounter != 0 {
		t.Errorf("FrameCounter = %d, want 0", next.FrameCounter)
	}
}

func TestReset(t *testing.T) {
	c := NewCounter(DefaultConfig())
	feed(c, []float64{0.1, 0.3, 0.1})
	c.Reset()
	if c.State() != (State{}) {
		t.Errorf("State after Reset = %+v", c.State())
	}
}

// TestStepRegistersOnlyOnQualifiedRisingEdge replays random ratio streams
// and checks every increment against the policy.
func TestStepRegistersOnlyOnQualifiedRisingEdge(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cfg := Config{Threshold: 0.25, Debounce: 2, Cooldown: 3}

	for run := 0; run < 200; run++ {
		var s State
		closedRun := uint32(0)
		for i := 0; i < 100; i++ {
			ratio := rng.Float64() * 0.5
			present := rng.Intn(10) != 0

			cooldownAfterTick := s.CooldownRemaining
			if cooldownAfterTick > 0 {
				cooldownAfterTick--
			}

			prev := s
			var registered bool
			s, registered = Step(cfg, s, ratio, present)

			if s.Count < prev.Count {
				t.Fatalf("run %d frame %d: count decreased %d -> %d", run, i, prev.Count, s.Count)
			}
			if s.CooldownRemaining > prev.CooldownRemaining && !registered {
				t.Fatalf("run %d frame %d: cooldown grew without a blink", run, i)
			}

			qualified := present && ratio >= cfg.Threshold && closedRun >= cfg.Debounce && cooldownAfterTick == 0
			if registered != qualified {
				t.Fatalf("run %d frame %d: registered=%v, want %v (ratio=%.3f closed=%d cooldown=%d)",
					run, i, registered, qualified, ratio, closedRun, cooldownAfterTick)
			}

			if present {
				if ratio < cfg.Threshold {
					closedRun++
				} else {
					closedRun = 0
				}
			}
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := (Config{Threshold: 0, Debounce: 1}).Validate(); err == nil {
		t.Error("zero threshold accepted")
	}
	if err := (Config{Threshold: 0.2, Debounce: 0}).Validate(); err == nil {
		t.Error("zero debounce accepted")
	}
}
