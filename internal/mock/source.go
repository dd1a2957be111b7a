package mock

import (
	"context"
	"math/rand"
	"sync"

	"github.com/blink-tracker/backend/internal/eye"
	"github.com/blink-tracker/backend/internal/tracker"
)

const (
	openRatio   = 0.31
	closedRatio = 0.12
)

// Pattern shapes the synthetic blink rhythm.
type Pattern string

const (
	// Steady blinks every ~3 seconds at 30 fps.
	Steady Pattern = "steady"
	// Burst alternates quick double blinks with long open stretches.
	Burst Pattern = "burst"
	// Drowsy has long closures and frequent face dropouts.
	Drowsy Pattern = "drowsy"
)

// Source replays a ratio script, or generates one from a Pattern.
type Source struct {
	mu      sync.Mutex
	script  []float64
	loop    bool
	pattern Pattern
	rng     *rand.Rand
	frame   int
}

// NewScript plays ratios once and then holds the last value. A negative
// ratio means no face in that frame. With loop set the script repeats.
func NewScript(ratios []float64, loop bool) *Source {
	return &Source{script: ratios, loop: loop}
}

// NewPattern generates an endless ratio stream.
func NewPattern(p Pattern, seed int64) *Source {
	return &Source{pattern: p, rng: rand.New(rand.NewSource(seed))}
}

func (s *Source) Detect(_ context.Context, frame tracker.Frame) (*eye.Landmarks, error) {
	s.mu.Lock()
	r := s.next()
	s.mu.Unlock()

	if r < 0 {
		return nil, nil
	}
	w, h := frame.Size()
	l := eye.FaceForRatio(r, w, h)
	return &l, nil
}

// next returns the ratio for the upcoming frame. Caller must hold s.mu.
func (s *Source) next() float64 {
	i := s.frame
	s.frame++

	if s.script != nil {
		if len(s.script) == 0 {
			return -1
		}
		if s.loop {
			return s.script[i%len(s.script)]
		}
		if i >= len(s.script) {
			return s.script[len(s.script)-1]
		}
		return s.script[i]
	}

	jitter := (s.rng.Float64() - 0.5) * 0.04
	switch s.pattern {
	case Burst:
		phase := i % 150
		if phase < 3 || (phase >= 8 && phase < 11) {
			return closedRatio + jitter
		}
	case Drowsy:
		phase := i % 120
		if phase < 12 {
			return closedRatio + jitter
		}
		if s.rng.Intn(20) == 0 {
			return -1
		}
	default:
		if i%90 < 3 {
			return closedRatio + jitter
		}
	}
	return openRatio + jitter
}
