// Package blink implements the debounced blink counter driven by a per-frame
// openness ratio.
//
// A closure starts counting frames once the ratio drops below the threshold.
// The blink is committed on the rising edge, the first frame back at or above
// the threshold, provided the eye stayed closed for at least Debounce frames
// and no cooldown is pending. A closure still in progress when the stream
// ends is never counted.
package blink

import "fmt"

// Config holds the detection policy.
type Config struct {
	// Threshold is the openness ratio below which the eye counts as closed.
	Threshold float64
	// Debounce is the minimum number of consecutive closed frames.
	Debounce uint32
	// Cooldown is the number of frames after a blink during which no new
	// blink may register.
	Cooldown uint32
}

func DefaultConfig() Config {
	return Config{
		Threshold: 0.25,
		Debounce:  1,
		Cooldown:  3,
	}
}

func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("blink threshold must be positive, got %v", c.Threshold)
	}
	if c.Debounce == 0 {
		return fmt.Errorf("blink debounce must be at least 1 frame")
	}
	return nil
}

// State is the mutable part of the machine.
type State struct {
	FrameCounter      uint32 `json:"frame_counter"`
	CooldownRemaining uint32 `json:"cooldown_remaining"`
	Count             uint64 `json:"blink_count"`
}

// Step advances s by one frame. present is false when no face was found,
// in which case only the cooldown ticks. It reports whether a blink was
// registered on this frame.
func Step(cfg Config, s State, ratio float64, present bool) (State, bool) {
	if s.CooldownRemaining > 0 {
		s.CooldownRemaining--
	}
	if !present {
		return s, false
	}

	if ratio < cfg.Threshold {
		s.FrameCounter++
		return s, false
	}

	registered := false
	if s.FrameCounter >= cfg.Debounce && s.CooldownRemaining == 0 {
		s.Count++
		s.CooldownRemaining = cfg.Cooldown
		registered = true
	}
	s.FrameCounter = 0
	return s, registered
}

// Counter wraps Step with its own state. It is not safe for concurrent use.
type Counter struct {
	cfg   Config
	state State
}

func NewCounter(cfg Config) *Counter {
	return &Counter{cfg: cfg}
}

// Observe feeds one frame into the counter.
func (c *Counter) Observe(ratio float64, present bool) bool {
	var registered bool
	c.state, registered = Step(c.cfg, c.state, ratio, present)
	return registered
}

func (c *Counter) State() State {
	return c.state
}

func (c *Counter) Config() Config {
	return c.cfg
}

// Reset returns the counter to its zero state.
func (c *Counter) Reset() {
	c.state = State{}
}
