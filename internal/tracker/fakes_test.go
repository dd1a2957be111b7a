package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blink-tracker/backend/internal/eye"
)

const testFrameSize = 1000

// noFace marks a frame in which the source finds nobody.
var noFace = math.NaN()

type fakeFrame struct {
	seq    int
	closed atomic.Bool
}

func (f *fakeFrame) Size() (int, int) { return testFrameSize, testFrameSize }

func (f *fakeFrame) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeDevice serves frames until limit is reached; limit < 0 never ends.
type fakeDevice struct {
	limit    int
	reads    atomic.Int64
	releases atomic.Int64
	readErr  error
}

func (d *fakeDevice) Read() (Frame, error) {
	if d.readErr != nil {
		return nil, d.readErr
	}
	n := int(d.reads.Add(1))
	if d.limit >= 0 && n > d.limit {
		return nil, ErrCaptureEnded
	}
	return &fakeFrame{seq: n}, nil
}

func (d *fakeDevice) Release() error {
	d.releases.Add(1)
	return nil
}

// fakeOpener hands out fakeDevices. When gate is set, Open signals entered
// and blocks until gate is closed; honorCtx makes it return early on
// cancellation.
type fakeOpener struct {
	mu       sync.Mutex
	limit    int
	err      error
	devices  []*fakeDevice
	cfgs     []CaptureConfig
	gate     chan struct{}
	entered  chan struct{}
	honorCtx bool
}

func (o *fakeOpener) Open(ctx context.Context, cfg CaptureConfig) (Device, error) {
	if o.gate != nil {
		close(o.entered)
		if o.honorCtx {
			select {
			case <-o.gate:
			case <-ctx.Done():
				return nil, fmt.Errorf("open camera: %w", ctx.Err())
			}
		} else {
			<-o.gate
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfgs = append(o.cfgs, cfg)
	if o.err != nil {
		return nil, o.err
	}
	d := &fakeDevice{limit: o.limit}
	o.devices = append(o.devices, d)
	return d, nil
}

func (o *fakeOpener) device(i int) *fakeDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.devices) {
		return nil
	}
	return o.devices[i]
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.devices)
}

// scriptedSource plays back a ratio per frame. Past the end of the script
// the last ratio repeats. hook, if set, runs on every call with the 1-based
// call number.
type scriptedSource struct {
	ratios []float64
	calls  atomic.Int64
	hook   func(n int)
	err    error
	panics bool
}

func (s *scriptedSource) Detect(_ context.Context, frame Frame) (*eye.Landmarks, error) {
	n := int(s.calls.Add(1))
	if s.hook != nil {
		s.hook(n)
	}
	if s.panics {
		panic("detector exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.ratios) == 0 {
		return nil, nil
	}
	i := n - 1
	if i >= len(s.ratios) {
		i = len(s.ratios) - 1
	}
	r := s.ratios[i]
	if math.IsNaN(r) {
		return nil, nil
	}
	w, h := frame.Size()
	l := eye.FaceForRatio(r, w, h)
	return &l, nil
}

type fakeEncoder struct {
	calls atomic.Int64
}

func (e *fakeEncoder) Encode(_ Frame, quality int) ([]byte, error) {
	e.calls.Add(1)
	return []byte{0xff, 0xd8, byte(quality)}, nil
}

type fakeAnnotator struct {
	mu       sync.Mutex
	overlays []Overlay
}

func (a *fakeAnnotator) Annotate(_ Frame, o Overlay) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.overlays = append(a.overlays, o)
	return nil
}

// recordingSink keeps every payload; failAt > 0 makes that call fail.
type recordingSink struct {
	mu       sync.Mutex
	payloads []Payload
	attempts int
	failAt   int
}

func (s *recordingSink) Deliver(_ context.Context, p *Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failAt > 0 && s.attempts == s.failAt {
		return errors.New("broken pipe")
	}
	s.payloads = append(s.payloads, *p)
	return nil
}

func (s *recordingSink) snapshot() ([]Payload, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Payload, len(s.payloads))
	copy(out, s.payloads)
	return out, s.attempts
}

func (s *recordingSink) counts() []uint64 {
	payloads, _ := s.snapshot()
	counts := make([]uint64, len(payloads))
	for i, p := range payloads {
		counts[i] = p.BlinkCount
	}
	return counts
}

// chanCommands is a command channel backed by a Go channel. Closing ch
// simulates a peer disconnect.
type chanCommands struct {
	ch chan []byte
}

func newChanCommands() *chanCommands {
	return &chanCommands{ch: make(chan []byte, 8)}
}

func (c *chanCommands) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-c.ch:
		if !ok {
			return nil, ErrDisconnected
		}
		return data, nil
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FrameInterval = time.Millisecond
	cfg.Location = time.UTC
	return cfg
}

func newTestController(opener Opener, source LandmarkSource) (*Controller, *fakeEncoder) {
	enc := &fakeEncoder{}
	return NewController(opener, source, enc, testConfig()), enc
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
