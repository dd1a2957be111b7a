package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blink-tracker/backend/internal/blink"
	"github.com/blink-tracker/backend/internal/eye"
)

// errStopped ends the loop once Stop has been called.
var errStopped = errors.New("session stopped")

type Config struct {
	Capture       CaptureConfig
	Blink         blink.Config
	FrameInterval time.Duration
	JPEGQuality   int
	Location      *time.Location
}

func DefaultConfig() Config {
	return Config{
		Capture: CaptureConfig{
			DeviceIndex: 0,
			Width:       640,
			Height:      480,
			FPS:         30,
		},
		Blink:         blink.DefaultConfig(),
		FrameInterval: 33 * time.Millisecond,
		JPEGQuality:   70,
		Location:      time.Local,
	}
}

// Controller owns the capture device and the per-session state. Open, Loop
// and Stop may be called from different goroutines; device access and state
// mutation happen under mu, so Stop waits for an in-flight frame to finish
// and the next iteration observes the stop.
type Controller struct {
	opener    Opener
	source    LandmarkSource
	encoder   Encoder
	annotator Annotator
	notifier  Notifier
	cfg       Config
	now       func() time.Time

	mu        sync.Mutex
	device    Device
	running   bool
	streaming bool
	sessionID string
	startedAt time.Time
	counter   *blink.Counter
	lastCount int64
	seq       uint64

	status    atomic.Pointer[Status]
	delivered atomic.Uint64
	frames    atomic.Uint64
}

func NewController(opener Opener, source LandmarkSource, encoder Encoder, cfg Config) *Controller {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	c := &Controller{
		opener:    opener,
		source:    source,
		encoder:   encoder,
		cfg:       cfg,
		now:       time.Now,
		counter:   blink.NewCounter(cfg.Blink),
		lastCount: -1,
	}
	c.status.Store(&Status{})
	return c
}

// SetAnnotator configures the overlay drawn on streamed frames.
// Must be called before the first session.
func (c *Controller) SetAnnotator(a Annotator) {
	c.annotator = a
}

// SetNotifier configures who is told about status changes.
// Must be called before the first session.
func (c *Controller) SetNotifier(n Notifier) {
	c.notifier = n
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Open resets the session state and opens the capture device. The device is
// opened outside mu. If ctx ends meanwhile the device is released and
// ctx.Err() is returned.
func (c *Controller) Open(ctx context.Context, sessionID string, streamFrames bool) error {
	c.mu.Lock()
	c.releaseLocked()
	c.mu.Unlock()

	dev, err := c.opener.Open(ctx, c.cfg.Capture)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Printf("tracker: could not open camera %d: %v", c.cfg.Capture.DeviceIndex, err)
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		if rerr := dev.Release(); rerr != nil {
			log.Printf("tracker: error releasing camera: %v", rerr)
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.device = dev
	c.running = true
	c.streaming = streamFrames
	c.sessionID = sessionID
	c.startedAt = c.now()
	c.counter.Reset()
	c.lastCount = -1
	c.seq = 0
	c.delivered.Store(0)
	c.frames.Store(0)
	c.publishLocked()

	log.Printf("tracker: session %s started (camera %d, %dx%d@%d, video=%v)",
		sessionID, c.cfg.Capture.DeviceIndex, c.cfg.Capture.Width, c.cfg.Capture.Height, c.cfg.Capture.FPS, streamFrames)
	return nil
}

// Loop runs the acquisition cycle until the session is stopped, the stream
// ends, delivery fails or ctx is cancelled. It does not release the device;
// callers pair it with Stop.
func (c *Controller) Loop(ctx context.Context, sink Sink) error {
	for {
		p, err := c.step(ctx)
		if err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			return err
		}

		if err := sink.Deliver(ctx, p); err != nil {
			log.Printf("tracker: delivering frame %d failed, ending session: %v", p.Seq, err)
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		c.delivered.Store(p.BlinkCount)
		c.frames.Add(1)

		if c.cfg.FrameInterval > 0 {
			timer := time.NewTimer(c.cfg.FrameInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// step acquires and processes one frame.
func (c *Controller) step(ctx context.Context) (*Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.device == nil {
		return nil, errStopped
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := c.device.Read()
	if err != nil {
		if errors.Is(err, ErrCaptureEnded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read frame: %v", ErrInternalFault, err)
	}
	defer frame.Close()

	now := c.now().In(c.cfg.Location)
	width, height := frame.Size()

	found, err := c.source.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: detect landmarks: %v", ErrInternalFault, err)
	}

	var pixels *eye.Landmarks
	if found != nil {
		scaled := found.Scale(width, height)
		pixels = &scaled
	}

	ratio, present := eye.Openness(pixels)
	registered := c.counter.Observe(ratio, present)
	st := c.counter.State()
	c.seq++

	p := &Payload{
		Seq:          c.seq,
		BlinkCount:   st.Count,
		Timestamp:    now,
		EARThreshold: c.cfg.Blink.Threshold,
		FrameCounter: st.FrameCounter,
		FaceDetected: present,
	}
	if present {
		p.EAR = &ratio
	}
	if registered {
		p.Blink = &BlinkEvent{
			Count:     st.Count,
			Timestamp: now,
			Threshold: c.cfg.Blink.Threshold,
		}
	}
	if int64(st.Count) != c.lastCount {
		p.BlinkChanged = true
		c.lastCount = int64(st.Count)
		c.publishLocked()
	}

	if c.streaming {
		if c.annotator != nil {
			overlay := Overlay{
				BlinkCount: st.Count,
				Running:    c.running,
				Time:       now,
				Landmarks:  pixels,
			}
			if err := c.annotator.Annotate(frame, overlay); err != nil {
				return nil, fmt.Errorf("%w: annotate frame: %v", ErrInternalFault, err)
			}
		}
		data, err := c.encoder.Encode(frame, c.cfg.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("%w: encode frame: %v", ErrInternalFault, err)
		}
		p.EncodedFrame = data
	}

	return p, nil
}

// Stop ends the session, releases the device and zeroes the counters. It is
// idempotent and safe to call from any goroutine.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasRunning := c.running || c.device != nil
	c.running = false
	c.releaseLocked()
	c.counter.Reset()
	c.lastCount = -1
	c.sessionID = ""
	c.startedAt = time.Time{}
	c.publishLocked()

	if wasRunning {
		log.Println("tracker: eye tracker stopped and cleaned up")
	}
}

// releaseLocked releases the device if held. Caller must hold c.mu.
func (c *Controller) releaseLocked() {
	if c.device == nil {
		return
	}
	if err := c.device.Release(); err != nil {
		log.Printf("tracker: error releasing camera: %v", err)
	} else {
		log.Println("tracker: camera released")
	}
	c.device = nil
}

// publishLocked stores a fresh status snapshot. Caller must hold c.mu.
func (c *Controller) publishLocked() {
	st := &Status{
		SessionID:        c.sessionID,
		Running:          c.running,
		BlinkCount:       c.counter.State().Count,
		StreamingEnabled: c.streaming,
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		st.StartedAt = &started
	}
	c.status.Store(st)
	if c.notifier != nil {
		c.notifier.Notify(*st)
	}
}

// Status returns the latest snapshot without blocking on the loop.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// Delivered returns the blink count carried by the last delivered payload
// and the number of payloads delivered in the current session.
func (c *Controller) Delivered() (blinks, frames uint64) {
	return c.delivered.Load(), c.frames.Load()
}
