// Package mock provides a synthetic camera and landmark source so the
// service can run without hardware.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"

	"github.com/blink-tracker/backend/internal/eye"
	"github.com/blink-tracker/backend/internal/tracker"
)

// Frame is a synthetic grayscale frame.
type Frame struct {
	Seq int
	Img *image.Gray
}

func (f *Frame) Size() (int, int) {
	b := f.Img.Bounds()
	return b.Dx(), b.Dy()
}

func (f *Frame) Close() error { return nil }

// Camera opens synthetic devices. Frames is the number of frames each device
// serves before reporting the end of the stream; zero means unlimited.
type Camera struct {
	Frames int

	opened atomic.Int64
}

func NewCamera(frames int) *Camera {
	return &Camera{Frames: frames}
}

func (c *Camera) Open(_ context.Context, cfg tracker.CaptureConfig) (tracker.Device, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("mock camera %d: invalid size %dx%d", cfg.DeviceIndex, cfg.Width, cfg.Height)
	}
	c.opened.Add(1)
	return &device{width: cfg.Width, height: cfg.Height, limit: c.Frames}, nil
}

// Opened returns how many devices have been opened.
func (c *Camera) Opened() int {
	return int(c.opened.Load())
}

type device struct {
	width, height int
	limit         int

	mu       sync.Mutex
	seq      int
	released bool
}

func (d *device) Read() (tracker.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, fmt.Errorf("mock camera: read after release")
	}
	if d.limit > 0 && d.seq >= d.limit {
		return nil, tracker.ErrCaptureEnded
	}
	d.seq++

	img := image.NewGray(image.Rect(0, 0, d.width, d.height))
	shade := uint8(96 + d.seq%64)
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	return &Frame{Seq: d.seq, Img: img}, nil
}

func (d *device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	return nil
}

// Encoder JPEG-encodes synthetic frames with the standard library codec.
type Encoder struct{}

func (Encoder) Encode(frame tracker.Frame, quality int) ([]byte, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return nil, fmt.Errorf("mock encoder: unsupported frame %T", frame)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Annotator marks the eye corners on synthetic frames.
type Annotator struct{}

func (Annotator) Annotate(frame tracker.Frame, o tracker.Overlay) error {
	f, ok := frame.(*Frame)
	if !ok {
		return fmt.Errorf("mock annotator: unsupported frame %T", frame)
	}
	if o.Landmarks == nil {
		return nil
	}
	for _, e := range [][eye.PointsPerEye]image.Point{toPoints(o.Landmarks.Left), toPoints(o.Landmarks.Right)} {
		for _, p := range e {
			if p.In(f.Img.Bounds()) {
				f.Img.SetGray(p.X, p.Y, color.Gray{Y: 255})
			}
		}
	}
	return nil
}

func toPoints(e eye.Eye) [eye.PointsPerEye]image.Point {
	var out [eye.PointsPerEye]image.Point
	for i, p := range e {
		out[i] = image.Pt(int(p.X), int(p.Y))
	}
	return out
}
