// Package capture reads camera frames through OpenCV.
package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"sync"

	"gocv.io/x/gocv"

	"github.com/blink-tracker/backend/internal/eye"
	"github.com/blink-tracker/backend/internal/tracker"
)

// Frame wraps an OpenCV matrix.
type Frame struct {
	Mat gocv.Mat
}

func (f *Frame) Size() (int, int) {
	return f.Mat.Cols(), f.Mat.Rows()
}

func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Opener opens local cameras by index.
type Opener struct {
	// Mirror flips frames horizontally so the preview behaves like a mirror.
	Mirror bool
}

func (o Opener) Open(ctx context.Context, cfg tracker.CaptureConfig) (tracker.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(cfg.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", cfg.DeviceIndex, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera %d did not open", cfg.DeviceIndex)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	return &Camera{vc: vc, index: cfg.DeviceIndex, mirror: o.Mirror}, nil
}

// Camera is an open OpenCV capture.
type Camera struct {
	vc     *gocv.VideoCapture
	index  int
	mirror bool

	once sync.Once
	err  error
}

func (c *Camera) Read() (tracker.Frame, error) {
	img := gocv.NewMat()
	if ok := c.vc.Read(&img); !ok || img.Empty() {
		img.Close()
		return nil, tracker.ErrCaptureEnded
	}

	if c.mirror {
		flipped := gocv.NewMat()
		gocv.Flip(img, &flipped, 1)
		img.Close()
		img = flipped
	}
	return &Frame{Mat: img}, nil
}

func (c *Camera) Release() error {
	c.once.Do(func() {
		c.err = c.vc.Close()
		if c.err == nil {
			log.Printf("capture: camera %d closed", c.index)
		}
	})
	return c.err
}

// Encoder JPEG-encodes OpenCV frames.
type Encoder struct{}

func (Encoder) Encode(frame tracker.Frame, quality int) ([]byte, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return nil, fmt.Errorf("capture: cannot encode %T", frame)
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.Mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// The native buffer is freed on Close; hand back a Go-owned copy.
	src := buf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

var (
	outlineColor = color.RGBA{0, 0, 255, 255}
	textColor    = color.RGBA{0, 255, 0, 255}
)

// Annotator draws eye outlines and the session captions.
type Annotator struct{}

func (Annotator) Annotate(frame tracker.Frame, o tracker.Overlay) error {
	f, ok := frame.(*Frame)
	if !ok {
		return fmt.Errorf("capture: cannot annotate %T", frame)
	}

	if o.Landmarks != nil {
		drawOutline(&f.Mat, o.Landmarks.Left)
		drawOutline(&f.Mat, o.Landmarks.Right)
	}

	count, state, clock := o.Captions()
	gocv.PutText(&f.Mat, count, image.Pt(30, 50), gocv.FontHersheySimplex, 1, textColor, 2)
	gocv.PutText(&f.Mat, state, image.Pt(30, 100), gocv.FontHersheySimplex, 1, textColor, 2)
	gocv.PutText(&f.Mat, clock, image.Pt(30, f.Mat.Rows()-30), gocv.FontHersheySimplex, 1, textColor, 2)
	return nil
}

func drawOutline(img *gocv.Mat, e eye.Eye) {
	for i := range e {
		from := image.Pt(int(e[i].X), int(e[i].Y))
		next := e[(i+1)%len(e)]
		to := image.Pt(int(next.X), int(next.Y))
		gocv.Line(img, from, to, outlineColor, 2)
	}
}
