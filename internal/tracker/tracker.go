// Package tracker runs live blink-tracking sessions.
//
// A session couples two concurrent units: the acquisition loop owned by the
// Controller, which reads frames, derives the openness ratio, advances the
// blink counter and hands one Payload per frame to a Sink; and the Listener,
// which watches an inbound command channel for a stop directive. The Engine
// starts both, returns when either finishes, cancels the other and releases
// the camera exactly once.
package tracker

import (
	"context"

	"github.com/blink-tracker/backend/internal/eye"
)

// CaptureConfig selects the device and the requested stream format.
type CaptureConfig struct {
	DeviceIndex int
	Width       int
	Height      int
	FPS         int
}

// Frame is a single captured image. The loop closes every frame it reads.
type Frame interface {
	Size() (width, height int)
	Close() error
}

// Device is an open capture handle. Read returns ErrCaptureEnded once the
// stream is exhausted. Release must be idempotent.
type Device interface {
	Read() (Frame, error)
	Release() error
}

// Opener opens capture devices.
type Opener interface {
	Open(ctx context.Context, cfg CaptureConfig) (Device, error)
}

// LandmarkSource finds the primary subject's eyes in a frame. It returns nil
// landmarks when no face is present. Coordinates are normalized to [0,1].
type LandmarkSource interface {
	Detect(ctx context.Context, frame Frame) (*eye.Landmarks, error)
}

// Encoder compresses a frame for streaming.
type Encoder interface {
	Encode(frame Frame, quality int) ([]byte, error)
}

// Annotator draws the session overlay onto a frame before it is encoded.
type Annotator interface {
	Annotate(frame Frame, overlay Overlay) error
}

// Sink delivers payloads to the consumer. Any error ends the session.
type Sink interface {
	Deliver(ctx context.Context, p *Payload) error
}

// CommandSource yields raw inbound control messages. It returns an error
// once the channel is closed by the peer.
type CommandSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// Notifier is told whenever the externally visible status changes.
type Notifier interface {
	Notify(st Status)
}
