package tracker

import (
	"fmt"
	"time"

	"github.com/blink-tracker/backend/internal/eye"
)

// BlinkEvent records a registered blink.
type BlinkEvent struct {
	Count     uint64    `json:"counter_value"`
	Timestamp time.Time `json:"frame_timestamp"`
	Threshold float64   `json:"threshold_used"`
}

// Payload is produced once per acquisition cycle.
type Payload struct {
	Seq          uint64      `json:"frame_seq"`
	BlinkCount   uint64      `json:"blink_count"`
	Timestamp    time.Time   `json:"timestamp"`
	EARThreshold float64     `json:"ear_threshold"`
	FrameCounter uint32      `json:"frame_counter"`
	BlinkChanged bool        `json:"blink_changed,omitempty"`
	FaceDetected bool        `json:"face_detected"`
	EAR          *float64    `json:"ear,omitempty"`
	Blink        *BlinkEvent `json:"blink_event,omitempty"`
	EncodedFrame []byte      `json:"video_frame,omitempty"`
}

// Status is a read-only snapshot of the session.
type Status struct {
	SessionID        string     `json:"session_id,omitempty"`
	Running          bool       `json:"is_running"`
	BlinkCount       uint64     `json:"blink_count"`
	StreamingEnabled bool       `json:"send_video"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
}

// Overlay is what gets drawn on a streamed frame.
type Overlay struct {
	BlinkCount uint64
	Running    bool
	Time       time.Time
	Landmarks  *eye.Landmarks // pixel coordinates, nil when no face
}

// Captions returns the three overlay lines: the blink count, the session
// state and the wall clock.
func (o Overlay) Captions() (count, state, clock string) {
	count = fmt.Sprintf("Blinks: %d", o.BlinkCount)
	state = "Status: Stopped"
	if o.Running {
		state = "Status: Detecting..."
	}
	zone, _ := o.Time.Zone()
	clock = o.Time.Format("15:04:05") + " " + zone
	return count, state, clock
}
