package tracker

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrResourceUnavailable means the capture device could not be opened.
	ErrResourceUnavailable = errors.New("capture device unavailable")
	// ErrCaptureEnded means the device stream is exhausted.
	ErrCaptureEnded = errors.New("capture ended")
	// ErrDeliveryFailed means the sink rejected a payload.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrMalformedCommand means a control message could not be parsed.
	ErrMalformedCommand = errors.New("malformed command")
	// ErrInternalFault wraps unexpected failures and recovered panics.
	ErrInternalFault = errors.New("internal fault")
	// ErrDisconnected means the command channel was closed by the peer.
	ErrDisconnected = errors.New("command channel closed")
)

type Outcome int

const (
	Completed Outcome = iota
	Stopped
	Disconnected
	ResourceUnavailable
	DeliveryFailed
	InternalFault
)

var outcomeNames = map[Outcome]string{
	Completed:           "completed",
	Stopped:             "stopped",
	Disconnected:        "disconnected",
	ResourceUnavailable: "resource_unavailable",
	DeliveryFailed:      "delivery_failed",
	InternalFault:       "internal_fault",
}

var outcomeFromName = map[string]Outcome{
	"completed":            Completed,
	"stopped":              Stopped,
	"disconnected":         Disconnected,
	"resource_unavailable": ResourceUnavailable,
	"delivery_failed":      DeliveryFailed,
	"internal_fault":       InternalFault,
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Success reports whether the session ended normally.
func (o Outcome) Success() bool {
	switch o {
	case Completed, Stopped, Disconnected:
		return true
	}
	return false
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := outcomeFromName[s]; ok {
		*o = v
	}
	return nil
}

// Result is the terminal result of a session.
type Result struct {
	SessionID  string  `json:"session_id,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Message    string  `json:"message"`
	BlinkCount uint64  `json:"blink_count"`
	Frames     uint64  `json:"frames"`
	Err        error   `json:"-"`
}

// loopOutcome maps the acquisition loop's exit error to an outcome.
func loopOutcome(err error) Outcome {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return Stopped
	case errors.Is(err, ErrCaptureEnded):
		return Completed
	case errors.Is(err, ErrResourceUnavailable):
		return ResourceUnavailable
	case errors.Is(err, ErrDeliveryFailed):
		return DeliveryFailed
	}
	return InternalFault
}

// listenOutcome maps the command listener's exit error to an outcome.
func listenOutcome(err error) Outcome {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return Stopped
	case errors.Is(err, ErrDisconnected):
		return Disconnected
	}
	return InternalFault
}

func outcomeMessage(o Outcome, err error) string {
	switch o {
	case Completed:
		return "Eye tracking completed"
	case Stopped:
		return "Eye tracker stopped"
	case Disconnected:
		return "Client disconnected"
	case ResourceUnavailable:
		return "Could not open camera"
	}
	if err != nil {
		return "Eye tracking failed: " + err.Error()
	}
	return "Eye tracking failed"
}
