package ws

import (
	"github.com/blink-tracker/backend/internal/tracker"
)

type MessageType string

const (
	MsgFrameData     MessageType = "frame_data"
	MsgStopConfirmed MessageType = "stop_confirmed"
	MsgSessionEnded  MessageType = "session_ended"
	MsgSnapshot      MessageType = "snapshot"
	MsgStatus        MessageType = "status"
)

// FrameMessage is the per-frame payload on the session socket. The payload
// fields are inlined next to the type tag.
type FrameMessage struct {
	Type MessageType `json:"type"`
	*tracker.Payload
}

// ControlMessage carries a bare type tag and an optional message.
type ControlMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message,omitempty"`
}

// ErrorMessage reports a failed session or a rejected connection.
type ErrorMessage struct {
	Error   string           `json:"error"`
	Outcome *tracker.Outcome `json:"outcome,omitempty"`
}

// SessionEndedMessage summarises a session that ended on its own.
type SessionEndedMessage struct {
	Type MessageType `json:"type"`
	tracker.Result
}

// WSMessage is the envelope used on the status socket.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusPayload struct {
	Status tracker.Status `json:"status"`
	Health interface{}    `json:"health,omitempty"`
}
