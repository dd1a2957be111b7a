package landmark

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/blink-tracker/backend/internal/eye"
)

// MaxMessageSize bounds a single framed message.
const MaxMessageSize = 16 << 20

// Request asks the worker for the face mesh of one JPEG image.
type Request struct {
	Seq    uint64 `msgpack:"seq"`
	Image  []byte `msgpack:"image"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
}

// Response carries one mesh per detected face, normalized to [0,1].
type Response struct {
	Seq   uint64        `msgpack:"seq"`
	Faces [][]eye.Point `msgpack:"faces"`
	Error string        `msgpack:"error,omitempty"`
}

// WriteMessage writes v as msgpack behind a 4-byte big-endian length.
func WriteMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed msgpack message into v.
func ReadMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read message body: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}
