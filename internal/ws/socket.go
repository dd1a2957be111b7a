package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blink-tracker/backend/internal/tracker"
)

const maxCommandSize = 4096

// Socket adapts a session websocket to the tracker's Sink and CommandSource.
// Writes are serialized; a single reader goroutine feeds Next.
type Socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	in        chan []byte
	done      chan struct{}
	readErr   error
	quit      chan struct{}
	closeOnce sync.Once
}

func NewSocket(conn *websocket.Conn, writeTimeout time.Duration) *Socket {
	conn.SetReadLimit(maxCommandSize)
	s := &Socket{
		conn:         conn,
		writeTimeout: writeTimeout,
		in:           make(chan []byte, 16),
		done:         make(chan struct{}),
		quit:         make(chan struct{}),
	}
	go s.readPump()
	return s
}

func (s *Socket) readPump() {
	defer close(s.done)
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		select {
		case s.in <- data:
		case <-s.quit:
			return
		}
	}
}

// Next returns the next inbound text message. It fails once the peer has
// closed the connection.
func (s *Socket) Next(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		select {
		case data := <-s.in:
			return data, nil
		default:
		}
		if s.readErr == nil {
			return nil, errors.New("connection closed")
		}
		return nil, s.readErr
	}
}

func (s *Socket) Deliver(ctx context.Context, p *tracker.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Send(FrameMessage{Type: MsgFrameData, Payload: p})
}

// Send writes v as a JSON text message.
func (s *Socket) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and reason, then closes the connection.
func (s *Socket) Close(code int, reason string) error {
	s.closeOnce.Do(func() { close(s.quit) })

	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.writeMu.Unlock()

	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
