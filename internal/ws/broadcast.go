package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blink-tracker/backend/internal/tracker"
)

// ErrTooManyConnections is returned by AddClient when the hub is full.
var ErrTooManyConnections = errors.New("too many status connections")

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans tracker status out to observers on the status socket.
// Status changes are coalesced: at most one update goes out per throttle
// window and it carries the latest status. A full snapshot is also sent on
// connect and every snapshot interval.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int

	status   func() tracker.Status
	health   func() interface{}
	throttle time.Duration

	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once

	flushMu    sync.Mutex
	pending    *tracker.Status
	flushTimer *time.Timer
}

func NewBroadcaster(status func() tracker.Status, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	if snapshotInterval <= 0 {
		snapshotInterval = 5 * time.Second
	}
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		status:   status,
		throttle: throttle,
		stop:     make(chan struct{}),
	}
	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()
	return b
}

// SetHealth adds a health report to every snapshot.
// Must be called before clients connect.
func (b *Broadcaster) SetHealth(fn func() interface{}) {
	b.health = fn
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{conn: conn, b: b, send: make(chan []byte, 64)}
	if data, err := json.Marshal(b.snapshot()); err == nil {
		c.send <- data
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Notify queues st for the next flush.
func (b *Broadcaster) Notify(st tracker.Status) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pending = &st
	if b.throttle <= 0 {
		go b.flush()
		return
	}
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	st := b.pending
	b.pending = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if st == nil {
		return
	}
	b.broadcast(WSMessage{Type: MsgStatus, Payload: StatusPayload{Status: *st}})
}

func (b *Broadcaster) snapshot() WSMessage {
	p := StatusPayload{}
	if b.status != nil {
		p.Status = b.status()
	}
	if b.health != nil {
		p.Health = b.health()
	}
	return WSMessage{Type: MsgSnapshot, Payload: p}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.snapshotTicker.C:
			if b.ClientCount() > 0 {
				b.broadcast(b.snapshot())
			}
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws: broadcast marshal error: %v", err)
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		log.Printf("ws: status client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop ends the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.snapshotTicker.Stop()
		close(b.stop)

		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			c.close()
		}
		b.mu.Unlock()
	})
}
