package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-beacon/backend/internal/hierarchy"
	"github.com/agent-beacon/backend/internal/session"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster pushes store mutations to connected dashboard clients. It
// subscribes to the store and only enqueues from the subscriber callback;
// marshalling and fan-out happen on its own timers, so a slow client can
// never stall a store write.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	store   *session.Store
	logger  *slog.Logger

	throttle       time.Duration
	snapshotTicker *time.Ticker
	done           chan struct{}
	pendingUpdates []*session.Session
	pendingRemoved []string
	flushTimer     *time.Timer
	flushMu        sync.Mutex
}

func NewBroadcaster(store *session.Store, throttle, snapshotInterval time.Duration, logger *slog.Logger) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		store:    store,
		throttle: throttle,
		logger:   logger,
		done:     make(chan struct{}),
	}

	store.Subscribe(b.onStoreEvent)

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// onStoreEvent runs inside the store's commit path: append and arm the
// flush timer, nothing else.
func (b *Broadcaster) onStoreEvent(ev session.Event) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	switch ev.Type {
	case session.EventUpserted:
		b.pendingUpdates = append(b.pendingUpdates, ev.Session)
	case session.EventRemoved:
		b.pendingRemoved = append(b.pendingRemoved, ev.ID)
	}

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

var upgrader = websocket.Upgrader{
	// Local single-user dashboard; the server binds loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the connection, registers the client, and sends it a
// full snapshot. The read loop only drains until the peer closes.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("ws upgrade failed", "error", err)
		return
	}

	c := newClient(conn)
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()
	b.logger.Info("dashboard client connected", "remote", r.RemoteAddr)

	data, _ := json.Marshal(WSMessage{
		Type:    MsgSnapshot,
		Payload: SnapshotPayload{Sessions: hierarchy.Roots(b.store.All())},
	})
	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	go func() {
		defer func() {
			b.removeClient(c)
			b.logger.Info("dashboard client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) removeClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := b.pendingUpdates
	removed := b.pendingRemoved
	b.pendingUpdates = nil
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 && len(removed) == 0 {
		return
	}

	b.broadcast(WSMessage{
		Type: MsgDelta,
		Payload: DeltaPayload{
			Updates: updates,
			Removed: removed,
		},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(WSMessage{
				Type:    MsgSnapshot,
				Payload: SnapshotPayload{Sessions: hierarchy.Roots(b.store.All())},
			})
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("broadcast marshal failed", "error", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			b.logger.Warn("ws client too slow, disconnecting")
			b.removeClient(c)
		}
	}
}

// Stop halts the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
	close(b.done)

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
