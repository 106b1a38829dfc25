package feedserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// ErrTooManyConnections is returned by AddClient once the hub is full.
const ErrTooManyConnections = errors.ConstError("too many feed connections")

const (
	defaultSendBuffer = 64
	writeWait         = 10 * time.Second
)

// Subscriber is one websocket connection registered on a feed address.
type Subscriber struct {
	conn    *websocket.Conn
	hub     *Hub
	address string
	send    chan []byte

	// closeCode is sent in the close frame once send is closed.
	closeCode int
}

func (c *Subscriber) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			glog.V(1).Infof("feed %q: write: %v", c.address, err)
			c.hub.RemoveClient(c)
			// Drain so a concurrent RemoveClient never blocks.
			for range c.send {
			}
			return
		}
	}
	frame := websocket.FormatCloseMessage(c.closeCode, "")
	c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
}

// Hub fans posts out to the subscribers of each feed address.
type Hub struct {
	mu           sync.RWMutex
	feeds        map[string]map[*Subscriber]bool
	count        int
	sendBuffer   int
	maxConns     int
	maxPostBytes int
}

// NewHub creates a hub. sendBuffer bounds frames queued per subscriber;
// maxConns <= 0 means unlimited; maxPostBytes <= 0 disables truncation.
func NewHub(sendBuffer, maxConns, maxPostBytes int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		feeds:        make(map[string]map[*Subscriber]bool),
		sendBuffer:   sendBuffer,
		maxConns:     maxConns,
		maxPostBytes: maxPostBytes,
	}
}

// AddClient registers conn as a subscriber of address and starts its writer.
func (h *Hub) AddClient(address string, conn *websocket.Conn) (*Subscriber, error) {
	c := &Subscriber{
		conn:      conn,
		hub:       h,
		address:   address,
		send:      make(chan []byte, h.sendBuffer),
		closeCode: websocket.CloseGoingAway,
	}

	h.mu.Lock()
	if h.maxConns > 0 && h.count >= h.maxConns {
		h.mu.Unlock()
		return nil, errors.Trace(ErrTooManyConnections)
	}
	subs := h.feeds[address]
	if subs == nil {
		subs = make(map[*Subscriber]bool)
		h.feeds[address] = subs
	}
	subs[c] = true
	h.count++
	h.mu.Unlock()

	go c.writePump()
	return c, nil
}

// RemoveClient unregisters c and ends its writer. Safe to call twice.
func (h *Hub) RemoveClient(c *Subscriber) {
	h.removeClient(c, websocket.CloseGoingAway)
}

func (h *Hub) removeClient(c *Subscriber, code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.feeds[c.address]
	if !subs[c] {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.feeds, c.address)
	}
	h.count--
	c.closeCode = code
	close(c.send)
}

// Publish sends a post frame to every subscriber of address and returns how
// many received it.
func (h *Hub) Publish(address, html string) int {
	return h.broadcast(address, PostFrame{HTML: truncateHTML(html, h.maxPostBytes)})
}

func (h *Hub) broadcast(address string, frame interface{}) int {
	data, err := json.Marshal(frame)
	if err != nil {
		glog.Errorf("broadcast marshal error: %v", err)
		return 0
	}

	h.mu.RLock()
	clients := make([]*Subscriber, 0, len(h.feeds[address]))
	for c := range h.feeds[address] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if h.trySend(c, data) {
			sent++
		}
	}
	return sent
}

// trySend queues data without blocking. A subscriber that cannot keep up is
// disconnected. The read lock keeps send open while queueing.
func (h *Hub) trySend(c *Subscriber, data []byte) bool {
	h.mu.RLock()
	if !h.feeds[c.address][c] {
		h.mu.RUnlock()
		return false
	}
	queued := false
	select {
	case c.send <- data:
		queued = true
	default:
	}
	h.mu.RUnlock()

	if !queued {
		glog.Warningf("feed %q: subscriber too slow, disconnecting", c.address)
		h.removeClient(c, websocket.CloseTryAgainLater)
	}
	return queued
}

// Counts returns the subscriber count per address.
func (h *Hub) Counts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.feeds))
	for addr, subs := range h.feeds {
		out[addr] = len(subs)
	}
	return out
}

// ClientCount returns the total number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Close disconnects every subscriber with a going-away close frame.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Subscriber
	for _, subs := range h.feeds {
		for c := range subs {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.RemoveClient(c)
	}
}
