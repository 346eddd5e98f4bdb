// Package monitor implements an optional websocket broadcaster that
// streams weight-version events (one JSON object per completed
// SetWeights/UpdWeights) to connected dashboard clients. Grounded on
// domains/games/apis/games_ws_backend/hub/hub.go's upgrader + per-client
// write-pump pattern, trimmed to broadcast-only: there is no inbound
// message from a monitor client, so there is no readPump and no Hub
// interface, just a register/unregister/broadcast loop.
package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	maxQueuedEvent = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one JSON-encoded notification pushed to every connected
// client after a completed write.
type Event struct {
	Version    string `json:"version"`
	DeltaBytes int    `json:"delta_bytes"`
	Op         string `json:"op"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster fans out Events to every currently connected websocket
// client. The zero value is not usable; construct with New.
type Broadcaster struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
}

// New starts a Broadcaster's internal dispatch goroutine and returns it.
func New() *Broadcaster {
	b := &Broadcaster{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	clients := make(map[*client]bool)
	for {
		select {
		case c := <-b.register:
			clients[c] = true
		case c := <-b.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
			}
		case msg := <-b.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					slog.Warn("monitor client send queue full, dropping client")
					delete(clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Publish JSON-encodes e and queues it for every connected client.
func (b *Broadcaster) Publish(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b.broadcast <- data
	return nil
}

// ServeWs upgrades r to a websocket connection and registers it to
// receive every future Publish call's events until the connection drops.
func (b *Broadcaster) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("monitor websocket upgrade failed", "error", err, "remoteAddr", r.RemoteAddr)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, maxQueuedEvent)}
	b.register <- c
	go c.writePump(b)
}

func (c *client) writePump(b *Broadcaster) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		b.unregister <- c
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
