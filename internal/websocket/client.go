package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 32
	pingInterval   = 30 * time.Second
)

// Client represents a single WebSocket connection. An empty watch set
// receives every update.
type Client struct {
	hub   *Hub
	conn  *ws.Conn
	send  chan []byte
	watch map[string]struct{}
}

// NewClient creates a Client tied to the given hub and connection that
// receives updates for ids only (all ids when none are given).
func NewClient(hub *Hub, conn *ws.Conn, ids ...string) *Client {
	c := &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		watch: make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		if id != "" {
			c.watch[id] = struct{}{}
		}
	}
	return c
}

func (c *Client) watches(id string) bool {
	if len(c.watch) == 0 {
		return true
	}
	_, ok := c.watch[id]
	return ok
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump discards everything the client sends; it exists to notice the
// connection closing.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
	}
}

// writePump drains the send channel and pings periodically to detect stale
// connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
