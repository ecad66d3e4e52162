package hub

import (
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound message size. Clients only
	// send control frames.
	maxMessageSize = 4 * 1024
)

// ErrStopped is returned by NewClient once the hub has stopped.
var ErrStopped = errors.New("hub: stopped")

// Client represents a single websocket connection
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	topic string
	send  chan Message

	// quit is closed when readPump exits; done when writePump exits.
	quit chan struct{}
	done chan struct{}
}

// NewClient creates a new client subscribed to topic and registers it with
// the hub. initial messages are queued ahead of any broadcast.
func NewClient(hub *Hub, conn *websocket.Conn, topic string, initial ...Message) (*Client, error) {
	client := &Client{
		hub:   hub,
		conn:  conn,
		topic: topic,
		send:  make(chan Message, 256), // Buffered channel for backpressure
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, m := range initial {
		client.send <- m
	}
	select {
	case hub.register <- client:
		return client, nil
	case <-hub.done:
		return nil, ErrStopped
	}
}

// Run starts the client's read and write pumps
// This should be called in the websocket handler. It returns only after
// both pumps have stopped using the connection, since the handler's
// return hands the conn back to the websocket pool.
func (c *Client) Run() {
	go c.writePump()
	c.readPump() // Blocks until connection closes
	close(c.quit)
	<-c.done
}

// readPump reads messages from the websocket connection
// It keeps the connection alive and detects disconnection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// We don't expect messages from clients, but we need to read
		// to detect disconnection and receive pong responses
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump writes messages to the websocket connection
// Only this goroutine writes to the connection - no race conditions!
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel - send close frame
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Determine websocket message type
			wsType := websocket.TextMessage
			if message.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}

			if err := c.conn.WriteMessage(wsType, message.Data); err != nil {
				return
			}

		case <-c.quit:
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
