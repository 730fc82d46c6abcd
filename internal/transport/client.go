package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client owns the write side of one browser connection. All writes go through
// a single goroutine; Send never blocks the session loop.
type Client struct {
	conn   *websocket.Conn
	send   chan interface{}
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newClient(conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan interface{}, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues a JSON message. A client that cannot keep up is disconnected.
func (c *Client) Send(msg interface{}) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.logger.Warn().Msg("Send buffer full, closing connection")
		c.Close()
	}
}

// Close stops the writer, which closes the connection.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug().Err(err).Msg("WebSocket write failed")
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.drain()
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}

// drain flushes what is already queued so a final error reaches the browser
func (c *Client) drain() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
