package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps one websocket and serializes every write through a
// single goroutine
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps conn under id and starts its writer
func NewConnection(conn *websocket.Conn, id string, sendBuffer int, writeTimeout time.Duration) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		conn:         conn,
		writeCh:      make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()
	return c
}

// ID returns the server-assigned connection id
func (c *Connection) ID() string {
	return c.id
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ARCHITECTURAL DISCOVERY: single writer goroutine; gorilla connections
// support one concurrent writer only
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("websocket write failed", "conn", c.id, "error", err)
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON encodes v and queues it for the writer
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.send(data)
}

// send queues an already encoded frame
func (c *Connection) send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ping sends a control frame; safe alongside the writer goroutine
func (c *Connection) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
