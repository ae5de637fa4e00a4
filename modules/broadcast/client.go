package broadcast

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	writeWait         = 10 * time.Second
	pingPeriod        = 30 * time.Second
	defaultBufferSize = 64
)

var (
	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client connection closed")
	// ErrBufferFull is returned when a slow client falls too far behind.
	ErrBufferFull = errors.New("client send buffer full")
)

// Writer is the write side of a websocket connection.
type Writer interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one websocket connection with its own write loop. Sends never
// block: a client whose buffer is full is closed.
type Client struct {
	id       string
	Username string

	conn    Writer
	send    chan []byte
	done    chan struct{}
	stopped chan struct{}
	open    atomic.Bool
	started atomic.Bool
	once    sync.Once
}

// NewClient wraps conn. bufferSize <= 0 selects the default.
func NewClient(conn Writer, username string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	c := &Client{
		id:       uuid.New().String(),
		Username: username,
		conn:     conn,
		send:     make(chan []byte, bufferSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// IsOpen reports whether the client still accepts messages.
func (c *Client) IsOpen() bool {
	return c.open.Load()
}

// Start launches the write loop. It must be called once.
func (c *Client) Start() {
	if c.started.CompareAndSwap(false, true) {
		go c.writeLoop()
	}
}

// Send queues data for delivery.
func (c *Client) Send(data []byte) error {
	if !c.open.Load() {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		log.Printf("[broadcast] Closing slow client %s (%s)", c.id, c.Username)
		c.Close()
		return ErrBufferFull
	}
}

// Close stops accepting messages. Messages already queued are still written
// before the connection is closed.
func (c *Client) Close() {
	c.once.Do(func() {
		c.open.Store(false)
		close(c.done)
		if !c.started.Load() {
			c.conn.Close()
			close(c.stopped)
		}
	})
}

// Wait blocks until the write loop has exited and the connection is closed.
func (c *Client) Wait() {
	<-c.stopped
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.open.Store(false)
		c.conn.Close()
		close(c.stopped)
	}()

	for {
		select {
		case <-c.done:
			c.drain()
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				log.Printf("[broadcast] Write to client %s failed: %v", c.id, err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// drain writes whatever is still queued.
func (c *Client) drain() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
