package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// plainChannel is the unencrypted TCP variant of Channel.
type plainChannel struct {
	addr string

	mu    sync.Mutex
	conn  net.Conn
	state State
}

// NewPlainChannel builds a Channel that dials addr over plain TCP.
func NewPlainChannel(addr string) Channel {
	return &plainChannel{addr: addr, state: StateIdle}
}

func (c *plainChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("transport: dial %s: %w", c.addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

func (c *plainChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("transport: not connected")
	}
	return conn.Read(p)
}

func (c *plainChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("transport: not connected")
	}
	return conn.Write(p)
}

func (c *plainChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *plainChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *plainChannel) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *plainChannel) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

func (c *plainChannel) SetDeadline(t time.Time) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	return conn.SetDeadline(t)
}
