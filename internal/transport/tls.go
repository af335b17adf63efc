package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"
)

// tlsChannel is the TLS-wrapped variant of Channel. TLS itself is
// consumed as a black box via crypto/tls (spec.md §1 Non-goals): this
// file only wires dial + handshake + SNI into the Channel contract.
type tlsChannel struct {
	addr      string
	tlsConfig *tls.Config

	mu    sync.Mutex
	conn  *tls.Conn
	state State
}

// NewTLSChannel builds a Channel that dials addr and completes a TLS 1.2+
// handshake with the given server name for SNI/certificate verification.
// A nil cfg gets a minimum TLS 1.2 floor and the given serverName.
func NewTLSChannel(addr, serverName string, cfg *tls.Config) Channel {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cloned := cfg.Clone()
	if cloned.ServerName == "" {
		cloned.ServerName = serverName
	}
	if cloned.MinVersion == 0 {
		cloned.MinVersion = tls.VersionTLS12
	}
	return &tlsChannel{addr: addr, tlsConfig: cloned, state: StateIdle}
}

func (c *tlsChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("transport: dial %s: %w", c.addr, err)
	}

	tlsConn := tls.Client(raw, c.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return fmt.Errorf("transport: tls handshake with %s: %w", c.addr, err)
	}

	c.mu.Lock()
	c.conn = tlsConn
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

func (c *tlsChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("transport: not connected")
	}
	return conn.Read(p)
}

func (c *tlsChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("transport: not connected")
	}
	return conn.Write(p)
}

func (c *tlsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *tlsChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *tlsChannel) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *tlsChannel) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

func (c *tlsChannel) SetDeadline(t time.Time) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	return conn.SetDeadline(t)
}
