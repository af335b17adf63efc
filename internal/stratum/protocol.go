// Package stratum implements the Stratum v1 mining client: a
// newline-delimited JSON-RPC codec, the Connecting/Handshaking/
// Authorizing/Ready/Draining/Closed session state machine (spec.md
// §4.5), and the job/header-reconstruction arithmetic miners use to turn
// mining.notify parameters plus a found nonce into a submittable share.
package stratum

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/djkazic/stratum-engine/internal/framer"
)

const (
	// writeTimeout bounds a single JSON-RPC line write.
	writeTimeout = 10 * time.Second

	// maxLineSize bounds a single buffered JSON-RPC line, mirroring the
	// Byte Framer's role for the Stratum transport.
	maxLineSize = framer.DefaultCap
)

// Request is a client->server Stratum v1 JSON-RPC request (mining.subscribe,
// mining.authorize, mining.submit).
type Request struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is a server->client reply, correlated back to a Request by ID.
type Response struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Notification is a server->client unsolicited message (mining.notify,
// mining.set_difficulty, client.reconnect).
type Notification struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// IsResponse reports whether a decoded line is a response (has no method)
// rather than a notification.
func IsResponse(raw json.RawMessage) bool {
	var probe struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.Method == ""
}

// Codec handles the client side of Stratum v1's newline-delimited JSON
// encoding, grounded on the teacher's pool-side stratum.Codec — the same
// bufio.Scanner-over-a-bounded-buffer shape, with SendRequest replacing
// SendResponse and ReadLine replacing ReadRequest to reflect the reversed
// message direction a client sits in.
type Codec struct {
	conn    net.Conn
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// NewCodec wraps conn in a Stratum v1 codec.
func NewCodec(conn net.Conn) *Codec {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	return &Codec{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}
}

// ReadLine reads one newline-delimited JSON-RPC line and returns a copy
// of its raw bytes; IsResponse classifies it as a Response or
// Notification.
func (c *Codec) ReadLine() (json.RawMessage, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("stratum: read: %w", err)
		}
		return nil, fmt.Errorf("stratum: connection closed")
	}
	line := append(json.RawMessage(nil), c.scanner.Bytes()...)
	return line, nil
}

// SendRequest writes a client->server JSON-RPC request.
func (c *Codec) SendRequest(req *Request) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.encoder.Encode(req)
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
