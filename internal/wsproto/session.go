package wsproto

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/djkazic/stratum-engine/internal/framer"
)

// MaxMessageBytes bounds the size of a reassembled fragmented message
// (spec.md §4.4: "cap 8 MiB").
const MaxMessageBytes = 8 * 1024 * 1024

// Message is one complete, reassembled WebSocket message (text or
// binary), or a notice of a control frame the caller must react to.
type Message struct {
	Opcode  framer.WSOpcode
	Payload []byte
}

// Conn is a message-oriented wrapper around a raw byte stream that speaks
// RFC 6455 frames. The caller supplies reads via the embedded
// io.ReadWriter (normally an internal/transport.Channel).
type Conn struct {
	rw     io.ReadWriter
	buf    *framer.Buffer
	client bool // true: we mask outgoing frames (client role)

	mu sync.Mutex

	readBuf []byte
}

// NewConn wraps rw. client selects RFC 6455 masking direction: true means
// this side masks outgoing frames (client->server), false means it never
// masks (server->client).
func NewConn(rw io.ReadWriter, client bool) *Conn {
	return &Conn{
		rw:      rw,
		buf:     framer.NewBuffer(0),
		client:  client,
		readBuf: make([]byte, 4096),
	}
}

// ReadMessage blocks until a complete message (after fragment reassembly)
// or an unhandled control frame is available. Ping frames are answered
// with Pong automatically and are not returned to the caller; Close
// frames are returned with Opcode WSOpClose so the caller can complete
// the closing handshake.
func (c *Conn) ReadMessage() (Message, error) {
	var assembled []byte
	var assembledOp framer.WSOpcode
	inFragment := false

	for {
		frame, err := c.nextFrame()
		if err != nil {
			return Message{}, err
		}

		hdr := framer.ParseWebSocketFrameHeader(frame)
		// RFC 6455 §5.1: frames sent by a client to a server must be
		// masked, frames sent by a server to a client must not be. We are
		// the client when c.client is true, so we expect frames arriving
		// from the server to be unmasked, and vice versa.
		if hdr.MaskSet == c.client {
			return Message{}, fmt.Errorf("wsproto: frame masking direction violation (MaskSet=%v, client=%v)", hdr.MaskSet, c.client)
		}
		payload := frame[hdr.PayloadOffset:]
		if hdr.MaskSet {
			framer.MaskUnmask(payload, hdr.MaskKey)
		}

		switch hdr.Opcode {
		case framer.WSOpPing:
			if err := c.writeFrame(framer.WSOpPong, true, payload); err != nil {
				return Message{}, err
			}
			continue
		case framer.WSOpPong:
			continue
		case framer.WSOpClose:
			return Message{Opcode: framer.WSOpClose, Payload: payload}, nil
		case framer.WSOpContinuation:
			if !inFragment {
				return Message{}, fmt.Errorf("wsproto: continuation frame without start")
			}
			assembled = append(assembled, payload...)
		default:
			if inFragment {
				return Message{}, fmt.Errorf("wsproto: new message started mid-fragment")
			}
			assembledOp = hdr.Opcode
			assembled = append(assembled, payload...)
		}

		if len(assembled) > MaxMessageBytes {
			return Message{}, fmt.Errorf("wsproto: reassembled message exceeds %d bytes", MaxMessageBytes)
		}

		if hdr.Fin {
			return Message{Opcode: assembledOp, Payload: assembled}, nil
		}
		inFragment = true
	}
}

// nextFrame reads bytes from rw until a full frame is buffered, then
// returns a copy of that frame's bytes and advances the buffer past it.
func (c *Conn) nextFrame() ([]byte, error) {
	for {
		res := framer.ParseWebSocketFrame(c.buf.Peek())
		switch res.Outcome {
		case framer.FrameReady:
			frame := append([]byte(nil), c.buf.Peek()[:res.Hi]...)
			c.buf.Consume(res.Hi)
			return frame, nil
		case framer.Malformed:
			return nil, fmt.Errorf("wsproto: malformed frame: %s", res.Reason)
		}

		n, err := c.rw.Read(c.readBuf)
		if n > 0 {
			if appendErr := c.buf.Append(c.readBuf[:n]); appendErr != nil {
				return nil, fmt.Errorf("wsproto: %w", appendErr)
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// WriteText sends a single-frame unfragmented text message.
func (c *Conn) WriteText(payload []byte) error {
	return c.writeFrame(framer.WSOpText, true, payload)
}

// WriteBinary sends a single-frame unfragmented binary message.
func (c *Conn) WriteBinary(payload []byte) error {
	return c.writeFrame(framer.WSOpBinary, true, payload)
}

// WriteClose sends a Close control frame with the given payload (may be
// empty).
func (c *Conn) WriteClose(payload []byte) error {
	return c.writeFrame(framer.WSOpClose, true, payload)
}

func (c *Conn) writeFrame(opcode framer.WSOpcode, fin bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := buildFrame(opcode, fin, c.client, payload)
	_, err := c.rw.Write(frame)
	return err
}

func buildFrame(opcode framer.WSOpcode, fin bool, mask bool, payload []byte) []byte {
	var out []byte
	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}
	out = append(out, b0)

	n := len(payload)
	switch {
	case n <= 125:
		b1 := byte(n)
		if mask {
			b1 |= 0x80
		}
		out = append(out, b1)
	case n <= 0xffff:
		b1 := byte(126)
		if mask {
			b1 |= 0x80
		}
		out = append(out, b1)
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(n))
		out = append(out, ext...)
	default:
		b1 := byte(127)
		if mask {
			b1 |= 0x80
		}
		out = append(out, b1)
		ext := make([]byte, 8)
		binary.BigEndian.PutUint64(ext, uint64(n))
		out = append(out, ext...)
	}

	if mask {
		var key [4]byte
		copy(key[:], maskKeySource())
		out = append(out, key[:]...)
		masked := make([]byte, n)
		copy(masked, payload)
		framer.MaskUnmask(masked, key)
		out = append(out, masked...)
	} else {
		out = append(out, payload...)
	}
	return out
}
