package wsproto

import (
	"net"
	"testing"
	"time"

	"github.com/djkazic/stratum-engine/internal/framer"
)

func TestConnWriteTextThenReadBack(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := NewConn(a, true)
	server := NewConn(b, false)

	done := make(chan error, 1)
	go func() {
		done <- client.WriteText([]byte("hello server"))
	}()

	msg, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if msg.Opcode != framer.WSOpText || string(msg.Payload) != "hello server" {
		t.Fatalf("got %+v", msg)
	}
}

func TestConnFragmentedMessageReassembled(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server := NewConn(b, false)

	go func() {
		a.Write(buildFrame(framer.WSOpText, false, true, []byte("part1-")))
		a.Write(buildFrame(framer.WSOpContinuation, false, true, []byte("part2-")))
		a.Write(buildFrame(framer.WSOpContinuation, true, true, []byte("part3")))
	}()

	msg, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg.Payload) != "part1-part2-part3" {
		t.Fatalf("reassembled = %q", msg.Payload)
	}
}

func TestConnPingAnsweredWithPongTransparently(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := NewConn(a, true)
	server := NewConn(b, false)

	go func() {
		a.Write(buildFrame(framer.WSOpPing, true, true, []byte("ping-payload")))
		a.Write(buildFrame(framer.WSOpText, true, true, []byte("after-ping")))
	}()

	pongCh := make(chan framer.WSFrameHeader, 1)
	go func() {
		frame, err := readOneFrame(client)
		if err == nil {
			pongCh <- framer.ParseWebSocketFrameHeader(frame)
		}
	}()

	// net.Pipe is unbuffered and the pong is only written while the
	// server is inside ReadMessage, so the server reads concurrently.
	type readResult struct {
		msg Message
		err error
	}
	readCh := make(chan readResult, 1)
	go func() {
		msg, err := server.ReadMessage()
		readCh <- readResult{msg, err}
	}()

	select {
	case hdr := <-pongCh:
		if hdr.Opcode != framer.WSOpPong {
			t.Fatalf("expected pong, got opcode %v", hdr.Opcode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pong")
	}

	r := <-readCh
	msg, err := r.msg, r.err
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Opcode != framer.WSOpText || string(msg.Payload) != "after-ping" {
		t.Fatalf("got %+v", msg)
	}
}

func TestConnCloseReturnedToCaller(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server := NewConn(b, false)

	go func() {
		a.Write(buildFrame(framer.WSOpClose, true, true, []byte("bye")))
	}()

	msg, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Opcode != framer.WSOpClose || string(msg.Payload) != "bye" {
		t.Fatalf("got %+v", msg)
	}
}

// readOneFrame reads raw bytes off the underlying pipe via a throwaway
// Conn's internal buffering, used only to observe a single outgoing
// frame for assertions in tests.
func readOneFrame(c *Conn) ([]byte, error) {
	return c.nextFrame()
}
