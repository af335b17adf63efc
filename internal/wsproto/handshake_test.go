package wsproto

import (
	"bufio"
	"net"
	"testing"
)

// TestAcceptKeyMatchesRFC6455Fixture checks against the literal example
// from RFC 6455 §1.3.
func TestAcceptKeyMatchesRFC6455Fixture(t *testing.T) {
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("AcceptKey = %q, want %q", got, want)
	}
}

func TestClientHandshakeAcceptsValidResponse(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	key := "dGhlIHNhbXBsZSBub25jZQ=="

	go func() {
		reader := bufio.NewReader(serverConn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		serverConn.Write([]byte(ServerHandshakeResponse(key)))
	}()

	if err := ClientHandshake(clientConn, "example.com", "/", key); err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}
}

func TestClientHandshakeRejectsBadAccept(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		reader := bufio.NewReader(serverConn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		serverConn.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: bogus\r\n\r\n"))
	}()

	if err := ClientHandshake(clientConn, "example.com", "/", "dGhlIHNhbXBsZSBub25jZQ=="); err == nil {
		t.Fatal("expected error for mismatched accept key")
	}
}
