package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPlainChannelConnectReadWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		conn.Read(buf)
		conn.Write(buf)
	}()

	ch := NewPlainChannel(ln.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if ch.State() != StateReady {
		t.Fatalf("state = %v, want ready", ch.State())
	}

	if _, err := ch.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := ch.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("echoed = %q, want hello", buf)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ch.State() != StateClosed {
		t.Fatalf("state = %v, want closed", ch.State())
	}

	<-serverDone
}

func TestPlainChannelConnectFailure(t *testing.T) {
	ch := NewPlainChannel("127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := ch.Connect(ctx); err == nil {
		t.Fatal("expected connect failure against closed port")
	}
	if ch.State() != StateIdle {
		t.Fatalf("state = %v, want idle after failed connect", ch.State())
	}
}
