package exchange

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/djkazic/stratum-engine/internal/wsproto"
	"go.uber.org/zap"
)

func TestSessionSubmitAndOrderAck(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	clientConn := wsproto.NewConn(a, true)
	serverConn := wsproto.NewConn(b, false)

	sess := NewSession(clientConn, zap.NewNop())

	go func() {
		msg, err := serverConn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		json.Unmarshal(msg.Payload, &env)

		ackPayload, _ := json.Marshal(map[string]interface{}{
			"type":   "order_ack",
			"ticket": env.Ticket,
			"data":   map[string]string{"status": "accepted"},
		})
		serverConn.WriteText(ackPayload)
	}()

	ticket, result, err := sess.Submit(json.RawMessage(`{"side":"buy"}`))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ticket == 0 {
		t.Fatal("expected non-zero ticket")
	}

	go sess.ReadLoop(nil)

	select {
	case d := <-result:
		if d.Kind != KindOrderAck {
			t.Fatalf("kind = %v, want order_ack", d.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestSessionBusyWhenTableFull(t *testing.T) {
	sess := &Session{pending: make(map[uint64]chan Dispatched)}
	for i := 0; i < MaxInFlight; i++ {
		sess.pending[uint64(i)] = make(chan Dispatched, 1)
	}
	if _, _, err := sess.Submit(json.RawMessage(`{}`)); err != ErrBusy {
		t.Fatalf("want ErrBusy, got %v", err)
	}
}

func TestSessionUnsolicitedMessageDispatchedToHandler(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	serverConn := wsproto.NewConn(b, false)
	sess := NewSession(wsproto.NewConn(a, true), zap.NewNop())

	go func() {
		tradePayload, _ := json.Marshal(map[string]interface{}{
			"type": "trade",
			"data": map[string]string{"price": "100"},
		})
		serverConn.WriteText(tradePayload)
	}()

	received := make(chan Dispatched, 1)
	go sess.ReadLoop(func(d Dispatched) { received <- d })

	select {
	case d := <-received:
		if d.Kind != KindTrade {
			t.Fatalf("kind = %v, want trade", d.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade dispatch")
	}
}
