package btcp2p

import (
	"testing"

	"go.uber.org/zap"
)

func TestSessionRejectsMessageBeforeVerack(t *testing.T) {
	sess := NewSession(MagicMainnet, zap.NewNop())

	invPayload := EncodeInv([]InvVector{{Type: InvTypeTx, Hash: [32]byte{1}}})
	if err := sess.HandleMessage("inv", invPayload); err != ErrPrematureMessage {
		t.Fatalf("want ErrPrematureMessage, got %v", err)
	}
}

func TestSessionAllowsVersionAndVerackBeforeHandshake(t *testing.T) {
	sess := NewSession(MagicMainnet, zap.NewNop())

	versionPayload := EncodeVersion(VersionMessage{Version: ProtocolVersion, UserAgent: "/test/"})
	if err := sess.HandleMessage("version", versionPayload); err != nil {
		t.Fatalf("version before handshake should be allowed: %v", err)
	}
	if err := sess.HandleMessage("verack", nil); err != nil {
		t.Fatalf("verack before handshake should be allowed: %v", err)
	}
}

func TestSessionHandshakeCompletesBothDirections(t *testing.T) {
	sess := NewSession(MagicMainnet, zap.NewNop())

	versionPayload := EncodeVersion(VersionMessage{Version: ProtocolVersion, UserAgent: "/test/"})
	sess.HandleMessage("version", versionPayload)
	sess.HandleMessage("verack", nil)
	if sess.State() == StateHandshakeComplete {
		t.Fatal("handshake should not be complete until we've sent our own verack")
	}

	sess.MarkVerackSent()
	if sess.State() != StateHandshakeComplete {
		t.Fatalf("state = %v, want complete", sess.State())
	}

	invPayload := EncodeInv([]InvVector{{Type: InvTypeTx, Hash: [32]byte{1}}})
	var received []InvVector
	sess.OnInv(func(items []InvVector) { received = items })
	if err := sess.HandleMessage("inv", invPayload); err != nil {
		t.Fatalf("inv after handshake should be allowed: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("OnInv callback not invoked with items")
	}
}

func TestInvQueueFlushesAtBatchSize(t *testing.T) {
	q := NewInvQueue()

	var items []InvVector
	for i := 0; i < 10; i++ {
		items = append(items, InvVector{Type: InvTypeTx, Hash: [32]byte{byte(i)}})
	}
	if flush := q.Add(items); flush {
		t.Fatal("should not flush below batch size")
	}
	if q.Len() != 10 {
		t.Fatalf("Len = %d, want 10", q.Len())
	}

	var big []InvVector
	for i := 0; i < InvBatchSize; i++ {
		big = append(big, InvVector{Type: InvTypeTx, Hash: [32]byte{byte(i), byte(i >> 8)}})
	}
	if flush := q.Add(big); !flush {
		t.Fatal("should flush once batch size reached")
	}

	flushed := q.Flush()
	if len(flushed) == 0 {
		t.Fatal("expected flushed items")
	}
	if q.Len() != 0 {
		t.Fatalf("Len after flush = %d, want 0", q.Len())
	}
}

func TestInvQueueDedupes(t *testing.T) {
	q := NewInvQueue()
	hash := [32]byte{9}
	q.Add([]InvVector{{Type: InvTypeTx, Hash: hash}})
	q.Add([]InvVector{{Type: InvTypeTx, Hash: hash}})
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (deduped)", q.Len())
	}
}
