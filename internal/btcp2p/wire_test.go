package btcp2p

import (
	"testing"

	"github.com/djkazic/stratum-engine/internal/framer"
)

func TestEncodeMessageParsesWithFramer(t *testing.T) {
	payload := []byte("payload bytes")
	msg := EncodeMessage(MagicMainnet, "tx", payload)

	res := framer.ParseBitcoinMessage(msg, MagicMainnet)
	if res.Outcome != framer.FrameReady {
		t.Fatalf("want FrameReady, got %+v", res)
	}
	if got := framer.BitcoinCommand(msg); got != "tx" {
		t.Fatalf("command = %q, want tx", got)
	}
}

func TestEncodeDecodeVersionRoundTrip(t *testing.T) {
	v := VersionMessage{
		Version:     ProtocolVersion,
		Services:    ServicesNone,
		Timestamp:   1700000000,
		AddrRecvSvc: 0,
		Nonce:       0xdeadbeefcafebabe,
		UserAgent:   "/stratum-engine:0.1/",
		StartHeight: 850000,
		Relay:       false,
	}
	payload := EncodeVersion(v)
	got, err := DecodeVersion(payload)
	if err != nil {
		t.Fatalf("DecodeVersion: %v", err)
	}

	if got.Version != v.Version || got.Nonce != v.Nonce || got.UserAgent != v.UserAgent ||
		got.StartHeight != v.StartHeight || got.Relay != v.Relay {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, v)
	}
}

func TestEncodeDecodeInvRoundTrip(t *testing.T) {
	items := []InvVector{
		{Type: InvTypeTx, Hash: [32]byte{1}},
		{Type: InvTypeTx, Hash: [32]byte{2}},
		{Type: InvTypeBlock, Hash: [32]byte{3}},
	}
	payload := EncodeInv(items)
	got, err := DecodeInv(payload)
	if err != nil {
		t.Fatalf("DecodeInv: %v", err)
	}
	if len(got) != len(items) {
		t.Fatalf("len = %d, want %d", len(got), len(items))
	}
	for i := range items {
		if got[i] != items[i] {
			t.Fatalf("item %d = %+v, want %+v", i, got[i], items[i])
		}
	}
}
