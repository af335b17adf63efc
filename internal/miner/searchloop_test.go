package miner

import (
	"math/big"
	"testing"
	"time"

	"github.com/djkazic/stratum-engine/internal/hashkernel"
)

func TestPoolFindsShareBelowEasyTarget(t *testing.T) {
	var prefix [76]byte
	for i := range prefix {
		prefix[i] = byte(i)
	}

	// An easy target (max possible) guarantees the very first nonce
	// tried satisfies it.
	easyTarget := new(big.Int).Lsh(big.NewInt(1), 256)
	easyTarget.Sub(easyTarget, big.NewInt(1))

	pool := NewPool(2)
	buildHeader := func(extranonce2 uint64) ([76]byte, error) { return prefix, nil }
	pool.SetJob(&Job{BuildHeader: buildHeader, ShareTarget: easyTarget, BlockTarget: nil})

	stop := make(chan struct{})
	go pool.Run(stop)
	defer close(stop)

	select {
	case share := <-pool.Shares():
		header := make([]byte, 80)
		copy(header, prefix[:])
		header[76] = byte(share.Nonce)
		header[77] = byte(share.Nonce >> 8)
		header[78] = byte(share.Nonce >> 16)
		header[79] = byte(share.Nonce >> 24)
		want := hashkernel.Sha256dHeader(header)
		if share.Hash != want {
			t.Fatalf("share hash mismatch: got %x want %x", share.Hash, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for share with an easy target")
	}
}

func TestPoolFlagsBlockCandidateSeparatelyFromShare(t *testing.T) {
	var prefix [76]byte
	easyTarget := new(big.Int).Lsh(big.NewInt(1), 256)
	easyTarget.Sub(easyTarget, big.NewInt(1))
	impossibleTarget := big.NewInt(0)

	pool := NewPool(1)
	buildHeader := func(extranonce2 uint64) ([76]byte, error) { return prefix, nil }
	pool.SetJob(&Job{BuildHeader: buildHeader, ShareTarget: easyTarget, BlockTarget: impossibleTarget})

	stop := make(chan struct{})
	go pool.Run(stop)
	defer close(stop)

	select {
	case share := <-pool.Shares():
		if share.IsBlockCandidate {
			t.Fatal("share should not be flagged as block candidate against an impossible block target")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for share")
	}
}

// TestRunLaneScalarSeedsExtranonce2FromLaneIndex exercises runLaneScalar
// directly (bypassing Run/NewPool's lane fan-out) to check each lane
// starts its extranonce2 sweep at its own lane index, per spec.md §4.8's
// "lanes partition the extranonce2 axis disjointly."
func TestRunLaneScalarSeedsExtranonce2FromLaneIndex(t *testing.T) {
	const lanes = 3
	impossibleTarget := big.NewInt(0)

	for lane := 0; lane < lanes; lane++ {
		lane := lane
		first := make(chan uint64, 1)
		buildHeader := func(extranonce2 uint64) ([76]byte, error) {
			select {
			case first <- extranonce2:
			default:
			}
			var prefix [76]byte
			return prefix, nil
		}

		pool := NewPool(lanes)
		pool.SetJob(&Job{BuildHeader: buildHeader, ShareTarget: impossibleTarget})

		stop := make(chan struct{})
		go pool.runLaneScalar(lane, stop)

		select {
		case got := <-first:
			if got != uint64(lane) {
				t.Fatalf("lane %d: first extranonce2 = %d, want %d", lane, got, lane)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("lane %d: timed out waiting for BuildHeader", lane)
		}
		close(stop)
	}
}

func TestHashMeetsTargetCompareByInternalByteOrder(t *testing.T) {
	// Internal order [0x01, 0x00, ..., 0x00] reverses to big-endian
	// value 1 — the smallest possible nonzero hash, so it must meet any
	// positive target.
	var hash [32]byte
	hash[0] = 0x01
	target := big.NewInt(1)
	if !hashMeetsTarget(hash, target) {
		t.Fatal("hash == target should meet target (<=)")
	}

	target0 := big.NewInt(0)
	if hashMeetsTarget(hash, target0) {
		t.Fatal("hash > 0 must not meet a zero target")
	}
}
