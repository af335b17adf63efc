package stratum

import (
	"encoding/hex"
	"testing"

	"github.com/djkazic/stratum-engine/internal/hashkernel"
)

func TestParseNotifyAndBuildHeaderRoundTrip(t *testing.T) {
	prevHashInternal := make([]byte, 32)
	for i := range prevHashInternal {
		prevHashInternal[i] = byte(i)
	}
	prevHashStratum := append([]byte(nil), prevHashInternal...)
	swapWords4(prevHashStratum)

	params := []interface{}{
		"job-1",
		hex.EncodeToString(prevHashStratum),
		"aa",
		"bb",
		[]interface{}{},
		"20000000",
		"1d00ffff",
		"5f5e1000",
		true,
	}

	job, err := ParseNotify(params)
	if err != nil {
		t.Fatalf("ParseNotify: %v", err)
	}
	if job.ID != "job-1" || !job.CleanJobs {
		t.Fatalf("unexpected job: %+v", job)
	}

	header, coinbase, err := job.BuildHeader(job.Version, "deadbeef", "00000000", job.NTime, "00000001")
	if err != nil {
		t.Fatalf("BuildHeader: %v", err)
	}
	if len(header) != 80 {
		t.Fatalf("header len = %d, want 80", len(header))
	}
	if len(coinbase) == 0 {
		t.Fatal("expected non-empty coinbase bytes")
	}

	if hex.EncodeToString(header[4:36]) != hex.EncodeToString(prevHashInternal) {
		t.Fatalf("prevhash not reconstructed to internal order: got %x want %x", header[4:36], prevHashInternal)
	}
}

func TestBuildHeaderMerkleRootMatchesManualFold(t *testing.T) {
	job := &Job{
		Coinbase1:      "01",
		Coinbase2:      "02",
		MerkleBranches: nil,
		Version:        "20000000",
		NBits:          "1d00ffff",
		NTime:          "5f5e1000",
		PrevHashField:  hex.EncodeToString(make([]byte, 32)),
	}

	header, coinbase, err := job.BuildHeader(job.Version, "", "", job.NTime, "00000000")
	if err != nil {
		t.Fatalf("BuildHeader: %v", err)
	}

	wantCoinbaseHash := hashkernel.Sha256d(coinbase)
	if hex.EncodeToString(header[36:68]) != hex.EncodeToString(wantCoinbaseHash[:]) {
		t.Fatalf("merkle root (no branches) should equal coinbase hash: got %x want %x",
			header[36:68], wantCoinbaseHash)
	}
}
