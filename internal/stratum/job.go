package stratum

import (
	"encoding/hex"
	"fmt"

	"github.com/djkazic/stratum-engine/internal/hashkernel"
	"github.com/djkazic/stratum-engine/pkg/util"
)

// Job is the client-side view of a mining.notify job: everything needed
// to build search-loop headers once the miner supplies extranonce2 and
// sweeps nonce values.
type Job struct {
	ID             string
	PrevHashField  string // Stratum v1 word-swapped prevhash hex, as received
	Coinbase1      string
	Coinbase2      string
	MerkleBranches []string
	Version        string // big-endian hex, 4 bytes
	NBits          string // big-endian hex, 4 bytes
	NTime          string // big-endian hex, 4 bytes
	CleanJobs      bool
}

// ParseNotify builds a Job from mining.notify's positional params:
// [job_id, prevhash, coinb1, coinb2, merkle_branch, version, nbits, ntime, clean_jobs].
func ParseNotify(params []interface{}) (*Job, error) {
	if len(params) < 9 {
		return nil, fmt.Errorf("stratum: mining.notify expects 9 params, got %d", len(params))
	}

	id, _ := params[0].(string)
	prevHash, _ := params[1].(string)
	coinb1, _ := params[2].(string)
	coinb2, _ := params[3].(string)

	branchesRaw, _ := params[4].([]interface{})
	branches := make([]string, 0, len(branchesRaw))
	for _, b := range branchesRaw {
		s, _ := b.(string)
		branches = append(branches, s)
	}

	version, _ := params[5].(string)
	nbits, _ := params[6].(string)
	ntime, _ := params[7].(string)
	clean, _ := params[8].(bool)

	return &Job{
		ID:             id,
		PrevHashField:  prevHash,
		Coinbase1:      coinb1,
		Coinbase2:      coinb2,
		MerkleBranches: branches,
		Version:        version,
		NBits:          nbits,
		NTime:          ntime,
		CleanJobs:      clean,
	}, nil
}

// BuildCoinbase assembles the full coinbase transaction bytes from the
// job's two halves and the session's extranonce1/extranonce2.
func (j *Job) BuildCoinbase(extranonce1, extranonce2 string) ([]byte, error) {
	coinbaseHex := j.Coinbase1 + extranonce1 + extranonce2 + j.Coinbase2
	return hex.DecodeString(coinbaseHex)
}

// ComputeMerkleRoot folds the job's merkle branches onto a coinbase hash,
// grounded on the teacher's work/template.go ComputeMerkleRoot — the
// miner-side counterpart of the pool's ComputeMerkleBranches.
func (j *Job) ComputeMerkleRoot(coinbaseHash []byte) ([]byte, error) {
	current := make([]byte, len(coinbaseHash))
	copy(current, coinbaseHash)

	for _, branch := range j.MerkleBranches {
		branchBytes, err := hex.DecodeString(branch)
		if err != nil {
			return nil, fmt.Errorf("stratum: invalid merkle branch: %w", err)
		}
		combined := append(append([]byte(nil), current...), branchBytes...)
		h := hashkernel.Sha256dFast(combined)
		current = h[:]
	}
	return current, nil
}

// BuildHeader reconstructs the 80-byte block header for a (job,
// extranonce2, ntime, nonce) tuple, and returns the coinbase bytes used
// to build it (needed if the share turns out to beat the block target
// and must be submitted upstream as a full block). version is the
// possibly version-rolled value (BIP 310); when version rolling is not
// in use it equals job.Version.
//
// The version/nbits/ntime/nonce fields arrive over Stratum as big-endian
// hex and must be byte-reversed to the header's little-endian encoding;
// the prevhash arrives already word-swapped by the pool and is converted
// back to internal order here. This mirrors the teacher's
// work/template.go ReconstructHeader, run in the opposite direction (a
// pool validates submitted shares; a miner builds headers to search).
func (j *Job) BuildHeader(version, extranonce1, extranonce2, ntime, nonce string) (header, coinbase []byte, err error) {
	coinbase, err = j.BuildCoinbase(extranonce1, extranonce2)
	if err != nil {
		return nil, nil, fmt.Errorf("stratum: decode coinbase: %w", err)
	}

	coinbaseHash := hashkernel.Sha256dFast(coinbase)
	merkleRoot, err := j.ComputeMerkleRoot(coinbaseHash[:])
	if err != nil {
		return nil, nil, err
	}

	versionBytes, err := hexBEToLE(version, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("stratum: decode version: %w", err)
	}
	prevHashBytes, err := stratumPrevHashToInternal(j.PrevHashField)
	if err != nil {
		return nil, nil, fmt.Errorf("stratum: decode prevhash: %w", err)
	}
	ntimeBytes, err := hexBEToLE(ntime, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("stratum: decode ntime: %w", err)
	}
	nbitsBytes, err := hexBEToLE(j.NBits, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("stratum: decode nbits: %w", err)
	}
	nonceBytes, err := hexBEToLE(nonce, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("stratum: decode nonce: %w", err)
	}

	header = make([]byte, 80)
	copy(header[0:4], versionBytes)
	copy(header[4:36], prevHashBytes)
	copy(header[36:68], merkleRoot)
	copy(header[68:72], ntimeBytes)
	copy(header[72:76], nbitsBytes)
	copy(header[76:80], nonceBytes)

	return header, coinbase, nil
}

func hexBEToLE(hexStr string, expectedLen int) ([]byte, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", hexStr, err)
	}
	if len(b) != expectedLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", expectedLen, len(b))
	}
	return util.ReverseBytes(b), nil
}

func stratumPrevHashToInternal(stratumHex string) ([]byte, error) {
	b, err := hex.DecodeString(stratumHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	swapWords4(b)
	return b, nil
}

func swapWords4(b []byte) {
	for i := 0; i < len(b)-3; i += 4 {
		b[i], b[i+3] = b[i+3], b[i]
		b[i+1], b[i+2] = b[i+2], b[i+1]
	}
}
