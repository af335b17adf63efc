// Package hashkernel implements the double-SHA-256 hot path used by the
// mining search loop: a scalar compression function with reusable midstate,
// and an optional SIMD lane path for hashing several block headers per call.
package hashkernel

import "encoding/binary"

// Size is the digest length in bytes.
const Size = 32

// BlockSize is the SHA-256 compression block length in bytes.
const BlockSize = 64

var k = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// initState is the FIPS-180-4 initial hash value H(0).
var initState = State{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
	0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

// State is the 256-bit SHA-256 chaining state: eight 32-bit words.
type State [8]uint32

func rotr(x uint32, n uint) uint32 { return (x >> n) | (x << (32 - n)) }

// compress folds one 64-byte block into the running state. It never
// branches on the contents of block, only on its fixed 64-byte length,
// so the cost is identical for any input.
func compress(state *State, block []byte) {
	var w [64]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(block[i*4:])
	}
	for i := 16; i < 64; i++ {
		s0 := rotr(w[i-15], 7) ^ rotr(w[i-15], 18) ^ (w[i-15] >> 3)
		s1 := rotr(w[i-2], 17) ^ rotr(w[i-2], 19) ^ (w[i-2] >> 10)
		w[i] = w[i-16] + s0 + w[i-7] + s1
	}

	a, b, c, d, e, f, g, h := state[0], state[1], state[2], state[3], state[4], state[5], state[6], state[7]

	for i := 0; i < 64; i++ {
		s1 := rotr(e, 6) ^ rotr(e, 11) ^ rotr(e, 25)
		ch := (e & f) ^ (^e & g)
		t1 := h + s1 + ch + k[i] + w[i]
		s0 := rotr(a, 2) ^ rotr(a, 13) ^ rotr(a, 22)
		maj := (a & b) ^ (a & c) ^ (b & c)
		t2 := s0 + maj

		h, g, f, e = g, f, e, d+t1
		d, c, b, a = c, b, a, t1+t2
	}

	state[0] += a
	state[1] += b
	state[2] += c
	state[3] += d
	state[4] += e
	state[5] += f
	state[6] += g
	state[7] += h
}

// pad produces the FIPS-180-4 length-padded message for a message of the
// given bit length, given the trailing bytes that don't fill a full block.
func pad(tail []byte, totalLen uint64) []byte {
	bitLen := totalLen * 8
	padLen := 64 - ((len(tail) + 9) % 64)
	buf := make([]byte, len(tail)+1+padLen+8)
	copy(buf, tail)
	buf[len(tail)] = 0x80
	binary.BigEndian.PutUint64(buf[len(buf)-8:], bitLen)
	return buf
}

// Sum256 computes the plain SHA-256 digest of data. It is a correctness
// reference used by tests and by the non-header general-purpose path; the
// header fast path below bypasses it to reuse midstate across nonce sweeps.
func Sum256(data []byte) [Size]byte {
	state := initState
	full := len(data) / BlockSize * BlockSize
	for off := 0; off < full; off += BlockSize {
		compress(&state, data[off:off+BlockSize])
	}
	for _, block := range splitBlocks(pad(data[full:], uint64(len(data)))) {
		compress(&state, block)
	}
	return state.Bytes()
}

func splitBlocks(buf []byte) [][]byte {
	blocks := make([][]byte, 0, len(buf)/BlockSize)
	for off := 0; off < len(buf); off += BlockSize {
		blocks = append(blocks, buf[off:off+BlockSize])
	}
	return blocks
}

// Bytes renders a State as its big-endian digest bytes.
func (s State) Bytes() [Size]byte {
	var out [Size]byte
	for i, word := range s {
		binary.BigEndian.PutUint32(out[i*4:], word)
	}
	return out
}

// Midstate folds the first 64 bytes of an 80-byte block header into the
// running SHA-256 state. Reused across a nonce sweep since header bytes
// [0,64) never change within a job/extranonce2 combination.
func Midstate(first64 []byte) State {
	if len(first64) != BlockSize {
		panic("hashkernel: midstate input must be exactly 64 bytes")
	}
	state := initState
	compress(&state, first64)
	return state
}

// FinishHeader completes an 80-byte header hash given a precomputed
// midstate and the last 16 bytes (ntime, nbits, nonce all folded into the
// header's final 4-byte fields by the caller — last16 is header[64:80]).
func FinishHeader(mid State, last16 []byte) [Size]byte {
	if len(last16) != 16 {
		panic("hashkernel: finish-header input must be exactly 16 bytes")
	}
	state := mid
	compress(&state, pad(last16, 80))
	return state.Bytes()
}

// Sha256dHeader computes sha256d over an 80-byte block header without
// reusing midstate; equivalent to Sha256d(header) but named for the header
// fast path's call sites and test parity (spec.md §8: "SIMD and scalar
// variants produce identical digests for identical inputs").
func Sha256dHeader(header []byte) [Size]byte {
	if len(header) != 80 {
		panic("hashkernel: header must be exactly 80 bytes")
	}
	first := FinishHeader(Midstate(header[:64]), header[64:80])
	return Sum256(first[:])
}

// Sha256d computes SHA-256(SHA-256(data)).
func Sha256d(data []byte) [Size]byte {
	first := Sum256(data)
	return Sum256(first[:])
}
