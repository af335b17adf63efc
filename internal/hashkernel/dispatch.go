package hashkernel

import (
	"sync"

	"github.com/klauspost/cpuid/v2"
	simd "github.com/minio/sha256-simd"
)

// Capability identifies the dispatch path chosen once at engine start.
type Capability int

const (
	// CapScalar is the portable hand-rolled compression path (always
	// available, used for correctness checks and on CPUs lacking SHA
	// extensions or AVX2).
	CapScalar Capability = iota
	// CapAccelerated uses sha256-simd's accelerated scalar implementation
	// (SHA-NI / AVX2 depending on what the CPU offers).
	CapAccelerated
	// CapLanes8 uses sha256-simd's multi-buffer AVX512 server to hash up
	// to 8 independent headers per call.
	CapLanes8
)

var (
	initOnce sync.Once
	cap_     Capability
)

// detect probes CPU features once. Never mutated after Init returns —
// spec.md §9: "treat as immutable after engine_init."
func detect() Capability {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F) && cpuid.CPU.Has(cpuid.SHA):
		return CapLanes8
	case cpuid.CPU.Has(cpuid.SHA) || cpuid.CPU.Has(cpuid.AVX2):
		return CapAccelerated
	default:
		return CapScalar
	}
}

// Init probes the CPU once and records the dispatch capability. Safe to
// call from multiple goroutines; only the first call has effect.
func Init() Capability {
	initOnce.Do(func() {
		cap_ = detect()
	})
	return cap_
}

// Selected returns the capability chosen by Init (CapScalar if Init was
// never called).
func Selected() Capability {
	return cap_
}

// Sum256Fast computes SHA-256 using the accelerated implementation when
// available, falling back to the hand-rolled scalar path otherwise. Used
// by the non-header general-purpose hashing call sites (mempool txid,
// Merkle tree folding) where there is no midstate to reuse.
func Sum256Fast(data []byte) [Size]byte {
	switch Selected() {
	case CapAccelerated, CapLanes8:
		return simd.Sum256(data)
	default:
		return Sum256(data)
	}
}

// Sha256dFast is the double-SHA-256 counterpart of Sum256Fast.
func Sha256dFast(data []byte) [Size]byte {
	first := Sum256Fast(data)
	second := Sum256Fast(first[:])
	return second
}

// LaneServer batches independent 80-byte header hashes through
// sha256-simd's AVX512 multi-buffer server so N headers complete in the
// time of roughly one scalar hash when the CPU supports it. It degrades to
// sequential scalar Sha256dHeader calls when CapLanes8 was not selected, so
// callers never need a separate code path for the no-SIMD case.
type LaneServer struct {
	srv *simd.Avx512Server
}

// NewLaneServer constructs a lane server bound to the process-wide
// capability selected by Init.
func NewLaneServer() *LaneServer {
	ls := &LaneServer{}
	if Selected() == CapLanes8 && simd.Avx512ServerUp() {
		ls.srv = simd.NewAvx512Server()
	}
	return ls
}

// HashHeaders computes sha256d for each of N independent 80-byte headers,
// writing results into out (len(out) must equal len(headers)). Headers
// share no state with each other; each is hashed independently, the
// "lanes" win comes from the SIMD server's multi-buffer scheduling.
func (ls *LaneServer) HashHeaders(headers [][]byte, out [][Size]byte) {
	if ls.srv == nil {
		for i, h := range headers {
			out[i] = Sha256dHeader(h)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(headers))
	for i, h := range headers {
		i, h := i, h
		go func() {
			defer wg.Done()
			hasher := simd.NewAvx512(ls.srv)
			hasher.Write(h)
			var first [Size]byte
			copy(first[:], hasher.Sum(nil))
			hasher2 := simd.NewAvx512(ls.srv)
			hasher2.Write(first[:])
			copy(out[i][:], hasher2.Sum(nil))
		}()
	}
	wg.Wait()
}

// Close releases the underlying AVX512 server goroutine, if one was
// started.
func (ls *LaneServer) Close() {
	if ls.srv != nil {
		ls.srv.Close()
	}
}
