// Package miner implements the Mining Search Loop (spec.md §4.1/§4.8): a
// per-lane worker pool that sweeps nonce values against a job's
// midstate, checking for job supersession on a fixed cadence, grounded
// on the teacher pack's work/generator.go atomic-generation-counter idiom
// and the reference cpuminer.go (kangaroo-exccd) per-worker-goroutine
// shape with a periodic staleness check standing in for its ticker-based
// block-template-freshness check.
package miner

import (
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/djkazic/stratum-engine/internal/hashkernel"
)

// CheckInterval is how many hashes a lane sweeps before checking whether
// its job generation has been superseded (spec.md §4.8: "every 8192
// hashes").
const CheckInterval = 8192

// Job is the immutable search input for one generation: a header
// builder closure and the two targets a found nonce is compared
// against. BuildHeader rebuilds the 76-byte header prefix (everything
// but the nonce) for a given extranonce2 — spec.md §4.8 partitions the
// search space across lanes on the extranonce2 axis, each lane then
// sweeping the full nonce range for its own extranonce2 before moving
// to the next one it owns.
type Job struct {
	BuildHeader func(extranonce2 uint64) (prefix76 [76]byte, err error)
	ShareTarget *big.Int
	BlockTarget *big.Int
}

// Share is a nonce that met ShareTarget (and, if IsBlockCandidate, also
// met BlockTarget), found against a specific extranonce2.
type Share struct {
	Lane             int
	Extranonce2      uint64
	Nonce            uint32
	Hash             [32]byte
	IsBlockCandidate bool
}

// Pool runs one goroutine per lane, each sweeping a disjoint slice of
// the extranonce2 space (lane i owns extranonce2 values i, i+Lanes,
// i+2*Lanes, ...), rebuilding the header and sweeping the full 32-bit
// nonce range for each one it owns, against the current job.
// Generation is an atomic counter: SetJob bumps it, and each lane
// reloads the job and restarts its sweep once it observes a newer
// generation, checked every CheckInterval hashes.
type Pool struct {
	Lanes int

	generation atomic.Uint64
	jobMu      sync.Mutex
	job        *Job

	shares chan Share
	lanes  *hashkernel.LaneServer
}

// NewPool builds a Pool with the given lane count (typically
// runtime.NumCPU()).
func NewPool(lanes int) *Pool {
	if lanes <= 0 {
		lanes = 1
	}
	return &Pool{
		Lanes:  lanes,
		shares: make(chan Share, 256),
		lanes:  hashkernel.NewLaneServer(),
	}
}

// Shares returns the channel share/block-candidate results are delivered
// on.
func (p *Pool) Shares() <-chan Share {
	return p.shares
}

// SetJob installs a new job and bumps the generation counter, causing
// all lanes to restart their sweep against it within CheckInterval
// hashes.
func (p *Pool) SetJob(j *Job) {
	p.jobMu.Lock()
	p.job = j
	p.jobMu.Unlock()
	p.generation.Add(1)
}

func (p *Pool) currentJob() (*Job, uint64) {
	p.jobMu.Lock()
	j := p.job
	p.jobMu.Unlock()
	return j, p.generation.Load()
}

// Run starts all lanes and blocks until stop is closed.
func (p *Pool) Run(stop <-chan struct{}) {
	var wg sync.WaitGroup
	for lane := 0; lane < p.Lanes; lane++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			p.runLane(lane, stop)
		}(lane)
	}
	wg.Wait()
	if p.lanes != nil {
		p.lanes.Close()
	}
}

// runLane picks its hashing path once, per spec.md §4.1's "compile-time
// capability...chosen once at engine start" dispatch requirement, rather
// than re-probing per hash.
func (p *Pool) runLane(lane int, stop <-chan struct{}) {
	if hashkernel.Selected() == hashkernel.CapLanes8 && p.lanes != nil {
		p.runLaneSIMD(lane, stop)
		return
	}
	p.runLaneScalar(lane, stop)
}

// runLaneScalar sweeps one extranonce2 at a time using the
// midstate/FinishHeader fast path, advancing to the next extranonce2
// this lane owns (extranonce2 += Lanes) once the full nonce range wraps.
func (p *Pool) runLaneScalar(lane int, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		job, gen := p.currentJob()
		if job == nil {
			continue
		}

		extranonce2 := uint64(lane)
		for {
			prefix, err := job.BuildHeader(extranonce2)
			if err != nil {
				// can't rebuild a header for this extranonce2; drop
				// back to the outer loop, which reloads the current job
				// and retries BuildHeader until SetJob installs another.
				break
			}

			header := make([]byte, 80)
			copy(header, prefix[:])
			mid := hashkernel.Midstate(header[:64])

			superseded := false
			nonce := uint32(0)
			hashesSinceCheck := 0
			for {
				select {
				case <-stop:
					return
				default:
				}

				header[76] = byte(nonce)
				header[77] = byte(nonce >> 8)
				header[78] = byte(nonce >> 16)
				header[79] = byte(nonce >> 24)

				digest := hashkernel.FinishHeader(mid, header[64:80])
				finalHash := hashkernel.Sum256(digest[:])

				if hashMeetsTarget(finalHash, job.ShareTarget) {
					isBlock := job.BlockTarget != nil && hashMeetsTarget(finalHash, job.BlockTarget)
					select {
					case p.shares <- Share{Lane: lane, Extranonce2: extranonce2, Nonce: nonce, Hash: finalHash, IsBlockCandidate: isBlock}:
					default:
					}
				}

				prevNonce := nonce
				nonce++
				hashesSinceCheck++
				if hashesSinceCheck >= CheckInterval {
					hashesSinceCheck = 0
					if _, newGen := p.currentJob(); newGen != gen {
						superseded = true
						break
					}
				}
				if nonce < prevNonce {
					// swept the full nonce range for this extranonce2
					// without a hit or a job change; move to the next
					// extranonce2 this lane owns.
					break
				}
			}

			if superseded {
				break
			}
			extranonce2 += uint64(p.Lanes)
		}
	}
}

// simdBatch is how many headers runLaneSIMD hashes per LaneServer call.
// sha256-simd's AVX512 multi-buffer server is 8-wide, matching CapLanes8.
const simdBatch = 8

// runLaneSIMD mirrors runLaneScalar's extranonce2/nonce sweep but hashes
// simdBatch headers per call through the lane server, advancing nonce by
// simdBatch each step instead of 1.
func (p *Pool) runLaneSIMD(lane int, stop <-chan struct{}) {
	headers := make([][]byte, simdBatch)
	for i := range headers {
		headers[i] = make([]byte, 80)
	}
	out := make([][hashkernel.Size]byte, simdBatch)

	for {
		select {
		case <-stop:
			return
		default:
		}

		job, gen := p.currentJob()
		if job == nil {
			continue
		}

		extranonce2 := uint64(lane)
		for {
			prefix, err := job.BuildHeader(extranonce2)
			if err != nil {
				break
			}

			superseded := false
			nonce := uint32(0)
			hashesSinceCheck := 0
			for {
				select {
				case <-stop:
					return
				default:
				}

				for i := 0; i < simdBatch; i++ {
					copy(headers[i], prefix[:])
					n := nonce + uint32(i)
					headers[i][76] = byte(n)
					headers[i][77] = byte(n >> 8)
					headers[i][78] = byte(n >> 16)
					headers[i][79] = byte(n >> 24)
				}
				p.lanes.HashHeaders(headers, out)

				for i, finalHash := range out {
					if hashMeetsTarget(finalHash, job.ShareTarget) {
						n := nonce + uint32(i)
						isBlock := job.BlockTarget != nil && hashMeetsTarget(finalHash, job.BlockTarget)
						select {
						case p.shares <- Share{Lane: lane, Extranonce2: extranonce2, Nonce: n, Hash: finalHash, IsBlockCandidate: isBlock}:
						default:
						}
					}
				}

				prevNonce := nonce
				nonce += simdBatch
				hashesSinceCheck += simdBatch
				if hashesSinceCheck >= CheckInterval {
					hashesSinceCheck = 0
					if _, newGen := p.currentJob(); newGen != gen {
						superseded = true
						break
					}
				}
				if nonce < prevNonce {
					break
				}
			}

			if superseded {
				break
			}
			extranonce2 += uint64(p.Lanes)
		}
	}
}

// hashMeetsTarget compares a hash (header double-SHA256 output, internal
// byte order) against a big-endian target, per the same convention as
// pkg/util.HashMeetsTarget.
func hashMeetsTarget(hash [32]byte, target *big.Int) bool {
	reversed := make([]byte, 32)
	for i, b := range hash {
		reversed[31-i] = b
	}
	hashInt := new(big.Int).SetBytes(reversed)
	return hashInt.Cmp(target) <= 0
}
