package main

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/stratum-engine/internal/checkpoint"
	"github.com/djkazic/stratum-engine/internal/metrics"
	"github.com/djkazic/stratum-engine/internal/miner"
	"github.com/djkazic/stratum-engine/internal/stratum"
	"github.com/djkazic/stratum-engine/internal/transport"
	"github.com/djkazic/stratum-engine/pkg/util"
)

// maxTargetCompact is Bitcoin mainnet's difficulty-1 target in compact
// form, the anchor DifficultyToTarget converts a pool's decimal
// difficulty against.
const maxTargetCompact = 0x1d00ffff

// runStratum dials the configured pool, completes subscribe/authorize,
// then drives the session's read loop and job/share plumbing until ctx
// is cancelled or the session needs to reconnect, looping with the
// Secure Channel's backoff policy on every disconnect (spec.md §4.3).
func (e *engineHandle) runStratum(ctx context.Context) error {
	backoff := transport.NewBackoff()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		started := time.Now()
		err := e.stratumSession(ctx)
		if err != nil {
			e.logger.Warn("stratum session ended", zap.Error(err))
		}
		// A session that stayed up for 60s or more resets the backoff.
		backoff.MarkReady(started)
		backoff.MaybeReset(time.Now())

		delay := backoff.Next()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *engineHandle) stratumSession(ctx context.Context) error {
	cfg := e.cfg.Stratum
	conn, err := dialStratum(ctx, cfg.PoolAddress, cfg.UseTLS)
	if err != nil {
		return fmt.Errorf("stratum: dial: %w", err)
	}
	defer conn.Close()

	codec := stratum.NewCodec(conn)
	sess := stratum.NewSession(codec, e.logger.Named("stratum"))

	sessCtx, cancel := e.scheduler.Register("stratum", "stratum", 120*time.Second)
	defer cancel()
	defer e.scheduler.Unregister("stratum")

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- sess.ReadLoop() }()

	if err := sess.Subscribe(cfg.UserAgent); err != nil {
		return fmt.Errorf("stratum: subscribe: %w", err)
	}
	if err := sess.Authorize(cfg.Worker, cfg.Password); err != nil {
		return fmt.Errorf("stratum: authorize: %w", err)
	}
	metrics.StratumSessionsConnected.Inc()
	defer metrics.StratumSessionsConnected.Dec()

	maxTarget := bigFromCompact(maxTargetCompact)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastJobID string
	for {
		select {
		case <-sessCtx.Done():
			return nil
		case err := <-readErrCh:
			return err
		case sh := <-e.minerPool.Shares():
			e.submitShare(sess, sh)
		case <-ticker.C:
			job := sess.CurrentJob()
			if job == nil || job.ID == lastJobID {
				continue
			}
			lastJobID = job.ID
			if err := e.publishStratumJob(sess, job, maxTarget); err != nil {
				e.logger.Warn("build search job", zap.Error(err))
			}
			if job.CleanJobs {
				e.recordJobSupersession(job.ID)
			}
			e.scheduler.Touch("stratum", 120*time.Second)
			if sess.ShouldReconnect() {
				return fmt.Errorf("stratum: too many consecutive submission failures")
			}
		}
	}
}

func dialStratum(ctx context.Context, addr string, useTLS bool) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !useTLS {
		return conn, nil
	}
	host, _, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		host = addr
	}
	tlsConn := tls.Client(conn, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// publishStratumJob installs a header-builder closure as the miner
// pool's current search job: BuildHeader rebuilds the header (and its
// merkle root) for whatever extranonce2 a lane is currently sweeping,
// per spec.md §4.8's "lanes partition the extranonce2 axis disjointly."
func (e *engineHandle) publishStratumJob(sess *stratum.Session, job *stratum.Job, maxTarget *big.Int) error {
	extranonce1, extranonce2Sz := sess.Extranonce()

	buildHeader := func(extranonce2 uint64) ([76]byte, error) {
		var prefix [76]byte
		header, _, err := job.BuildHeader(job.Version, extranonce1, encodeExtranonce2(extranonce2, extranonce2Sz), job.NTime, "00000000")
		if err != nil {
			return prefix, err
		}
		copy(prefix[:], header[:76])
		return prefix, nil
	}

	// Smoke-test extranonce2=0 so a malformed notify is caught here,
	// once, rather than silently inside every lane's sweep.
	if _, err := buildHeader(0); err != nil {
		return err
	}

	shareTarget := bigFromDifficulty(sess.ShareTarget(), maxTarget)
	blockTarget := bigFromCompactHex(job.NBits)

	e.minerPool.SetJob(&miner.Job{
		BuildHeader: buildHeader,
		ShareTarget: shareTarget,
		BlockTarget: blockTarget,
	})
	return nil
}

// submitShare reconstructs the nonce/ntime/extranonce2 tuple for a found
// share and submits it upstream.
func (e *engineHandle) submitShare(sess *stratum.Session, sh miner.Share) {
	job := sess.CurrentJob()
	if job == nil {
		return
	}
	_, extranonce2Sz := sess.Extranonce()
	extranonce2 := encodeExtranonce2(sh.Extranonce2, extranonce2Sz)

	var nonceLE [4]byte
	nonceLE[0] = byte(sh.Nonce)
	nonceLE[1] = byte(sh.Nonce >> 8)
	nonceLE[2] = byte(sh.Nonce >> 16)
	nonceLE[3] = byte(sh.Nonce >> 24)
	nonceHex := hex.EncodeToString(util.ReverseBytes(nonceLE[:]))

	metrics.SharesFound.Inc()
	if sh.IsBlockCandidate {
		metrics.BlockCandidatesFound.Inc()
	}

	accepted, err := sess.SubmitShare(e.cfg.Stratum.Worker, job.ID, extranonce2, job.NTime, nonceHex)
	if err != nil {
		e.logger.Warn("submit share", zap.Error(err))
		return
	}
	metrics.SharesSubmitted.Inc()
	if accepted {
		metrics.SharesAccepted.Inc()
	} else {
		metrics.SharesRejected.WithLabelValues("pool_rejected").Inc()
	}
}

// recordJobSupersession checkpoints a clean_jobs notify: every prior
// job generation is invalidated at once, per spec.md §4.3's handling of
// the stratum clean_jobs flag.
func (e *engineHandle) recordJobSupersession(jobID string) {
	gen := e.stratumGeneration.Add(1)
	if err := e.checkpoint.RecordJobSupersession(checkpoint.JobSupersession{
		SessionID:    "stratum",
		JobID:        jobID,
		Generation:   gen,
		SupersededAt: time.Now(),
	}); err != nil {
		e.logger.Warn("record job supersession checkpoint", zap.Error(err))
	}
}

// encodeExtranonce2 renders a lane's extranonce2 counter as a big-endian
// hex string padded to the pool-advertised byte width.
func encodeExtranonce2(v uint64, size int) string {
	b := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return hex.EncodeToString(b)
}

func bigFromCompact(compact uint32) *big.Int {
	return util.CompactToTarget(compact)
}

// bigFromCompactHex decodes a job's big-endian nbits hex field into its
// target. An undecodable field falls back to the mainnet minimum
// difficulty target (compact 0x1d00ffff).
func bigFromCompactHex(nbitsHex string) *big.Int {
	b, err := hex.DecodeString(nbitsHex)
	if err != nil || len(b) != 4 {
		return util.CompactToTarget(maxTargetCompact)
	}
	compact := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return util.CompactToTarget(compact)
}

func bigFromDifficulty(difficulty float64, maxTarget *big.Int) *big.Int {
	return util.DifficultyToTarget(difficulty, maxTarget)
}
