package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/stratum-engine/internal/btcp2p"
	"github.com/djkazic/stratum-engine/internal/framer"
	"github.com/djkazic/stratum-engine/internal/mempool"
	"github.com/djkazic/stratum-engine/internal/metrics"
	"github.com/djkazic/stratum-engine/internal/transport"
)

// runBTCP2P dials the configured peer, completes the version/verack
// handshake, then drives the mempool ingest loop (spec.md §4.6) until
// ctx is cancelled or the peer connection drops, reconnecting with
// backoff on every disconnect.
func (e *engineHandle) runBTCP2P(ctx context.Context) error {
	backoff := transport.NewBackoff()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := e.btcp2pSession(ctx); err != nil {
			e.logger.Warn("btcp2p session ended", zap.Error(err))
		}

		delay := backoff.Next()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *engineHandle) btcp2pSession(ctx context.Context) error {
	cfg := e.cfg.BTCP2P
	magic := btcp2p.MagicMainnet
	if cfg.Testnet {
		magic = btcp2p.MagicTestnet
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.PeerAddress)
	if err != nil {
		return fmt.Errorf("btcp2p: dial: %w", err)
	}
	defer conn.Close()

	logger := e.logger.Named("btcp2p")
	sess := btcp2p.NewSession(magic, logger)

	sessCtx, cancel := e.scheduler.Register("btcp2p", "btcp2p", btcp2p.PingInterval+btcp2p.PongTimeout)
	defer cancel()
	defer e.scheduler.Unregister("btcp2p")

	invQueue := btcp2p.NewInvQueue()

	var oracle *btcp2p.FeeOracle
	if cfg.FeeOracle.URL != "" {
		oracle = btcp2p.NewFeeOracle(cfg.FeeOracle.URL, cfg.FeeOracle.User, cfg.FeeOracle.Password)
	}

	sess.OnInv(func(items []btcp2p.InvVector) {
		if invQueue.Add(items) {
			e.flushGetdata(ctx, conn, magic, invQueue)
		}
	})
	sess.OnTx(func(txid [32]byte, raw []byte) {
		e.ingestTx(ctx, oracle, txid, raw)
	})

	if err := sendVersion(conn, magic, cfg.UserAgent, cfg.StartHeight); err != nil {
		return fmt.Errorf("btcp2p: send version: %w", err)
	}

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- e.btcp2pReadLoop(conn, magic, sess) }()

	flushTicker := time.NewTicker(btcp2p.InvBatchInterval)
	defer flushTicker.Stop()
	pingTicker := time.NewTicker(btcp2p.PingInterval)
	defer pingTicker.Stop()

	metrics.P2PPeersConnected.Inc()
	defer metrics.P2PPeersConnected.Dec()

	for {
		select {
		case <-sessCtx.Done():
			return nil
		case err := <-readErrCh:
			return err
		case <-flushTicker.C:
			if invQueue.Len() > 0 {
				e.flushGetdata(ctx, conn, magic, invQueue)
			}
			e.scheduler.Touch("btcp2p", btcp2p.PingInterval+btcp2p.PongTimeout)
			if sess.TimedOut(time.Now()) {
				return fmt.Errorf("btcp2p: ping timeout")
			}
		case <-pingTicker.C:
			nonce := pingNonce()
			if _, err := conn.Write(btcp2p.EncodeMessage(magic, "ping", btcp2p.PingPongPayload(nonce))); err != nil {
				return fmt.Errorf("btcp2p: send ping: %w", err)
			}
			sess.NotePingSent(time.Now())
		}
	}
}

// btcp2pReadLoop owns the connection's read side: it grows a Byte
// Framer buffer, recognizes complete Bitcoin messages, and hands each
// one to the session's handshake-gated dispatcher.
func (e *engineHandle) btcp2pReadLoop(conn net.Conn, magic [4]byte, sess *btcp2p.Session) error {
	buf := framer.NewBuffer(framer.DefaultCap)
	readBuf := make([]byte, 64*1024)

	for {
		n, err := conn.Read(readBuf)
		if err != nil {
			return fmt.Errorf("btcp2p: read: %w", err)
		}
		if err := buf.Append(readBuf[:n]); err != nil {
			return fmt.Errorf("btcp2p: %w", err)
		}

		for {
			res := framer.ParseBitcoinMessage(buf.Peek(), magic)
			switch res.Outcome {
			case framer.NeedMore:
				goto nextRead
			case framer.Malformed:
				return fmt.Errorf("btcp2p: %s", res.Reason)
			case framer.FrameReady:
				frame := buf.Peek()[res.Lo:res.Hi]
				command := framer.BitcoinCommand(frame)
				payload := append([]byte(nil), frame[framer.BitcoinHeaderSize:]...)
				buf.Consume(res.Hi)

				if command == "verack" {
					if err := sess.HandleMessage(command, payload); err != nil {
						return err
					}
					if err := sendVerack(conn, magic); err != nil {
						return err
					}
					sess.MarkVerackSent()
					continue
				}
				if err := sess.HandleMessage(command, payload); err != nil {
					metrics.ProtocolErrors.WithLabelValues("btcp2p").Inc()
					return err
				}
				if command == "ping" {
					var nonce [8]byte
					copy(nonce[:], payload)
					conn.Write(btcp2p.EncodeMessage(magic, "pong", payload))
				}
			}
		}
	nextRead:
	}
}

func sendVersion(conn net.Conn, magic [4]byte, userAgent string, startHeight int32) error {
	v := btcp2p.VersionMessage{
		Version:     btcp2p.ProtocolVersion,
		Services:    btcp2p.ServicesNone,
		Timestamp:   time.Now().Unix(),
		Nonce:       pingNonce(),
		UserAgent:   userAgent,
		StartHeight: startHeight,
		Relay:       true,
	}
	_, err := conn.Write(btcp2p.EncodeMessage(magic, "version", btcp2p.EncodeVersion(v)))
	return err
}

func sendVerack(conn net.Conn, magic [4]byte) error {
	_, err := conn.Write(btcp2p.EncodeMessage(magic, "verack", nil))
	return err
}

func pingNonce() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// flushGetdata sends a getdata request for everything pending in the
// inv queue, after waiting for the scheduler's pacing limiter (spec.md
// §4.6: batch every 200ms or 500 entries).
func (e *engineHandle) flushGetdata(ctx context.Context, conn net.Conn, magic [4]byte, q *btcp2p.InvQueue) {
	items := q.Flush()
	if len(items) == 0 {
		return
	}
	if err := e.scheduler.WaitGetdataToken(ctx); err != nil {
		return
	}
	conn.Write(btcp2p.EncodeMessage(magic, "getdata", btcp2p.EncodeInv(items)))
}

// ingestTx parses a raw tx payload, resolves its fee via the optional
// fee oracle (falling back to FeeKnown=false per spec.md §9), compresses
// the raw bytes, and inserts the resulting Mempool Entry.
func (e *engineHandle) ingestTx(ctx context.Context, oracle *btcp2p.FeeOracle, txid [32]byte, raw []byte) {
	if e.mempoolIdx.Contains(txid) {
		return
	}

	tx, err := btcp2p.ParseTransaction(raw)
	if err != nil {
		e.logger.Warn("parse tx", zap.Error(err))
		return
	}

	var fee int64
	var feeKnown bool
	if oracle != nil {
		fee, feeKnown = oracle.ComputeFee(ctx, tx)
	}

	entry := &mempool.Entry{
		Txid:      txid,
		Weight:    tx.Weight(),
		Fee:       fee,
		FeeKnown:  feeKnown,
		FirstSeen: time.Now(),
		RawZstd:   mempool.Compress(raw),
	}

	if e.mempoolIdx.Insert(entry) {
		metrics.MempoolEntries.Set(float64(e.mempoolIdx.Len()))
		metrics.MempoolBytesUsed.Set(float64(e.mempoolIdx.UsedBytes()))
	}
}
