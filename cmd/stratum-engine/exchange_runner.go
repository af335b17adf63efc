package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/stratum-engine/internal/exchange"
	"github.com/djkazic/stratum-engine/internal/metrics"
	"github.com/djkazic/stratum-engine/internal/transport"
	"github.com/djkazic/stratum-engine/internal/wsproto"
)

// exchangeDeadline is the session inactivity ceiling the Scheduler
// enforces on the Exchange Session (spec.md §4.7: heartbeats every
// 15s, so two missed heartbeats is a clear stall).
const exchangeDeadline = 30 * time.Second

// runExchange dials the configured Exchange endpoint over TLS,
// completes the WebSocket upgrade, then drives the subscribe/dispatch
// loop until ctx is cancelled or the connection drops, reconnecting
// with backoff on every disconnect (spec.md §4.4/§4.7).
func (e *engineHandle) runExchange(ctx context.Context) error {
	backoff := transport.NewBackoff()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := e.exchangeSession(ctx); err != nil {
			e.logger.Warn("exchange session ended", zap.Error(err))
		}

		delay := backoff.Next()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *engineHandle) exchangeSession(ctx context.Context) error {
	cfg := e.cfg.Exchange

	host, _, err := net.SplitHostPort(cfg.Host)
	if err != nil {
		host = cfg.Host
	}

	var d net.Dialer
	rawConn, err := d.DialContext(ctx, "tcp", dialAddr(cfg.Host))
	if err != nil {
		return fmt.Errorf("exchange: dial: %w", err)
	}
	defer rawConn.Close()

	tlsConn := tls.Client(rawConn, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("exchange: tls handshake: %w", err)
	}

	key := handshakeKey()
	if err := wsproto.ClientHandshake(tlsConn, cfg.Host, cfg.Path, key); err != nil {
		return fmt.Errorf("exchange: websocket handshake: %w", err)
	}

	logger := e.logger.Named("exchange")
	conn := wsproto.NewConn(tlsConn, true)
	sess := exchange.NewSession(conn, logger)
	// Runs before rawConn.Close() (deferred earlier, so it fires later):
	// send our half of the close handshake before the transport drops,
	// per spec.md §3/§4.4.
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("send close frame", zap.Error(err))
		}
	}()

	sessCtx, cancel := e.scheduler.Register("exchange", "exchange", exchangeDeadline)
	defer cancel()
	defer e.scheduler.Unregister("exchange")

	for _, ch := range cfg.Channels {
		if err := sess.Subscribe(ch); err != nil {
			return fmt.Errorf("exchange: subscribe %s: %w", ch, err)
		}
	}

	metrics.ExchangeSessionsConnected.Inc()
	defer metrics.ExchangeSessionsConnected.Dec()

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- sess.ReadLoop(func(d exchange.Dispatched) {
			e.handleExchangeMessage(d)
			e.scheduler.Touch("exchange", exchangeDeadline)
		})
	}()

	select {
	case <-sessCtx.Done():
		return nil
	case err := <-readErrCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// handleExchangeMessage routes an unsolicited inbound message (trades,
// book updates, heartbeats, errors) to metrics/logging. Order placement
// is out of scope for this engine (spec.md Non-goals): it only observes
// the feed.
func (e *engineHandle) handleExchangeMessage(d exchange.Dispatched) {
	switch d.Kind {
	case exchange.KindTrade:
		metrics.ExchangeMessagesReceived.WithLabelValues("trade").Inc()
	case exchange.KindBookUpdate:
		metrics.ExchangeMessagesReceived.WithLabelValues("book_update").Inc()
	case exchange.KindHeartbeat:
		metrics.ExchangeMessagesReceived.WithLabelValues("heartbeat").Inc()
	case exchange.KindError:
		metrics.ExchangeMessagesReceived.WithLabelValues("error").Inc()
		e.logger.Warn("exchange error message", zap.ByteString("data", d.Data))
	default:
		metrics.ExchangeMessagesReceived.WithLabelValues("other").Inc()
	}
}

// dialAddr appends the default HTTPS/WSS port if cfg.Host carries none.
func dialAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "443")
}

// handshakeKey generates the random Sec-WebSocket-Key RFC 6455 requires.
func handshakeKey() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.StdEncoding.EncodeToString(b[:])
}
