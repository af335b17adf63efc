package transport

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ConnectWithBackoff dials ch, retrying with the capped exponential
// backoff on failure, until it succeeds or ctx is cancelled. This
// generalizes the teacher's pollLoop retry shape (work/generator.go) from
// a fixed polling ticker to the Secure Channel's connect/backoff
// contract.
func ConnectWithBackoff(ctx context.Context, ch Channel, b *Backoff, logger *zap.Logger) error {
	for {
		err := ch.Connect(ctx)
		if err == nil {
			b.MarkReady(time.Now())
			return nil
		}

		delay := b.Next()
		logger.Warn("channel connect failed",
			zap.Error(err),
			zap.Int("consecutive_failures", b.Failures()),
			zap.Duration("next_retry", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
