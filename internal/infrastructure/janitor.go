package infrastructure

import (
	"context"
	"log/slog"
	"time"

	"tutorpay/internal/ratelimit"
)

// limiterJanitor periodically drops idle rate-limit entries so the window
// map stays bounded over long uptimes.
type limiterJanitor struct {
	limiter *ratelimit.Limiter
}

func newLimiterJanitor(l *ratelimit.Limiter) *limiterJanitor {
	return &limiterJanitor{limiter: l}
}

func (j *limiterJanitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := j.limiter.Cleanup(24 * time.Hour); removed > 0 {
				slog.Info("cleaned up idle rate limit entries", "count", removed)
			}
		}
	}
}

func (j *limiterJanitor) Stop(ctx context.Context) error {
	return nil
}
