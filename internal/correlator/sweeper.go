package correlator

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs the store's TTL eviction on a fixed interval. It implements
// the infrastructure.Server interface so it runs and shuts down with the
// rest of the application.
type Sweeper struct {
	store    *Store
	interval time.Duration
}

func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("token sweeper is running", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("token sweeper shutting down")
			return nil
		case <-ticker.C:
			if evicted := s.store.Sweep(); evicted > 0 {
				slog.Info("evicted expired decision tokens", "count", evicted)
			}
		}
	}
}

func (s *Sweeper) Stop(ctx context.Context) error {
	return nil
}
