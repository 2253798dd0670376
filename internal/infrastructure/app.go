package infrastructure

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server is anything the application runs for its lifetime: transports,
// workers, the token sweeper. Start blocks until ctx is cancelled or the
// server fails.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	servers []Server
}

func NewApp(servers []Server) *App {
	return &App{servers: servers}
}

func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		s := srv
		g.Go(func() error {
			return s.Start(ctx)
		})
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range a.servers {
		_ = srv.Stop(stopCtx)
	}

	return g.Wait()
}
