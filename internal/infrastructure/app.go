package infrastructure

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server is anything App runs: transports, workers, the health endpoint.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// App runs the servers until shutdown. Background servers consume what the
// others produce (the ledger journal) and are stopped only after every other
// server has returned, so work finished during shutdown still reaches them.
type App struct {
	servers         []Server
	background      []Server
	shutdownTimeout time.Duration
}

func NewApp(servers []Server, background ...Server) *App {
	return &App{servers: servers, background: background, shutdownTimeout: 15 * time.Second}
}

// Run starts every server and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	fgCtx, cancelFg := context.WithCancel(ctx)
	defer cancelFg()

	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()

	var bg errgroup.Group
	for _, srv := range a.background {
		s := srv
		bg.Go(func() error {
			err := s.Start(bgCtx)
			if err != nil {
				cancelFg()
			}
			return err
		})
	}

	g, gCtx := errgroup.WithContext(fgCtx)
	for _, srv := range a.servers {
		s := srv
		g.Go(func() error {
			return s.Start(gCtx)
		})
	}

	<-gCtx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	a.stop(stopCtx, a.servers)
	err := g.Wait()

	stopBackground()
	a.stop(stopCtx, a.background)
	return errors.Join(err, bg.Wait())
}

func (a *App) stop(ctx context.Context, servers []Server) {
	for _, srv := range servers {
		if err := srv.Stop(ctx); err != nil {
			slog.Error("failed to stop server", "error", err)
		}
	}
}
