package infrastructure

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server is anything the App runs until shutdown: transports and background workers.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	servers []Server
	log     *slog.Logger
}

func NewApp(servers []Server, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{servers: servers, log: log}
}

// Run starts every server and blocks until ctx is cancelled or one of them fails,
// then stops them all.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range a.servers {
		if err := srv.Stop(stopCtx); err != nil {
			a.log.Error("server stop failed", "error", err)
		}
	}

	return g.Wait()
}
