package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
)

// App owns the roomd services. It is built by New, run by Start and torn
// down once by Stop.
type App struct {
	cfg      *config.Config
	services *Services

	ctx    context.Context
	cancel context.CancelFunc
	stop   sync.Once
}

// New opens the database and wires the services without starting them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	services, err := NewServices(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start launches the services under a child of ctx. Any service that cannot
// continue cancels that child, which releases Wait.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	fatal := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}
	if err := a.services.Start(a.ctx, fatal); err != nil {
		return err
	}

	log.Info().Int("rooms", len(a.cfg.Rooms)).Msg("roomd started")
	return nil
}

// Stop cancels the services and releases the database and clients.
// Later calls are no-ops.
func (a *App) Stop() error {
	var err error
	a.stop.Do(func() {
		log.Info().Msg("Shutting down...")
		if a.cancel != nil {
			a.cancel()
		}
		if a.services != nil {
			err = a.services.Stop()
		}
	})
	return err
}

// Wait returns once the app is stopped or a service failed.
func (a *App) Wait() {
	if a.ctx == nil {
		return
	}
	<-a.ctx.Done()
}

// SignalContext is cancelled on the first SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		sig := <-signals
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
