package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/kv"
	"github.com/dokzlo13/roomd/internal/notify"
	"github.com/dokzlo13/roomd/internal/producer"
	"github.com/dokzlo13/roomd/internal/reconcile"
	"github.com/dokzlo13/roomd/internal/state"
)

// RoomService runs the reconciliation loop together with its producers.
type RoomService struct {
	cfg          *config.Config
	Loop         *reconcile.Loop
	notification producer.Producer
	ticker       producer.Producer
	wg           sync.WaitGroup
}

// NewRoomService creates the loop and its producers. recorder and cache may be nil.
func NewRoomService(
	cfg *config.Config,
	store *state.Store,
	events reconcile.EventSource,
	registry reconcile.Registry,
	channel notify.Channel,
	recorder reconcile.Recorder,
	cache kv.Bucket,
) *RoomService {
	loopCfg := reconcile.ConfigFrom(cfg.Reconciler)

	backoff := producer.Backoff{
		Min:        cfg.Notifications.MinRetryBackoff.Duration(),
		Max:        cfg.Notifications.MaxRetryBackoff.Duration(),
		Multiplier: cfg.Notifications.RetryMultiplier,
	}

	return &RoomService{
		cfg:          cfg,
		Loop:         reconcile.New(store, registry, events, recorder, cache, loopCfg),
		notification: producer.NewNotification(channel, store, cache, backoff),
		ticker:       producer.NewTicker(store, cfg.Reconciler.TickSchedule, loopCfg.Location),
	}
}

// Start registers the rooms and subscribes to notifications right away, then
// loads the rooms' events and runs the ticker and the loop in the
// background. A producer or loop failure is reported through onFatalError.
func (s *RoomService) Start(ctx context.Context, onFatalError func(error)) {
	s.Loop.Register(s.cfg.Rooms)
	s.run(ctx, s.notification, onFatalError)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.Loop.Seed(ctx, s.cfg.Rooms); err != nil {
			log.Info().Err(err).Msg("Seeding interrupted")
			return
		}

		s.run(ctx, s.ticker, onFatalError)

		if err := s.Loop.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Reconciler error")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()
}

func (s *RoomService) run(ctx context.Context, p producer.Producer, onFatalError func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := p.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Producer stopped")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()
}

// Wait blocks until the background goroutines exit or timeout passes.
func (s *RoomService) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Room service did not stop in time")
	}
}
