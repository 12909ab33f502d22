package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/calendar"
	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/db"
	"github.com/dokzlo13/roomd/internal/device"
	"github.com/dokzlo13/roomd/internal/kv"
	"github.com/dokzlo13/roomd/internal/ledger"
	"github.com/dokzlo13/roomd/internal/notify"
	"github.com/dokzlo13/roomd/internal/reconcile"
	"github.com/dokzlo13/roomd/internal/retry"
	"github.com/dokzlo13/roomd/internal/state"
)

// EventsBucket holds the last known event list per room.
const EventsBucket = "room_events"

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger // nil when disabled

	// Shared state and external systems
	Store    *state.Store
	Calendar *calendar.Client
	Device   *device.Client
	Registry *device.Registry
	Channel  notify.Channel

	// High-level services
	Rooms       *RoomService
	Webhook     *WebhookService
	Health      *HealthService
	Maintenance *MaintenanceService
}

// NewServices creates all services with proper dependency injection.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	var recorder reconcile.Recorder
	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB)
		recorder = s.Ledger
	}

	eventCache := kv.NewSQLiteBucket(database.DB, EventsBucket)
	s.Store = state.NewStore()

	s.Calendar, err = calendar.New(ctx, cfg.Calendar)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Device = device.NewClient(ctx, cfg.Device)
	s.Registry = device.NewRegistry(s.Device, retry.Policy{
		Attempts: cfg.Device.RetryAttempts,
		Delay:    cfg.Device.RetryDelay.Duration(),
	})

	s.Channel = newChannel(cfg.Notifications)

	s.Rooms = NewRoomService(cfg, s.Store, s.Calendar, s.Registry, s.Channel, recorder, eventCache)

	var watcher *calendar.Watcher
	if cfg.Webhook.Enabled && cfg.Webhook.PublicURL != "" {
		address := strings.TrimSuffix(cfg.Webhook.PublicURL, "/") + "/webhook"
		watcher = calendar.NewWatcher(s.Calendar, kv.NewSQLiteBucket(database.DB, calendar.WatchBucket), address, cfg.Webhook.Secret)
	}
	s.Webhook = NewWebhookService(cfg, s.Calendar, watcher, s.Channel)

	s.Health = NewHealthService(cfg, s.Rooms.Loop)
	s.Maintenance = NewMaintenanceService(cfg, database, s.Ledger)

	return s, nil
}

func newChannel(cfg config.NotificationsConfig) notify.Channel {
	if cfg.Driver == config.DriverRedis {
		log.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("Using redis notifications")
		return notify.NewRedisChannel(cfg.Redis)
	}
	return notify.NewBus(cfg.Workers, cfg.QueueSize)
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service cannot continue.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if rc, ok := s.Channel.(*notify.RedisChannel); ok {
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Redis is not reachable yet")
		}
	}

	s.Health.Start(ctx)
	s.Rooms.Start(ctx, onFatalError)
	s.Webhook.Start(ctx)
	s.Maintenance.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	shutdownTimeout := s.cfg.GetShutdownTimeout()

	if s.Rooms != nil {
		s.Rooms.Wait(shutdownTimeout)
	}

	switch ch := s.Channel.(type) {
	case *notify.Bus:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		ch.Close(ctx)
	case *notify.RedisChannel:
		if err := ch.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}

	if s.Device != nil {
		s.Device.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
