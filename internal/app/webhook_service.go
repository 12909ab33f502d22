package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/calendar"
	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/notify"
	"github.com/dokzlo13/roomd/internal/webhook"
)

// WebhookService wraps the webhook HTTP server and the calendar watches
// that feed it.
type WebhookService struct {
	cfg     *config.Config
	watcher *calendar.Watcher // nil when no public URL is configured
	server  *webhook.Server
}

// NewWebhookService creates a new WebhookService. watcher may be nil.
func NewWebhookService(cfg *config.Config, cal webhook.Calendar, watcher *calendar.Watcher, publisher notify.Channel) *WebhookService {
	var channels webhook.ChannelLookup
	if watcher != nil {
		channels = watcher
	}

	server := webhook.NewServer(cfg.Webhook.Host, cfg.Webhook.Port, cfg.Webhook.Secret, cfg.Rooms, cal, channels, publisher)
	return &WebhookService{
		cfg:     cfg,
		watcher: watcher,
		server:  server,
	}
}

// Start renews the calendar watches and begins the webhook server if enabled.
func (s *WebhookService) Start(ctx context.Context) {
	if !s.cfg.Webhook.Enabled {
		log.Debug().Msg("Webhook server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
			log.Error().Err(err).Msg("Webhook server error")
		}
	}()

	if s.watcher == nil {
		log.Warn().Msg("webhook.public_url not set, calendar watches are not registered")
		return
	}

	go s.renewWatches(ctx)
}

func (s *WebhookService) renewWatches(ctx context.Context) {
	for _, room := range s.cfg.Rooms {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.watcher.Renew(ctx, room.Name, room.CalendarID); err != nil {
			log.Error().Err(err).Str("room", room.Name).Msg("Failed to watch calendar")
		}
	}
}
