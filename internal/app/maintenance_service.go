package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/db"
	"github.com/dokzlo13/roomd/internal/kv"
	"github.com/dokzlo13/roomd/internal/ledger"
)

// MaintenanceService periodically prunes old ledger entries and expired
// kv values.
type MaintenanceService struct {
	cfg    *config.Config
	db     *db.DB
	ledger *ledger.Ledger // nil when disabled
}

// NewMaintenanceService creates a new MaintenanceService.
func NewMaintenanceService(cfg *config.Config, database *db.DB, l *ledger.Ledger) *MaintenanceService {
	return &MaintenanceService{
		cfg:    cfg,
		db:     database,
		ledger: l,
	}
}

// Start begins the cleanup loop.
func (s *MaintenanceService) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *MaintenanceService) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MaintenanceService) cleanup() {
	if s.ledger != nil {
		retention := s.cfg.Ledger.RetentionPeriod()
		deleted, err := s.ledger.DeleteOlderThan(retention)
		if err != nil {
			log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
		}
	}

	deleted, err := kv.CleanupExpired(s.db.DB)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup expired kv entries")
	} else if deleted > 0 {
		log.Debug().Int64("deleted", deleted).Msg("Cleaned up expired kv entries")
	}
}
