package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/state"
)

// DefaultSchedule fires at the start of every minute.
const DefaultSchedule = "* * * * *"

// Ticker pushes a TICK signal on a cron schedule.
type Ticker struct {
	store    *state.Store
	schedule string
	loc      *time.Location
}

// NewTicker creates a ticker. An empty schedule means every minute.
func NewTicker(store *state.Store, schedule string, loc *time.Location) *Ticker {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if loc == nil {
		loc = time.Local
	}
	return &Ticker{store: store, schedule: schedule, loc: loc}
}

// Run ticks until ctx ends.
func (t *Ticker) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(t.loc))
	if _, err := c.AddFunc(t.schedule, t.tick); err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", t.schedule, err)
	}

	c.Start()
	log.Debug().Str("schedule", t.schedule).Str("timezone", t.loc.String()).Msg("Ticker started")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (t *Ticker) tick() {
	t.store.Push(state.Tick())
}
