package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/kv"
	"github.com/dokzlo13/roomd/internal/ledger"
	"github.com/dokzlo13/roomd/internal/retry"
	"github.com/dokzlo13/roomd/internal/roomstatus"
	"github.com/dokzlo13/roomd/internal/state"
)

// Config contains loop settings.
type Config struct {
	SettleDelay  time.Duration // wait after a write before verifying
	MaxAttempts  int           // total writes per convergence round
	ErrorBackoff time.Duration // pause after a pass with failures
	ResyncMinute int           // minute of the hour when calendars are re-downloaded
	Location     *time.Location
}

// ConfigFrom builds loop settings from the reconciler section.
func ConfigFrom(cfg config.ReconcilerConfig) Config {
	return Config{
		SettleDelay:  cfg.SettleDelay.Duration(),
		MaxAttempts:  cfg.MaxAttempts,
		ErrorBackoff: cfg.ErrorBackoff.Duration(),
		ResyncMinute: cfg.ResyncMinute,
		Location:     cfg.Location(),
	}
}

// Loop consumes signals from the store and converges devices.
type Loop struct {
	store    *state.Store
	registry Registry
	events   EventSource
	recorder Recorder  // optional
	cache    kv.Bucket // optional
	cfg      Config

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	resolve func(events []roomstatus.RawEvent, room string, now time.Time) roomstatus.RoomStatus

	state  atomic.Int32
	seeded atomic.Bool
}

// New creates a loop. recorder and cache may be nil.
func New(store *state.Store, registry Registry, events EventSource, recorder Recorder, cache kv.Bucket, cfg Config) *Loop {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Loop{
		store:    store,
		registry: registry,
		events:   events,
		recorder: recorder,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
		sleep:    retry.Sleep,
		resolve:  roomstatus.Resolve,
	}
}

// State returns the current phase.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Seeded reports whether Seed has completed.
func (l *Loop) Seeded() bool {
	return l.seeded.Load()
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Register adds the rooms to the store so notifications for them are
// accepted before their events are loaded.
func (l *Loop) Register(rooms []config.RoomConfig) {
	for _, room := range rooms {
		l.store.AddRoom(room.Name, room.CalendarID)
	}
}

// Seed registers the rooms, loads their initial events and queues a TICK so
// devices converge right after start-up. When the calendar is unreachable
// the last cached events are used. A room that received newer events while
// its calendar was being read keeps them.
func (l *Loop) Seed(ctx context.Context, rooms []config.RoomConfig) error {
	l.Register(rooms)

	for _, room := range rooms {
		rev := l.store.Revision(room.Name)

		events, err := l.events.ListUpcoming(ctx, room.CalendarID)
		fetched := err == nil
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("room", room.Name).Msg("Initial calendar fetch failed, using cached events")
			events = l.cachedEvents(room.Name)
		}

		if !l.setEventsIfUnchanged(room.Name, rev, events) {
			log.Info().Str("room", room.Name).Msg("Room changed while loading, keeping notified events")
			continue
		}
		if fetched {
			l.cacheEvents(room.Name, events)
		}
		log.Info().Str("room", room.Name).Int("events", len(events)).Msg("Room registered")
	}

	l.store.Push(state.Tick())
	l.seeded.Store(true)
	return nil
}

// setEventsIfUnchanged stores events unless the room's events were replaced
// after revision rev was read.
func (l *Loop) setEventsIfUnchanged(room string, rev uint64, events []roomstatus.RawEvent) bool {
	stored := false
	l.store.Update(func(tx *state.Tx) {
		if tx.Revision(room) != rev {
			return
		}
		tx.SetEvents(room, events)
		stored = true
	})
	return stored
}

// Run processes signals until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	log.Info().
		Int("max_attempts", l.cfg.MaxAttempts).
		Dur("settle_delay", l.cfg.SettleDelay).
		Int("resync_minute", l.cfg.ResyncMinute).
		Msg("Reconciler started")

	for {
		l.setState(StateWaiting)
		signals, err := l.store.Wait(ctx)
		if err != nil {
			log.Info().Msg("Reconciler stopping")
			return nil
		}

		l.setState(StateDraining)
		failed := l.process(ctx, signals)
		if ctx.Err() != nil {
			log.Info().Msg("Reconciler stopping")
			return nil
		}

		if failed {
			log.Warn().Dur("backoff", l.cfg.ErrorBackoff).Msg("Reconcile pass had failures, backing off")
			l.setState(StateWaiting)
			if err := l.sleep(ctx, l.cfg.ErrorBackoff); err != nil {
				log.Info().Msg("Reconciler stopping")
				return nil
			}
		}
	}
}

// process handles one drained batch of signals. Repeated signals for the
// same room, and repeated ticks, are handled once. It reports whether any
// room failed.
func (l *Loop) process(ctx context.Context, signals []state.Signal) bool {
	failed := false
	changed := make(map[string]bool)
	ticked := false

	for _, sig := range signals {
		if ctx.Err() != nil {
			return failed
		}

		switch sig.Reason {
		case state.ReasonRoomChanged:
			if changed[sig.Room] {
				continue
			}
			changed[sig.Room] = true
			log.Debug().Str("room", sig.Room).Msg("Processing calendar change")
			if err := l.reconcileRoom(ctx, sig.Room); err != nil {
				failed = true
			}

		case state.ReasonTick:
			if ticked {
				continue
			}
			ticked = true
			if !l.tick(ctx) {
				failed = true
			}

		default:
			log.Warn().Str("reason", string(sig.Reason)).Msg("Unknown signal, ignoring")
		}
	}
	return failed
}

func (l *Loop) tick(ctx context.Context) bool {
	if l.now().In(l.cfg.Location).Minute() == l.cfg.ResyncMinute {
		l.resync(ctx)
	}

	ok := true
	for _, room := range l.store.Rooms() {
		if ctx.Err() != nil {
			return ok
		}
		if err := l.reconcileRoom(ctx, room); err != nil {
			ok = false
		}
	}
	return ok
}

// resync re-downloads every room's events. A room keeps its previous list
// when the download fails.
func (l *Loop) resync(ctx context.Context) {
	log.Info().Msg("Re-downloading room calendars")

	for _, room := range l.store.Rooms() {
		calendarID := l.store.CalendarID(room)
		rev := l.store.Revision(room)
		events, err := l.events.ListUpcoming(ctx, calendarID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("room", room).Msg("Calendar resync failed, keeping previous events")
			continue
		}

		if !l.setEventsIfUnchanged(room, rev, events) {
			log.Info().Str("room", room).Msg("Room changed during resync, keeping notified events")
			continue
		}
		l.cacheEvents(room, events)
		l.record(ledger.EventCalendarResync, room, map[string]any{"events": len(events)})
	}
}

// reconcileRoom derives the desired status of a room and converges its
// device. Panics are contained and reported as errors.
func (l *Loop) reconcileRoom(ctx context.Context, room string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("room", room).Msg("Room reconcile panicked")
			err = fmt.Errorf("reconcile %s: panic: %v", room, r)
		}
	}()

	l.setState(StateDeriving)
	desired := l.resolve(l.store.Events(room), room, l.now())
	current := l.registry.FetchStatus(ctx, room)

	l.setState(StateComparing)
	if !desired.Valid || !current.Valid {
		log.Warn().
			Str("room", room).
			Bool("desired_valid", desired.Valid).
			Bool("device_valid", current.Valid).
			Msg("Status unavailable, skipping room")
		return nil
	}
	if desired.Equal(current) {
		log.Debug().Str("room", room).Msg("Device up to date")
		return nil
	}

	l.setState(StateConverging)
	err = l.converge(ctx, room, desired, current)
	if errors.Is(err, ErrConvergenceExhausted) {
		return nil
	}
	return err
}

// converge writes desired until the device reports it, at most MaxAttempts
// times.
func (l *Loop) converge(ctx context.Context, room string, desired, current roomstatus.RoomStatus) error {
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		log.Info().
			Str("room", room).
			Int("attempt", attempt).
			Strs("fields", fieldNames(current.Diff(desired))).
			Msg("Updating device")

		if err := l.registry.Publish(ctx, desired, current); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("room", room).Int("attempt", attempt).Msg("Device update failed")
			l.record(ledger.EventUpdateFailed, room, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}

		if err := l.sleep(ctx, l.cfg.SettleDelay); err != nil {
			return err
		}

		fetched := l.registry.FetchStatus(ctx, room)
		if fetched.Valid {
			if fetched.Equal(desired) {
				log.Info().Str("room", room).Int("attempts", attempt).Msg("Device converged")
				l.record(ledger.EventRoomConverged, room, map[string]any{"attempts": attempt})
				return nil
			}
			current = fetched
		}
		log.Info().Str("room", room).Int("attempt", attempt).Msg("Device still differs")
	}

	log.Error().Str("room", room).Int("attempts", l.cfg.MaxAttempts).Msg("Unable to update device, giving up")
	l.record(ledger.EventConvergenceExhausted, room, map[string]any{"attempts": l.cfg.MaxAttempts})
	return fmt.Errorf("%s: %w", room, ErrConvergenceExhausted)
}

func (l *Loop) record(eventType ledger.EventType, room string, payload map[string]any) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Append(eventType, room, payload); err != nil {
		log.Warn().Err(err).Str("room", room).Str("event_type", string(eventType)).Msg("Failed to record ledger entry")
	}
}

func (l *Loop) cachedEvents(room string) []roomstatus.RawEvent {
	if l.cache == nil {
		return nil
	}
	var events []roomstatus.RawEvent
	if ok, err := l.cache.Get(room, &events); err != nil || !ok {
		if err != nil {
			log.Warn().Err(err).Str("room", room).Msg("Failed to read cached events")
		}
		return nil
	}
	return events
}

func (l *Loop) cacheEvents(room string, events []roomstatus.RawEvent) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Put(room, events, nil); err != nil {
		log.Warn().Err(err).Str("room", room).Msg("Failed to cache events")
	}
}

func fieldNames(fields []roomstatus.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name()
	}
	return names
}
