package producer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/kv"
	"github.com/dokzlo13/roomd/internal/notify"
	"github.com/dokzlo13/roomd/internal/state"
)

// Notification stores event lists announced on a notify.Channel and signals
// the changed room. Dropped subscriptions are re-established with
// exponential backoff.
type Notification struct {
	channel notify.Channel
	store   *state.Store
	cache   kv.Bucket // optional
	backoff Backoff
	after   func(time.Duration) <-chan time.Time
}

// NewNotification creates a notification producer. cache may be nil.
func NewNotification(channel notify.Channel, store *state.Store, cache kv.Bucket, backoff Backoff) *Notification {
	return &Notification{
		channel: channel,
		store:   store,
		cache:   cache,
		backoff: backoff,
		after:   time.After,
	}
}

// Run subscribes until ctx ends. It only returns nil.
func (n *Notification) Run(ctx context.Context) error {
	retryCount := 0
	currentBackoff := n.backoff.Min

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		err := n.channel.Subscribe(ctx, n.handle)
		if ctx.Err() != nil {
			return nil
		}

		// A subscription that lived long enough counts as healthy.
		if time.Since(start) > n.backoff.Max {
			retryCount = 0
			currentBackoff = n.backoff.Min
		}
		retryCount++

		log.Warn().
			Err(err).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Msg("Notification subscription dropped, resubscribing")

		select {
		case <-ctx.Done():
			return nil
		case <-n.after(currentBackoff):
		}

		currentBackoff = n.backoff.next(currentBackoff)
	}
}

func (n *Notification) handle(ctx context.Context, msg notify.Message) {
	if !n.store.HasRoom(msg.Room) {
		log.Warn().Str("room", msg.Room).Msg("Notification for unknown room, ignoring")
		return
	}

	n.store.Update(func(tx *state.Tx) {
		tx.SetEvents(msg.Room, msg.Events)
		tx.Push(state.RoomChanged(msg.Room))
	})

	log.Info().Str("room", msg.Room).Int("events", len(msg.Events)).Msg("Calendar changed")

	if n.cache != nil {
		if err := n.cache.Put(msg.Room, msg.Events, nil); err != nil {
			log.Warn().Err(err).Str("room", msg.Room).Msg("Failed to cache room events")
		}
	}
}
