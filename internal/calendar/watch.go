package calendar

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/kv"
)

// WatchBucket is the kv bucket holding the active channel per room.
const WatchBucket = "watch_channels"

// WatchChannel is an open push notification channel.
type WatchChannel struct {
	ID         string `json:"id"`
	ResourceID string `json:"resource_id"`
	CalendarID string `json:"calendar_id"`
	Expiration int64  `json:"expiration,omitempty"`
}

// Watcher keeps one push notification channel per room.
type Watcher struct {
	client  *Client
	bucket  kv.Bucket
	address string
	token   string
	newID   func() string
}

// NewWatcher creates a watcher delivering notifications to address, signed
// with token.
func NewWatcher(client *Client, bucket kv.Bucket, address, token string) *Watcher {
	return &Watcher{
		client:  client,
		bucket:  bucket,
		address: address,
		token:   token,
		newID:   uuid.NewString,
	}
}

// Renew stops the room's previous channel, if any, and opens a new one.
func (w *Watcher) Renew(ctx context.Context, room, calendarID string) (WatchChannel, error) {
	var prev WatchChannel
	found, err := w.bucket.Get(room, &prev)
	if err != nil {
		log.Warn().Err(err).Str("room", room).Msg("Failed to load previous watch channel")
	}
	if found {
		if err := w.client.StopWatch(ctx, prev.ID, prev.ResourceID); err != nil {
			log.Warn().Err(err).Str("room", room).Str("channel_id", prev.ID).Msg("Failed to stop previous watch channel")
		} else {
			log.Debug().Str("room", room).Str("channel_id", prev.ID).Msg("Stopped previous watch channel")
		}
	}

	ch, err := w.client.Watch(ctx, calendarID, w.newID(), w.address, w.token)
	if err != nil {
		return WatchChannel{}, err
	}

	wc := WatchChannel{
		ID:         ch.Id,
		ResourceID: ch.ResourceId,
		CalendarID: calendarID,
		Expiration: ch.Expiration,
	}
	if err := w.bucket.Put(room, wc, nil); err != nil {
		return wc, fmt.Errorf("store watch channel: %w", err)
	}

	log.Info().Str("room", room).Str("channel_id", wc.ID).Msg("Watching calendar")
	return wc, nil
}

// Lookup returns the room owning the channel.
func (w *Watcher) Lookup(channelID string) (string, bool) {
	rooms, err := w.bucket.Keys()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list watch channels")
		return "", false
	}
	for _, room := range rooms {
		var wc WatchChannel
		if ok, err := w.bucket.Get(room, &wc); err == nil && ok && wc.ID == channelID {
			return room, true
		}
	}
	return "", false
}
