// Package calendar wraps the Google Calendar API for room calendars: upcoming
// event listing, instant meetings and push notification channels.
package calendar

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/retry"
	"github.com/dokzlo13/roomd/internal/roomstatus"
)

// DefaultSummary is shown for events without a visible title.
const DefaultSummary = "Private Meeting"

// Client talks to the Google Calendar API.
type Client struct {
	svc        *gcal.Service
	maxResults int64
	timeout    time.Duration
	retry      retry.Policy
	now        func() time.Time
}

// New creates a client authenticated with the configured service account
// file, or with application default credentials when none is set.
func New(ctx context.Context, cfg config.CalendarConfig) (*Client, error) {
	var opt option.ClientOption
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read calendar credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, gcal.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("parse calendar credentials: %w", err)
		}
		opt = option.WithCredentials(creds)
	} else {
		creds, err := google.FindDefaultCredentials(ctx, gcal.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
		opt = option.WithCredentials(creds)
	}
	return NewWithOptions(ctx, cfg, opt)
}

// NewWithOptions creates a client from explicit API client options.
func NewWithOptions(ctx context.Context, cfg config.CalendarConfig, opts ...option.ClientOption) (*Client, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	return &Client{
		svc:        svc,
		maxResults: maxResults,
		timeout:    cfg.Timeout.Duration(),
		retry: retry.Policy{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay.Duration(),
		},
		now: time.Now,
	}, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ListUpcoming returns the next events of a calendar, starting now, expanded
// into single instances and ordered by start time. Failed calls are retried.
func (c *Client) ListUpcoming(ctx context.Context, calendarID string) ([]roomstatus.RawEvent, error) {
	var items []*gcal.Event
	err := retry.Do(ctx, "calendar.list", c.retry, func(ctx context.Context) error {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		res, err := c.svc.Events.List(calendarID).
			TimeMin(c.now().UTC().Format(time.RFC3339)).
			MaxResults(c.maxResults).
			SingleEvents(true).
			OrderBy("startTime").
			Context(callCtx).
			Do()
		if err != nil {
			return fmt.Errorf("list events of %s: %w", calendarID, err)
		}
		items = res.Items
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make([]roomstatus.RawEvent, 0, len(items))
	for _, item := range items {
		ev, err := FromAPI(item)
		if err != nil {
			log.Warn().Err(err).Str("calendar_id", calendarID).Str("event_id", item.Id).Msg("Skipping unparsable event")
			continue
		}
		events = append(events, ev)
	}

	log.Debug().Str("calendar_id", calendarID).Int("events", len(events)).Msg("Listed upcoming events")
	return events, nil
}

// DeleteEvent removes one event from a calendar. Failed calls are retried.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return retry.Do(ctx, "calendar.delete", c.retry, func(ctx context.Context) error {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		if err := c.svc.Events.Delete(calendarID, eventID).Context(callCtx).Do(); err != nil {
			return fmt.Errorf("delete event %s: %w", eventID, err)
		}
		return nil
	})
}

// InsertEvent creates an event and returns its id. Failed calls are retried.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, ev *gcal.Event) (string, error) {
	var id string
	err := retry.Do(ctx, "calendar.insert", c.retry, func(ctx context.Context) error {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()

		created, err := c.svc.Events.Insert(calendarID, ev).Context(callCtx).Do()
		if err != nil {
			return fmt.Errorf("insert event into %s: %w", calendarID, err)
		}
		id = created.Id
		return nil
	})
	return id, err
}

// Watch opens a push notification channel for the calendar's events.
func (c *Client) Watch(ctx context.Context, calendarID, channelID, address, token string) (*gcal.Channel, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	ch, err := c.svc.Events.Watch(calendarID, &gcal.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: address,
		Token:   token,
	}).Context(callCtx).Do()
	if err != nil {
		return nil, fmt.Errorf("watch calendar %s: %w", calendarID, err)
	}
	return ch, nil
}

// StopWatch closes a push notification channel.
func (c *Client) StopWatch(ctx context.Context, channelID, resourceID string) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	err := c.svc.Channels.Stop(&gcal.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}).Context(callCtx).Do()
	if err != nil {
		return fmt.Errorf("stop channel %s: %w", channelID, err)
	}
	return nil
}
