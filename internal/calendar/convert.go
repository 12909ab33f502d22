package calendar

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/dokzlo13/roomd/internal/roomstatus"
)

// FromAPI converts a Google Calendar event into a RawEvent.
// Timed events keep the offset they were sent with; all-day events start at
// UTC midnight of their date.
func FromAPI(item *gcal.Event) (roomstatus.RawEvent, error) {
	start, err := parseEventTime(item.Start)
	if err != nil {
		return roomstatus.RawEvent{}, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	end, err := parseEventTime(item.End)
	if err != nil {
		return roomstatus.RawEvent{}, fmt.Errorf("event %s end: %w", item.Id, err)
	}

	summary := item.Summary
	if summary == "" {
		summary = DefaultSummary
	}

	ev := roomstatus.RawEvent{
		ID:      item.Id,
		Summary: summary,
		Start:   start,
		End:     end,
	}
	for _, a := range item.Attendees {
		if a == nil {
			continue
		}
		ev.Attendees = append(ev.Attendees, roomstatus.Attendee{
			Email:          a.Email,
			Organizer:      a.Organizer,
			Self:           a.Self,
			ResponseStatus: a.ResponseStatus,
		})
	}
	return ev, nil
}

func parseEventTime(t *gcal.EventDateTime) (time.Time, error) {
	if t == nil {
		return time.Time{}, fmt.Errorf("missing time")
	}
	if t.DateTime != "" {
		return time.Parse(time.RFC3339, t.DateTime)
	}
	if t.Date != "" {
		return time.ParseInLocation("2006-01-02", t.Date, time.UTC)
	}
	return time.Time{}, fmt.Errorf("neither dateTime nor date set")
}

// ExtractCalendarID recovers the calendar id from a push notification's
// resource URI, e.g.
// https://www.googleapis.com/calendar/v3/calendars/room%40example.com/events?alt=json
func ExtractCalendarID(resourceURI string) string {
	id, err := url.PathUnescape(resourceURI)
	if err != nil {
		id = resourceURI
	}
	if _, rest, ok := strings.Cut(id, "/v3/calendars/"); ok {
		id = rest
	}
	if before, _, ok := strings.Cut(id, "/events"); ok {
		id = before
	}
	return id
}
