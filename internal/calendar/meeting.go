package calendar

import (
	"context"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

const (
	meetingSummary = "::Meeting::"
	meetingSlot    = 15 * time.Minute
)

// InstantMeeting builds an ad-hoc booking starting at the current quarter
// hour. The duration is rounded down to whole quarter hours, one at least.
func InstantMeeting(now time.Time, durationMins int) *gcal.Event {
	start := now.UTC().Truncate(meetingSlot)

	slots := durationMins / int(meetingSlot/time.Minute)
	if slots < 1 {
		slots = 1
	}
	end := start.Add(time.Duration(slots) * meetingSlot)

	startStr := start.Format(time.RFC3339)
	return &gcal.Event{
		Summary:     meetingSummary,
		Description: "im_" + startStr,
		Start:       &gcal.EventDateTime{DateTime: startStr, TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: "UTC"},
	}
}

// InsertInstantMeeting books the calendar from now for durationMins.
func (c *Client) InsertInstantMeeting(ctx context.Context, calendarID string, durationMins int) (string, error) {
	return c.InsertEvent(ctx, calendarID, InstantMeeting(c.now(), durationMins))
}
