package roomstatus

import "time"

// ResponseDeclined is the attendee response status of a declined invitation.
const ResponseDeclined = "declined"

// Attendee is one participant of a calendar event.
type Attendee struct {
	Email          string `json:"email"`
	Organizer      bool   `json:"organizer,omitempty"`
	Self           bool   `json:"self,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`
}

// RawEvent is a calendar event as received from the calendar source.
// Lists of RawEvent are ordered by Start, ascending.
type RawEvent struct {
	ID        string     `json:"id"`
	Summary   string     `json:"summary"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Attendees []Attendee `json:"attendees,omitempty"`
}

// Declined reports whether the calendar owner declined the event.
func (e RawEvent) Declined() bool {
	for _, a := range e.Attendees {
		if a.Self && a.ResponseStatus == ResponseDeclined {
			return true
		}
	}
	return false
}

// OrganizerEmail returns the organizer's email, or "" when none is listed.
func (e RawEvent) OrganizerEmail() string {
	for _, a := range e.Attendees {
		if a.Organizer {
			return a.Email
		}
	}
	return ""
}
