package roomstatus

import "time"

// Display formats.
const (
	clockLayout    = "15:04"
	dayLayout      = "Jan 02"
	dateKeyLayout  = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
	labelLayout    = "Mon 02 Jan 15:04"
)

// FreeAllDay is the current message of a room with nothing left today.
const FreeAllDay = "Free all day"

// Resolve derives the status of a room from its upcoming events.
//
// events must be ordered by start time. Events declined by the calendar
// owner are skipped. The first remaining event decides whether the room is
// busy at now; the second one is only used as the next meeting of a busy
// room. Times are rendered in each event's own zone, while "today" ends at
// the next UTC midnight after now.
func Resolve(events []RawEvent, roomName string, now time.Time) RoomStatus {
	result := RoomStatus{Name: roomName, Valid: true}

	midnight := nextMidnight(now)
	seen := 0
	for _, ev := range events {
		if ev.Declined() {
			continue
		}
		seen++

		switch seen {
		case 1:
			if !ev.Start.After(now) {
				result.Busy = true
				result.Current = currentBlock(ev)
				continue
			}
			result.Current = Block{Message: freeMessage(ev.Start, midnight)}
			result.Next = nextBlock(ev, midnight)
		case 2:
			if result.Busy {
				result.Next = nextBlock(ev, midnight)
			}
		}
		if seen >= 2 {
			break
		}
	}

	return result
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func freeMessage(start, midnight time.Time) string {
	if start.Before(midnight) {
		return "Free until " + start.Format(clockLayout)
	}
	return FreeAllDay
}

func multiDay(ev RawEvent) bool {
	return ev.Start.Format(dateKeyLayout) != ev.End.Format(dateKeyLayout)
}

// currentBlock describes an event in progress. A multi-day event occupies
// the whole current day, so only its dates are shown.
func currentBlock(ev RawEvent) Block {
	b := Block{
		Message:   ev.Summary,
		Organizer: ev.OrganizerEmail(),
		ID:        ev.ID,
	}
	layout := clockLayout
	if multiDay(ev) {
		layout = dayLayout
	}
	b.Start = ev.Start.Format(layout)
	b.End = ev.End.Format(layout)
	b.TimeRange = b.Start + "-" + b.End
	return b
}

func nextBlock(ev RawEvent, midnight time.Time) Block {
	b := Block{
		Message:   ev.Summary,
		Organizer: ev.OrganizerEmail(),
		ID:        ev.ID,
	}
	switch {
	case ev.Start.Before(midnight):
		b.Start = ev.Start.Format(clockLayout)
		b.End = ev.End.Format(clockLayout)
		b.TimeRange = b.Start + "-" + b.End
	case multiDay(ev):
		b.Start = ev.Start.Format(dayLayout)
		b.End = ev.End.Format(dayLayout)
		b.TimeRange = b.Start + "-" + b.End
	default:
		b.Start = ev.Start.Format(dateTimeLayout)
		b.End = ev.End.Format(clockLayout)
		b.TimeRange = ev.Start.Format(labelLayout) + "-" + b.End
	}
	return b
}
