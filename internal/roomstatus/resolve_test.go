package roomstatus

import (
	"reflect"
	"testing"
	"time"
)

var now = time.Date(2024, time.March, 12, 9, 30, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.March, day, hour, minute, 0, 0, time.UTC)
}

func event(id string, start, end time.Time, attendees ...Attendee) RawEvent {
	return RawEvent{ID: id, Summary: "Meeting " + id, Start: start, End: end, Attendees: attendees}
}

func declined(id string, start, end time.Time) RawEvent {
	return event(id, start, end, Attendee{Email: "room@example.com", Self: true, ResponseStatus: ResponseDeclined})
}

func TestResolve_Empty(t *testing.T) {
	got := Resolve(nil, "RoomA", now)
	want := RoomStatus{Name: "RoomA", Valid: true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve(nil) = %+v, want %+v", got, want)
	}
}

func TestResolve_IsPure(t *testing.T) {
	events := []RawEvent{
		event("a", at(12, 9, 0), at(12, 10, 0)),
		event("b", at(12, 11, 0), at(12, 12, 0)),
	}
	first := Resolve(events, "RoomA", now)
	second := Resolve(events, "RoomA", now)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Resolve is not deterministic: %+v != %+v", first, second)
	}
}

func TestResolve(t *testing.T) {
	organizer := Attendee{Email: "alice@example.com", Organizer: true}

	tests := []struct {
		name    string
		events  []RawEvent
		busy    bool
		current Block
		next    Block
	}{
		{
			name:    "busy/same_day",
			events:  []RawEvent{event("a", at(12, 9, 0), at(12, 10, 0), organizer)},
			busy:    true,
			current: Block{Message: "Meeting a", Start: "09:00", End: "10:00", TimeRange: "09:00-10:00", Organizer: "alice@example.com", ID: "a"},
		},
		{
			name:    "busy/starts_exactly_now",
			events:  []RawEvent{event("a", now, at(12, 10, 0))},
			busy:    true,
			current: Block{Message: "Meeting a", Start: "09:30", End: "10:00", TimeRange: "09:30-10:00", ID: "a"},
		},
		{
			name:    "busy/multi_day",
			events:  []RawEvent{event("a", at(11, 22, 0), at(13, 2, 0))},
			busy:    true,
			current: Block{Message: "Meeting a", Start: "Mar 11", End: "Mar 13", TimeRange: "Mar 11-Mar 13", ID: "a"},
		},
		{
			name: "busy/next_later_today",
			events: []RawEvent{
				event("a", at(12, 9, 0), at(12, 10, 0)),
				event("b", at(12, 14, 0), at(12, 15, 30), organizer),
			},
			busy:    true,
			current: Block{Message: "Meeting a", Start: "09:00", End: "10:00", TimeRange: "09:00-10:00", ID: "a"},
			next:    Block{Message: "Meeting b", Start: "14:00", End: "15:30", TimeRange: "14:00-15:30", Organizer: "alice@example.com", ID: "b"},
		},
		{
			name: "busy/third_event_ignored",
			events: []RawEvent{
				event("a", at(12, 9, 0), at(12, 10, 0)),
				event("b", at(12, 14, 0), at(12, 15, 0)),
				event("c", at(12, 16, 0), at(12, 17, 0)),
			},
			busy:    true,
			current: Block{Message: "Meeting a", Start: "09:00", End: "10:00", TimeRange: "09:00-10:00", ID: "a"},
			next:    Block{Message: "Meeting b", Start: "14:00", End: "15:00", TimeRange: "14:00-15:00", ID: "b"},
		},
		{
			name:    "free/until_today",
			events:  []RawEvent{event("a", at(12, 11, 0), at(12, 12, 0))},
			current: Block{Message: "Free until 11:00"},
			next:    Block{Message: "Meeting a", Start: "11:00", End: "12:00", TimeRange: "11:00-12:00", ID: "a"},
		},
		{
			name: "free/second_event_not_used",
			events: []RawEvent{
				event("a", at(12, 11, 0), at(12, 12, 0)),
				event("b", at(12, 13, 0), at(12, 14, 0)),
			},
			current: Block{Message: "Free until 11:00"},
			next:    Block{Message: "Meeting a", Start: "11:00", End: "12:00", TimeRange: "11:00-12:00", ID: "a"},
		},
		{
			name:    "free/all_day_next_single_day",
			events:  []RawEvent{event("a", at(13, 9, 0), at(13, 10, 0))},
			current: Block{Message: FreeAllDay},
			next:    Block{Message: "Meeting a", Start: "2024-03-13 09:00", End: "10:00", TimeRange: "Wed 13 Mar 09:00-10:00", ID: "a"},
		},
		{
			name:    "free/all_day_next_multi_day",
			events:  []RawEvent{event("a", at(14, 9, 0), at(16, 18, 0))},
			current: Block{Message: FreeAllDay},
			next:    Block{Message: "Meeting a", Start: "Mar 14", End: "Mar 16", TimeRange: "Mar 14-Mar 16", ID: "a"},
		},
		{
			name: "declined/skipped",
			events: []RawEvent{
				declined("a", now.Add(-time.Hour), now.Add(time.Hour)),
				event("b", now.Add(2*time.Hour), now.Add(3*time.Hour)),
			},
			current: Block{Message: "Free until 11:30"},
			next:    Block{Message: "Meeting b", Start: "11:30", End: "12:30", TimeRange: "11:30-12:30", ID: "b"},
		},
		{
			name: "declined/only_by_self",
			events: []RawEvent{
				event("a", at(12, 9, 0), at(12, 10, 0), Attendee{Email: "bob@example.com", ResponseStatus: ResponseDeclined}),
			},
			busy:    true,
			current: Block{Message: "Meeting a", Start: "09:00", End: "10:00", TimeRange: "09:00-10:00", ID: "a"},
		},
		{
			name:   "declined/all",
			events: []RawEvent{declined("a", at(12, 9, 0), at(12, 10, 0))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.events, "RoomA", now)
			if !got.Valid {
				t.Fatal("Resolve returned an invalid status")
			}
			if got.Name != "RoomA" {
				t.Errorf("Name = %q, want %q", got.Name, "RoomA")
			}
			if got.Busy != tt.busy {
				t.Errorf("Busy = %v, want %v", got.Busy, tt.busy)
			}
			if got.Current != tt.current {
				t.Errorf("Current = %+v, want %+v", got.Current, tt.current)
			}
			if got.Next != tt.next {
				t.Errorf("Next = %+v, want %+v", got.Next, tt.next)
			}
		})
	}
}

func TestResolve_UsesEventZone(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	ev := RawEvent{
		ID:      "a",
		Summary: "Standup",
		Start:   time.Date(2024, time.March, 12, 10, 0, 0, 0, cet),
		End:     time.Date(2024, time.March, 12, 11, 0, 0, 0, cet),
	}
	got := Resolve([]RawEvent{ev}, "RoomA", now)
	if !got.Busy {
		t.Fatal("expected room to be busy")
	}
	if got.Current.TimeRange != "10:00-11:00" {
		t.Errorf("TimeRange = %q, want %q", got.Current.TimeRange, "10:00-11:00")
	}
}

func TestResolve_MidnightIsUTC(t *testing.T) {
	late := time.Date(2024, time.March, 12, 23, 0, 0, 0, time.UTC)
	ev := event("a", time.Date(2024, time.March, 13, 0, 30, 0, 0, time.UTC), time.Date(2024, time.March, 13, 1, 0, 0, 0, time.UTC))

	got := Resolve([]RawEvent{ev}, "RoomA", late)
	if got.Current.Message != FreeAllDay {
		t.Errorf("Current.Message = %q, want %q", got.Current.Message, FreeAllDay)
	}
}
