// Package roomstatus holds the room status snapshot and derives it from calendar events.
package roomstatus

import (
	"strconv"
	"strings"
)

// Block describes one meeting slot (current or next) as shown on a device.
type Block struct {
	Message   string `json:"message"`
	Start     string `json:"start"`
	End       string `json:"end"`
	TimeRange string `json:"time_range"`
	Organizer string `json:"organizer"`
	ID        string `json:"id"`
}

// RoomStatus is a snapshot of a room's calendar state.
// Metadata carries external identifiers (device thing/property ids) and is
// not part of the calendar state. Valid=false means the value could not be
// computed or fetched and must not be acted upon.
type RoomStatus struct {
	Name     string            `json:"name"`
	Busy     bool              `json:"busy"`
	Current  Block             `json:"current"`
	Next     Block             `json:"next"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Valid    bool              `json:"valid"`
}

// Invalid returns a snapshot that must not be compared or written.
func Invalid(name string) RoomStatus {
	return RoomStatus{Name: name}
}

// Equal reports whether both snapshots describe the same calendar state.
// Metadata and Valid are ignored.
func (s RoomStatus) Equal(other RoomStatus) bool {
	if s.Name != other.Name {
		return false
	}
	for _, f := range Fields() {
		if s.Value(f) != other.Value(f) {
			return false
		}
	}
	return true
}

// Diff returns the fields whose values differ between s and other.
func (s RoomStatus) Diff(other RoomStatus) []Field {
	var out []Field
	for _, f := range Fields() {
		if s.Value(f) != other.Value(f) {
			out = append(out, f)
		}
	}
	return out
}

// Field identifies one displayable attribute of a RoomStatus.
type Field int

const (
	FieldBusy Field = iota
	FieldCurrentMessage
	FieldCurrentStart
	FieldCurrentEnd
	FieldCurrentTimeRange
	FieldCurrentOrganizer
	FieldCurrentID
	FieldNextMessage
	FieldNextStart
	FieldNextEnd
	FieldNextTimeRange
	FieldNextOrganizer
	FieldNextID

	fieldCount
)

type fieldSpec struct {
	name string
	get  func(*RoomStatus) string
	set  func(*RoomStatus, string)
}

func blockField(name string, block func(*RoomStatus) *Block, ptr func(*Block) *string) fieldSpec {
	return fieldSpec{
		name: name,
		get:  func(s *RoomStatus) string { return *ptr(block(s)) },
		set:  func(s *RoomStatus, v string) { *ptr(block(s)) = v },
	}
}

func current(s *RoomStatus) *Block { return &s.Current }
func next(s *RoomStatus) *Block    { return &s.Next }

func message(b *Block) *string   { return &b.Message }
func start(b *Block) *string     { return &b.Start }
func end(b *Block) *string       { return &b.End }
func timeRange(b *Block) *string { return &b.TimeRange }
func organizer(b *Block) *string { return &b.Organizer }
func id(b *Block) *string        { return &b.ID }

var fieldSpecs = [fieldCount]fieldSpec{
	FieldBusy: {
		name: "busynow",
		get: func(s *RoomStatus) string {
			if s.Busy {
				return "1"
			}
			return "0"
		},
		set: func(s *RoomStatus, v string) { s.Busy = ParseBusy(v) },
	},
	FieldCurrentMessage:   blockField("curevmsg", current, message),
	FieldCurrentStart:     blockField("curevstart", current, start),
	FieldCurrentEnd:       blockField("curevend", current, end),
	FieldCurrentTimeRange: blockField("curevtm", current, timeRange),
	FieldCurrentOrganizer: blockField("curevorganizer", current, organizer),
	FieldCurrentID:        blockField("curevid", current, id),
	FieldNextMessage:      blockField("nextevmsg", next, message),
	FieldNextStart:        blockField("nextevstart", next, start),
	FieldNextEnd:          blockField("nextevend", next, end),
	FieldNextTimeRange:    blockField("nextevtm", next, timeRange),
	FieldNextOrganizer:    blockField("nextevorganizer", next, organizer),
	FieldNextID:           blockField("nextevid", next, id),
}

var allFields = func() []Field {
	out := make([]Field, fieldCount)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}()

// Fields returns every displayable field in a stable order.
func Fields() []Field {
	return allFields
}

// FieldByName looks up a field by its device property name.
func FieldByName(name string) (Field, bool) {
	for i, spec := range fieldSpecs {
		if spec.name == name {
			return Field(i), true
		}
	}
	return 0, false
}

// Name returns the device property name of the field.
func (f Field) Name() string {
	if f < 0 || f >= fieldCount {
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
	return fieldSpecs[f].name
}

func (f Field) String() string {
	return f.Name()
}

// Value returns the string form of a field. Busy is rendered as "1" or "0".
func (s RoomStatus) Value(f Field) string {
	if f < 0 || f >= fieldCount {
		return ""
	}
	return fieldSpecs[f].get(&s)
}

// SetValue assigns a field from its string form.
func (s *RoomStatus) SetValue(f Field, v string) {
	if f < 0 || f >= fieldCount {
		return
	}
	fieldSpecs[f].set(s, v)
}

// ParseBusy interprets the device representations of the busy flag.
func ParseBusy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "busy":
		return true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f != 0
	}
	return false
}
