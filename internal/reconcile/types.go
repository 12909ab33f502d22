// Package reconcile provides the reconciliation loop that makes room devices
// show the status derived from their calendars.
package reconcile

import (
	"context"
	"errors"

	"github.com/dokzlo13/roomd/internal/ledger"
	"github.com/dokzlo13/roomd/internal/roomstatus"
)

// ErrConvergenceExhausted is returned when a device still differs from the
// desired status after the last allowed write.
var ErrConvergenceExhausted = errors.New("device did not converge")

// Registry reads and writes device statuses.
type Registry interface {
	// FetchStatus returns the device status, or an invalid one when it
	// cannot be read.
	FetchStatus(ctx context.Context, room string) roomstatus.RoomStatus
	// Publish writes the fields of desired that differ from current.
	Publish(ctx context.Context, desired, current roomstatus.RoomStatus) error
}

// EventSource lists upcoming calendar events.
type EventSource interface {
	ListUpcoming(ctx context.Context, calendarID string) ([]roomstatus.RawEvent, error)
}

// Recorder keeps a history of reconciliation outcomes.
type Recorder interface {
	Append(eventType ledger.EventType, room string, payload map[string]any) error
}

// State is the phase the loop is in.
type State int32

const (
	StateWaiting State = iota
	StateDraining
	StateDeriving
	StateComparing
	StateConverging
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateDraining:
		return "draining"
	case StateDeriving:
		return "deriving"
	case StateComparing:
		return "comparing"
	case StateConverging:
		return "converging"
	default:
		return "unknown"
	}
}
