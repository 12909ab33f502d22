package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/retry"
	"github.com/dokzlo13/roomd/internal/roomstatus"
)

// MetaThingID is the metadata key holding the room's thing id. Property ids
// are stored under their property names.
const MetaThingID = "thingid"

// ErrInvalidState is returned when a status lacks an identifier needed to
// read or write the device.
var ErrInvalidState = errors.New("device state is missing required identifiers")

// Registry reads and writes room statuses on the devices.
type Registry struct {
	client *Client
	retry  retry.Policy
}

// NewRegistry creates a registry over client. Status fetches are retried
// according to policy.
func NewRegistry(client *Client, policy retry.Policy) *Registry {
	return &Registry{client: client, retry: policy}
}

// Status reads the room's current status from its thing. The returned
// status carries the thing id and property ids in Metadata.
func (r *Registry) Status(ctx context.Context, room string) (roomstatus.RoomStatus, error) {
	things, err := r.client.ListThings(ctx)
	if err != nil {
		return roomstatus.Invalid(room), fmt.Errorf("list things: %w", err)
	}

	var thing *Thing
	for i := range things {
		if things[i].Name == room {
			thing = &things[i]
			break
		}
	}
	if thing == nil {
		return roomstatus.Invalid(room), fmt.Errorf("%w: no thing named %q", ErrInvalidState, room)
	}

	props, err := r.client.ListProperties(ctx, thing.ID)
	if err != nil {
		return roomstatus.Invalid(room), fmt.Errorf("list properties of %s: %w", thing.ID, err)
	}

	status := roomstatus.RoomStatus{
		Name:     room,
		Metadata: map[string]string{MetaThingID: thing.ID},
		Valid:    true,
	}
	for _, p := range props {
		status.Metadata[p.Name] = p.ID
		if f, ok := roomstatus.FieldByName(p.Name); ok {
			status.SetValue(f, p.Value())
		}
	}
	return status, nil
}

// FetchStatus is Status with bounded retries. Missing identifiers are not
// retried. On failure it returns an invalid status instead of an error.
func (r *Registry) FetchStatus(ctx context.Context, room string) roomstatus.RoomStatus {
	var status roomstatus.RoomStatus
	err := retry.Do(ctx, "device.status", r.retry, func(ctx context.Context) error {
		var err error
		status, err = r.Status(ctx, room)
		if errors.Is(err, ErrInvalidState) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("Could not read device status")
		return roomstatus.Invalid(room)
	}
	return status
}

// Publish writes the fields of desired that differ from current, using the
// identifiers cached in current. busynow is written last.
func (r *Registry) Publish(ctx context.Context, desired, current roomstatus.RoomStatus) error {
	thingID := current.Metadata[MetaThingID]
	if thingID == "" {
		return fmt.Errorf("%w: no thing id for room %q", ErrInvalidState, current.Name)
	}

	fields := current.Diff(desired)
	ordered := make([]roomstatus.Field, 0, len(fields))
	busy := false
	for _, f := range fields {
		if f == roomstatus.FieldBusy {
			busy = true
			continue
		}
		ordered = append(ordered, f)
	}
	if busy {
		ordered = append(ordered, roomstatus.FieldBusy)
	}

	var errs []error
	for _, f := range ordered {
		propertyID := current.Metadata[f.Name()]
		if propertyID == "" {
			errs = append(errs, fmt.Errorf("%w: no property %s on thing %s", ErrInvalidState, f.Name(), thingID))
			continue
		}
		if err := r.PublishField(ctx, thingID, propertyID, f, desired.Value(f)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishField writes one field. busynow is sent as an integer.
func (r *Registry) PublishField(ctx context.Context, thingID, propertyID string, f roomstatus.Field, value string) error {
	log.Info().
		Str("thing_id", thingID).
		Str("property_id", propertyID).
		Str("property", f.Name()).
		Str("value", value).
		Msg("Updating device property")

	var payload any = value
	if f == roomstatus.FieldBusy {
		payload = 0
		if roomstatus.ParseBusy(value) {
			payload = 1
		}
	}

	if err := r.client.PublishProperty(ctx, thingID, propertyID, payload); err != nil {
		return fmt.Errorf("publish %s: %w", f.Name(), err)
	}
	return nil
}
