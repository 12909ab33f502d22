// Package notify carries calendar change messages from the webhook (or any
// other publisher) to the notification producer.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dokzlo13/roomd/internal/roomstatus"
)

// ErrClosed is returned once a channel has been shut down.
var ErrClosed = errors.New("notification channel closed")

// Message announces a fresh event list for one room.
type Message struct {
	Room   string                `json:"room_name"`
	Events []roomstatus.RawEvent `json:"events"`
}

// Handler consumes one message.
type Handler func(ctx context.Context, msg Message)

// Channel is a publish/subscribe transport for messages.
type Channel interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe delivers messages to h until ctx ends or the subscription
	// drops. It always returns a non-nil error.
	Subscribe(ctx context.Context, h Handler) error
}

// Encode serialises a message.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a serialised message. A missing room name is an error.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Room == "" {
		return Message{}, fmt.Errorf("decode message: missing room_name")
	}
	return msg, nil
}
