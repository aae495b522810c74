package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event is an in-process domain notification keyed by the payment intent id.
type Event struct {
	Topic    string
	IntentID string
	Payload  []byte
}

// Notifier reacts to emitted events (receipt enqueue, metrics, etc.).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus fans domain events out to downstream handlers. The durable record of
// what happened lives in the order event log; the bus only drives side
// effects and must therefore be fed exactly-once by its callers.
type Bus struct {
	Notifiers []Notifier
}

// Emit dispatches the event to all configured notifiers.
func (b *Bus) Emit(ctx context.Context, topic, intentID string, payload any) error {
	if b == nil {
		return nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("events: topic is required")
	}
	if strings.TrimSpace(intentID) == "" {
		return errors.New("events: intent id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	ev := Event{Topic: topic, IntentID: intentID, Payload: encoded}

	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return joined
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		return encodePayload([]byte(v))
	default:
		return json.Marshal(v)
	}
}
