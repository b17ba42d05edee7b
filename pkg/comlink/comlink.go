// Package comlink publishes what the persona says and feels to outside
// consumers: overlay clients, message buses and chat mirrors.
package comlink

import (
	"context"
	"encoding/json"
	"errors"
)

// Message types.
const (
	TypeMessage     = "message"
	TypeEmotion     = "emotion"
	TypeDescription = "description"
	TypeTask        = "task"
)

type Message struct {
	Type    string          `json:"type"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage encodes payload into a Message.
func NewMessage(typ, source string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Source: source, Payload: data}, nil
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Multi sends every message to all publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
