// Package memory keeps the records (chat lines, pending or handled) and the
// append-only event log the persona reasons over.
package memory

import (
	"context"
	"errors"
	"time"
)

const (
	KindTwitchMessage = "twitch_message"

	Handled   = "True"
	Unhandled = "False"

	// Self is the user name recorded for the persona's own lines.
	Self = "Me"
)

var ErrNotFound = errors.New("memory: record not found")

type Record struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Document  string            `json:"document"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

type Event struct {
	ID        string            `json:"id"`
	Document  string            `json:"document"`
	Metadata  map[string]string `json:"metadata"`
	Epoch     int64             `json:"epoch"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store is the record and event backend. QueryRecords returns matches oldest
// first; GetLatestEvents returns newest first.
type Store interface {
	CreateRecord(ctx context.Context, kind, document string, metadata map[string]string) (string, error)
	QueryRecords(ctx context.Context, kind string, filter map[string]string) ([]Record, error)
	// UpdateRecordMetadata merges metadata into the record's existing keys.
	UpdateRecordMetadata(ctx context.Context, kind, id string, metadata map[string]string) error
	// AppendEvent stores an event under the next epoch and returns it.
	AppendEvent(ctx context.Context, document string, metadata map[string]string) (Event, error)
	GetLatestEvents(ctx context.Context, n int) ([]Event, error)
}

// Pruner is implemented by stores that can drop old records.
type Pruner interface {
	PruneRecords(ctx context.Context, kind string, filter map[string]string, before time.Time) (int, error)
}

// LatestEpoch is the epoch of the newest event, or 0 for an empty log.
func LatestEpoch(ctx context.Context, s Store) (int64, error) {
	events, err := s.GetLatestEvents(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[0].Epoch, nil
}

func matches(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
