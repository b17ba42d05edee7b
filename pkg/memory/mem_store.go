package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore keeps everything in process. It is used when no database is
// configured and in tests.
type MemStore struct {
	mu      sync.Mutex
	records map[string][]*Record
	events  []Event
	epoch   int64
	now     func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string][]*Record),
		now:     time.Now,
	}
}

func (s *MemStore) CreateRecord(ctx context.Context, kind, document string, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Document:  document,
		Metadata:  copyMetadata(metadata),
		CreatedAt: s.now(),
	}
	s.records[kind] = append(s.records[kind], r)
	return r.ID, nil
}

func (s *MemStore) QueryRecords(ctx context.Context, kind string, filter map[string]string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, r := range s.records[kind] {
		if matches(r.Metadata, filter) {
			c := *r
			c.Metadata = copyMetadata(r.Metadata)
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateRecordMetadata(ctx context.Context, kind, id string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records[kind] {
		if r.ID == id {
			for k, v := range metadata {
				r.Metadata[k] = v
			}
			return nil
		}
	}
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func (s *MemStore) AppendEvent(ctx context.Context, document string, metadata map[string]string) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	e := Event{
		ID:        uuid.NewString(),
		Document:  document,
		Metadata:  copyMetadata(metadata),
		Epoch:     s.epoch,
		CreatedAt: s.now(),
	}
	s.events = append(s.events, e)
	return e, nil
}

func (s *MemStore) GetLatestEvents(ctx context.Context, n int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return nil, nil
	}
	out := make([]Event, 0, min(n, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		e := s.events[i]
		e.Metadata = copyMetadata(e.Metadata)
		out = append(out, e)
	}
	return out, nil
}

func (s *MemStore) PruneRecords(ctx context.Context, kind string, filter map[string]string, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[kind][:0]
	pruned := 0
	for _, r := range s.records[kind] {
		if r.CreatedAt.Before(before) && matches(r.Metadata, filter) {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	s.records[kind] = kept
	return pruned, nil
}
