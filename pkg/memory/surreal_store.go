package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"citrine/pkg/surreal"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SurrealStore persists records and events in SurrealDB. Records carry their
// own rid so lookups never depend on how the driver renders record ids.
type SurrealStore struct {
	client *surreal.Client
	log    *zap.Logger

	// appendMu serializes epoch allocation within this process.
	appendMu sync.Mutex
}

func NewSurrealStore(ctx context.Context, client *surreal.Client, logger *zap.Logger) *SurrealStore {
	store := &SurrealStore{
		client: client,
		log:    logger,
	}
	if err := store.Init(ctx); err != nil {
		// Schema may already exist or the database may come back later.
		logger.Warn("Failed to initialize SurrealDB schema", zap.Error(err))
	}
	return store
}

func (s *SurrealStore) Init(ctx context.Context) error {
	query := `
		DEFINE TABLE IF NOT EXISTS records SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS rid ON records TYPE string;
		DEFINE FIELD IF NOT EXISTS kind ON records TYPE string;
		DEFINE FIELD IF NOT EXISTS document ON records TYPE string;
		DEFINE FIELD IF NOT EXISTS metadata ON records FLEXIBLE TYPE object;
		DEFINE FIELD IF NOT EXISTS created_at ON records TYPE int;
		DEFINE INDEX IF NOT EXISTS records_rid ON records FIELDS rid UNIQUE;
		DEFINE INDEX IF NOT EXISTS records_kind ON records FIELDS kind, created_at;

		DEFINE TABLE IF NOT EXISTS events SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS rid ON events TYPE string;
		DEFINE FIELD IF NOT EXISTS document ON events TYPE string;
		DEFINE FIELD IF NOT EXISTS metadata ON events FLEXIBLE TYPE object;
		DEFINE FIELD IF NOT EXISTS epoch ON events TYPE int;
		DEFINE FIELD IF NOT EXISTS created_at ON events TYPE int;
		DEFINE INDEX IF NOT EXISTS events_epoch ON events FIELDS epoch UNIQUE;
	`
	_, err := s.client.Query(ctx, query, nil)
	return err
}

func (s *SurrealStore) CreateRecord(ctx context.Context, kind, document string, metadata map[string]string) (string, error) {
	id := uuid.NewString()
	query := `
		CREATE type::thing("records", $rid) CONTENT {
			rid: $rid,
			kind: $kind,
			document: $document,
			metadata: $metadata,
			created_at: $created_at
		};
	`
	_, err := s.client.Query(ctx, query, map[string]interface{}{
		"rid":        id,
		"kind":       kind,
		"document":   document,
		"metadata":   copyMetadata(metadata),
		"created_at": time.Now().UnixNano(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create %s record: %w", kind, err)
	}
	return id, nil
}

func (s *SurrealStore) QueryRecords(ctx context.Context, kind string, filter map[string]string) ([]Record, error) {
	where, vars, err := surreal.BuildWhereClause("metadata", filter)
	if err != nil {
		return nil, err
	}
	vars["kind"] = kind

	query := fmt.Sprintf(`
		SELECT rid, kind, document, metadata, created_at FROM records
		WHERE kind = $kind AND %s
		ORDER BY created_at ASC;
	`, where)

	result, err := s.client.Query(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", kind, err)
	}

	var records []Record
	for _, row := range surreal.Rows(result) {
		records = append(records, Record{
			ID:        stringField(row, "rid"),
			Kind:      stringField(row, "kind"),
			Document:  stringField(row, "document"),
			Metadata:  metadataField(row),
			CreatedAt: time.Unix(0, intField(row, "created_at")),
		})
	}
	return records, nil
}

func (s *SurrealStore) UpdateRecordMetadata(ctx context.Context, kind, id string, metadata map[string]string) error {
	query := `UPDATE type::thing("records", $rid) MERGE { metadata: $metadata } WHERE kind = $kind RETURN AFTER;`
	result, err := s.client.Query(ctx, query, map[string]interface{}{
		"rid":      id,
		"kind":     kind,
		"metadata": copyMetadata(metadata),
	})
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", kind, id, err)
	}
	if len(surreal.Rows(result)) == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (s *SurrealStore) AppendEvent(ctx context.Context, document string, metadata map[string]string) (Event, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	latest, err := s.GetLatestEvents(ctx, 1)
	if err != nil {
		return Event{}, err
	}
	var epoch int64 = 1
	if len(latest) > 0 {
		epoch = latest[0].Epoch + 1
	}

	e := Event{
		ID:        uuid.NewString(),
		Document:  document,
		Metadata:  copyMetadata(metadata),
		Epoch:     epoch,
		CreatedAt: time.Now(),
	}
	query := `
		CREATE type::thing("events", $rid) CONTENT {
			rid: $rid,
			document: $document,
			metadata: $metadata,
			epoch: $epoch,
			created_at: $created_at
		};
	`
	_, err = s.client.Query(ctx, query, map[string]interface{}{
		"rid":        e.ID,
		"document":   e.Document,
		"metadata":   e.Metadata,
		"epoch":      e.Epoch,
		"created_at": e.CreatedAt.UnixNano(),
	})
	if err != nil {
		return Event{}, fmt.Errorf("failed to append event: %w", err)
	}
	return e, nil
}

func (s *SurrealStore) GetLatestEvents(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT rid, document, metadata, epoch, created_at FROM events ORDER BY epoch DESC LIMIT %d;`, n)
	result, err := s.client.Query(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest events: %w", err)
	}

	var events []Event
	for _, row := range surreal.Rows(result) {
		events = append(events, Event{
			ID:        stringField(row, "rid"),
			Document:  stringField(row, "document"),
			Metadata:  metadataField(row),
			Epoch:     intField(row, "epoch"),
			CreatedAt: time.Unix(0, intField(row, "created_at")),
		})
	}
	return events, nil
}

func (s *SurrealStore) PruneRecords(ctx context.Context, kind string, filter map[string]string, before time.Time) (int, error) {
	where, vars, err := surreal.BuildWhereClause("metadata", filter)
	if err != nil {
		return 0, err
	}
	vars["kind"] = kind
	vars["before"] = before.UnixNano()

	query := fmt.Sprintf(`DELETE records WHERE kind = $kind AND created_at < $before AND %s RETURN BEFORE;`, where)
	result, err := s.client.Query(ctx, query, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to prune %s records: %w", kind, err)
	}
	return len(surreal.Rows(result)), nil
}

func stringField(row map[string]interface{}, key string) string {
	s, _ := row[key].(string)
	return s
}

func intField(row map[string]interface{}, key string) int64 {
	switch v := row[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

func metadataField(row map[string]interface{}) map[string]string {
	out := map[string]string{}
	switch m := row["metadata"].(type) {
	case map[string]interface{}:
		for k, v := range m {
			out[k] = fmt.Sprint(v)
		}
	case map[interface{}]interface{}:
		for k, v := range m {
			out[fmt.Sprint(k)] = fmt.Sprint(v)
		}
	}
	return out
}
