package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/zeitwerk/platform/internal/shared/config"
	"github.com/zeitwerk/platform/internal/shared/errors"
)

const (
	// StreamName is the stream holding all trust-core audit entries.
	StreamName = "zeitwerk-audit"
	// EntryEventType is the event type for audit entries.
	EntryEventType = "AuditEntry"
)

// StreamRepository mirrors audit entries into an EventStoreDB stream.
// The store is inherently append-only, which makes the mirror tamper
// evident; the Postgres table remains the queryable primary.
type StreamRepository struct {
	client *esdb.Client
}

// NewStreamRepository creates an EventStoreDB-backed audit sink.
func NewStreamRepository(client *esdb.Client) *StreamRepository {
	return &StreamRepository{client: client}
}

// Connect dials the EventStoreDB node named in the audit config.
func Connect(cfg config.AuditConfig) (*esdb.Client, error) {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}
	connString := fmt.Sprintf("esdb://%s%s:%d?tls=%t", auth, cfg.Host, cfg.Port, !cfg.Insecure)

	settings, err := esdb.ParseConnectionString(connString)
	if err != nil {
		return nil, fmt.Errorf("parse audit stream connection string: %w", err)
	}
	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("create audit stream client: %w", err)
	}
	return client, nil
}

// Append appends the entry to the audit stream.
func (r *StreamRepository) Append(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal audit entry")
	}

	event := esdb.EventData{
		EventID:     uuid.New(),
		EventType:   EntryEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
	}

	_, err = r.client.AppendToStream(ctx, StreamName, esdb.AppendToStreamOptions{}, event)
	if err != nil {
		return errors.Wrap(err, "append to audit stream")
	}
	return nil
}
