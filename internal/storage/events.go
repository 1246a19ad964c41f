package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is an accepted inbound webhook payload. The payload has
// already passed signature verification and redaction by the time it lands
// here.
type WebhookEvent struct {
	ID         string
	Source     string
	Payload    map[string]any
	ReceivedAt time.Time
}

// WebhookEventStore persists accepted webhook payloads.
type WebhookEventStore struct {
	db *sql.DB
}

func NewWebhookEventStore(db *sql.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

// Insert stores one accepted event and returns its id.
func (s *WebhookEventStore) Insert(ctx context.Context, source string, payload map[string]any) (string, error) {
	if source == "" {
		return "", fmt.Errorf("event source is empty")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal webhook payload: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO webhook_events(id, source, payload, received_at)
VALUES(?, ?, ?, ?);
`, id, source, string(raw), formatTime(time.Now().UTC()))
	if err != nil {
		return "", fmt.Errorf("insert webhook event: %w", err)
	}
	return id, nil
}

// AuditEntry records who did what to which resource.
type AuditEntry struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	Metadata  map[string]any
	CreatedAt time.Time
}

// AuditStore persists the audit trail for mutating API operations.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Insert appends one audit entry.
func (s *AuditStore) Insert(ctx context.Context, userID, action, resource string, metadata map[string]any) error {
	if userID == "" || action == "" || resource == "" {
		return fmt.Errorf("audit entry requires user, action and resource")
	}

	var raw any
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		raw = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log(id, user_id, action, resource, metadata, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, uuid.NewString(), userID, action, resource, raw, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListRecent returns the newest entries first, bounded by limit.
func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, action, resource, metadata, created_at
FROM audit_log ORDER BY created_at DESC, rowid DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var (
			e         AuditEntry
			metadataS sql.NullString
			createdS  string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Resource, &metadataS, &createdS); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if metadataS.Valid && metadataS.String != "" {
			if err := json.Unmarshal([]byte(metadataS.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		if ts, err := parseTime(createdS); err == nil {
			e.CreatedAt = ts
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
