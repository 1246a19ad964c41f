package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Health status values maintained by the health-check job.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Instance is a managed workflow-automation deployment. The API key is held
// encrypted (vault token) and never leaves storage in clear.
type Instance struct {
	ID              string
	Name            string
	URL             string
	EncryptedAPIKey string
	IsActive        bool
	HealthStatus    string
	LastHealthCheck *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InstanceStore persists instances.
type InstanceStore struct {
	db *sql.DB
}

func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

// Create inserts a new instance and returns its generated id.
func (s *InstanceStore) Create(ctx context.Context, name, url, encryptedAPIKey string) (*Instance, error) {
	if name == "" {
		return nil, fmt.Errorf("instance name is empty")
	}
	if url == "" {
		return nil, fmt.Errorf("instance url is empty")
	}
	if encryptedAPIKey == "" {
		return nil, fmt.Errorf("instance api key is empty")
	}

	now := time.Now().UTC()
	inst := &Instance{
		ID:              uuid.NewString(),
		Name:            name,
		URL:             url,
		EncryptedAPIKey: encryptedAPIKey,
		IsActive:        true,
		HealthStatus:    HealthUnknown,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO instances(id, name, url, encrypted_api_key, is_active, health_status, created_at, updated_at)
VALUES(?, ?, ?, ?, 1, ?, ?, ?);
`, inst.ID, inst.Name, inst.URL, inst.EncryptedAPIKey, inst.HealthStatus, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert instance: %w", err)
	}
	return inst, nil
}

// Get returns one instance by id, or ErrNotFound.
func (s *InstanceStore) Get(ctx context.Context, id string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, url, encrypted_api_key, is_active, health_status, last_health_check, created_at, updated_at
FROM instances WHERE id = ?;
`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read instance: %w", err)
	}
	return inst, nil
}

// List returns all instances, oldest first.
func (s *InstanceStore) List(ctx context.Context) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, url, encrypted_api_key, is_active, health_status, last_health_check, created_at, updated_at
FROM instances ORDER BY created_at ASC, rowid ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ListActive returns instances the scheduled jobs should touch.
func (s *InstanceStore) ListActive(ctx context.Context) ([]*Instance, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, inst := range all {
		if inst.IsActive {
			active = append(active, inst)
		}
	}
	return active, nil
}

// Update replaces the mutable fields of an instance.
func (s *InstanceStore) Update(ctx context.Context, id, name, url, encryptedAPIKey string, isActive bool) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE instances
SET name = ?, url = ?, encrypted_api_key = ?, is_active = ?, updated_at = ?
WHERE id = ?;
`, name, url, encryptedAPIKey, boolToInt(isActive), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	return requireRow(res)
}

// UpdateHealth records the outcome of a health probe.
func (s *InstanceStore) UpdateHealth(ctx context.Context, id, status string, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE instances
SET health_status = ?, last_health_check = ?, updated_at = ?
WHERE id = ?;
`, status, formatTime(checkedAt.UTC()), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update instance health: %w", err)
	}
	return requireRow(res)
}

// Delete removes an instance.
func (s *InstanceStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var (
		inst       Instance
		isActive   int
		lastCheckS sql.NullString
		createdAtS string
		updatedAtS string
	)
	err := row.Scan(&inst.ID, &inst.Name, &inst.URL, &inst.EncryptedAPIKey, &isActive,
		&inst.HealthStatus, &lastCheckS, &createdAtS, &updatedAtS)
	if err != nil {
		return nil, err
	}
	inst.IsActive = isActive != 0
	if lastCheckS.Valid {
		if ts, err := parseTime(lastCheckS.String); err == nil {
			inst.LastHealthCheck = &ts
		}
	}
	if ts, err := parseTime(createdAtS); err == nil {
		inst.CreatedAt = ts
	}
	if ts, err := parseTime(updatedAtS); err == nil {
		inst.UpdatedAt = ts
	}
	return &inst, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
