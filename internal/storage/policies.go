package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Retention bounds: a policy may keep data between one day and one year.
const (
	MinRetentionDays = 1
	MaxRetentionDays = 365
)

// RetentionPolicy states how long cached execution data for an instance
// (and optionally one workflow) may be kept. An empty WorkflowID means the
// policy covers the whole instance. Multiple policies may coexist and are
// applied independently by the Retention Enforcer.
type RetentionPolicy struct {
	ID            string
	InstanceID    string
	WorkflowID    string
	RetentionDays int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PolicyStore persists retention policies.
type PolicyStore struct {
	db *sql.DB
}

func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// ErrInvalidRetention is returned when a retention period falls outside
// the allowed bounds.
var ErrInvalidRetention = fmt.Errorf("retention days must be in [%d,%d]", MinRetentionDays, MaxRetentionDays)

func validateRetentionDays(days int) error {
	if days < MinRetentionDays || days > MaxRetentionDays {
		return fmt.Errorf("%w, got %d", ErrInvalidRetention, days)
	}
	return nil
}

// Create inserts a policy. workflowID may be empty for an instance-wide
// policy.
func (s *PolicyStore) Create(ctx context.Context, instanceID, workflowID string, retentionDays int) (*RetentionPolicy, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instance id is empty")
	}
	if err := validateRetentionDays(retentionDays); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &RetentionPolicy{
		ID:            uuid.NewString(),
		InstanceID:    instanceID,
		WorkflowID:    workflowID,
		RetentionDays: retentionDays,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var wf any
	if workflowID != "" {
		wf = workflowID
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO retention_policies(id, instance_id, workflow_id, retention_days, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?);
`, p.ID, p.InstanceID, wf, p.RetentionDays, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert retention policy: %w", err)
	}
	return p, nil
}

// Get returns one policy by id, or ErrNotFound.
func (s *PolicyStore) Get(ctx context.Context, id string) (*RetentionPolicy, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, instance_id, workflow_id, retention_days, created_at, updated_at
FROM retention_policies WHERE id = ?;
`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read retention policy: %w", err)
	}
	return p, nil
}

// List returns every policy, oldest first.
func (s *PolicyStore) List(ctx context.Context) ([]*RetentionPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, instance_id, workflow_id, retention_days, created_at, updated_at
FROM retention_policies ORDER BY created_at ASC, rowid ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()

	var out []*RetentionPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retention policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update changes the retention window of an existing policy.
func (s *PolicyStore) Update(ctx context.Context, id string, retentionDays int) error {
	if err := validateRetentionDays(retentionDays); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE retention_policies SET retention_days = ?, updated_at = ? WHERE id = ?;
`, retentionDays, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update retention policy: %w", err)
	}
	return requireRow(res)
}

// Delete removes a policy.
func (s *PolicyStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM retention_policies WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("delete retention policy: %w", err)
	}
	return requireRow(res)
}

func scanPolicy(row rowScanner) (*RetentionPolicy, error) {
	var (
		p          RetentionPolicy
		workflowID sql.NullString
		createdAtS string
		updatedAtS string
	)
	if err := row.Scan(&p.ID, &p.InstanceID, &workflowID, &p.RetentionDays, &createdAtS, &updatedAtS); err != nil {
		return nil, err
	}
	p.WorkflowID = workflowID.String
	if ts, err := parseTime(createdAtS); err == nil {
		p.CreatedAt = ts
	}
	if ts, err := parseTime(updatedAtS); err == nil {
		p.UpdatedAt = ts
	}
	return &p, nil
}
