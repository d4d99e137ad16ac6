package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-crm-activities/pkg/database"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
)

// ActivityAuditRepository appends and reads immutable workflow audit events.
type ActivityAuditRepository struct {
	db *database.DB
}

// NewActivityAuditRepository creates a new ActivityAuditRepository.
func NewActivityAuditRepository(db *database.DB) *ActivityAuditRepository {
	return &ActivityAuditRepository{db: db}
}

// Record inserts one audit event. The table has a delete-prevention trigger so
// this is the only mutation operation exposed.
func (r *ActivityAuditRepository) Record(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO activity_audit_log
		    (activity_id, action, performed_by,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		event.ActivityID,
		event.Action,
		event.PerformedBy,
		event.StatusBefore,
		event.StatusAfter,
		metadataJSON,
	).Scan(&event.ID, &event.PerformedAt)
}

// GetByActivityID returns the audit trail for an activity ordered oldest-first.
func (r *ActivityAuditRepository) GetByActivityID(ctx context.Context, activityID string) ([]*AuditEvent, error) {
	query := `
		SELECT id, activity_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM activity_audit_log
		WHERE activity_id = $1
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, activityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ActivityAuditRepository) scanRows(rows pgx.Rows) ([]*AuditEvent, error) {
	var events []*AuditEvent
	for rows.Next() {
		event := &AuditEvent{}
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.ActivityID,
			&event.Action,
			&event.PerformedBy,
			&event.PerformedAt,
			&event.StatusBefore,
			&event.StatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit event")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ── in-memory variant ─────────────────────────────────────────────────────────

// MemoryAuditLog is an append-only audit log held in memory.
type MemoryAuditLog struct {
	mu     sync.Mutex
	events []*AuditEvent
}

// NewMemoryAuditLog creates an empty log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Record appends a copy of event.
func (l *MemoryAuditLog) Record(_ context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	event.ID = uuid.NewString()
	event.PerformedAt = time.Now().UTC()
	cp := *event
	l.events = append(l.events, &cp)
	return nil
}

// GetByActivityID returns events for activityID in insertion order.
func (l *MemoryAuditLog) GetByActivityID(_ context.Context, activityID string) ([]*AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*AuditEvent
	for _, e := range l.events {
		if e.ActivityID == activityID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
