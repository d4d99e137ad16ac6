package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-crm-activities/pkg/database"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
)

// ActivityRepository persists sales activities in Postgres. Workflow logs live
// in a child table and are only ever inserted.
type ActivityRepository struct {
	db *database.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *database.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

const activityColumns = `
	id, kind, owner_email, builder_email,
	builder_verification_status, ro_verification_status, approval_status,
	builder_note, ro_note,
	customer_name, project_name, visit_date,
	unit_number, deal_value::text, closure_date,
	version, created_at, updated_at
`

// Create inserts an activity together with any initial log entries.
func (r *ActivityRepository) Create(ctx context.Context, a *SalesActivity) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		f := flatten(a)
		query := `
			INSERT INTO sales_activities
			    (kind, owner_email, builder_email,
			     builder_verification_status, ro_verification_status, approval_status,
			     builder_note, ro_note,
			     customer_name, project_name, visit_date,
			     unit_number, deal_value, closure_date, version)
			VALUES ($1, $2, $3,
			        $4, $5, $6,
			        $7, $8,
			        $9, $10, $11,
			        $12, $13::numeric, $14, 1)
			RETURNING id, version, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			a.Kind,
			a.OwnerEmail,
			a.BuilderEmail,
			a.BuilderVerificationStatus,
			a.ROVerificationStatus,
			a.ApprovalStatus,
			a.BuilderNote,
			a.RONote,
			f.customerName,
			f.projectName,
			f.visitDate,
			f.unitNumber,
			f.dealValue,
			f.closureDate,
		).Scan(&a.ID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create activity")
		}
		if a.WorkflowLogs == nil {
			a.WorkflowLogs = []WorkflowLog{}
		}
		return insertLogs(ctx, tx, a.ID, 0, a.WorkflowLogs)
	})
}

// GetByID retrieves an activity with its full workflow log.
func (r *ActivityRepository) GetByID(ctx context.Context, id string) (*SalesActivity, error) {
	if !isActivityID(id) {
		return nil, errors.NotFound("activity", id)
	}
	query := `SELECT ` + activityColumns + ` FROM sales_activities WHERE id = $1`

	a, err := scanActivity(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("activity", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get activity")
	}

	logs, err := r.logsFor(ctx, r.db.Query, []string{a.ID})
	if err != nil {
		return nil, err
	}
	a.WorkflowLogs = logs[a.ID]
	if a.WorkflowLogs == nil {
		a.WorkflowLogs = []WorkflowLog{}
	}
	return a, nil
}

// List retrieves activities matching filter, newest first.
func (r *ActivityRepository) List(ctx context.Context, filter ActivityFilter) ([]*SalesActivity, error) {
	query := `SELECT ` + activityColumns + ` FROM sales_activities WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if len(filter.OwnerEmails) > 0 {
		query += fmt.Sprintf(" AND owner_email = ANY($%d)", argCount)
		args = append(args, filter.OwnerEmails)
		argCount++
	}
	if filter.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argCount)
		args = append(args, *filter.Kind)
		argCount++
	}
	if filter.ApprovalStatus != nil {
		query += fmt.Sprintf(" AND approval_status = $%d", argCount)
		args = append(args, *filter.ApprovalStatus)
		argCount++
	}
	if filter.BuilderEmail != nil {
		query += fmt.Sprintf(" AND builder_email = $%d", argCount)
		args = append(args, *filter.BuilderEmail)
		argCount++
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list activities")
	}
	defer rows.Close()

	activities := make([]*SalesActivity, 0)
	ids := make([]string, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan activity")
		}
		activities = append(activities, a)
		ids = append(ids, a.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list activities")
	}
	if len(ids) == 0 {
		return activities, nil
	}

	logs, err := r.logsFor(ctx, r.db.Query, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range activities {
		a.WorkflowLogs = logs[a.ID]
		if a.WorkflowLogs == nil {
			a.WorkflowLogs = []WorkflowLog{}
		}
	}
	return activities, nil
}

// Update locks the row, applies mutate and writes the result back with a
// version check. Log entries appended by mutate are inserted; existing
// entries are never rewritten.
func (r *ActivityRepository) Update(ctx context.Context, id string, mutate func(*SalesActivity) error) (*SalesActivity, error) {
	if !isActivityID(id) {
		return nil, errors.NotFound("activity", id)
	}
	var updated *SalesActivity

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + activityColumns + ` FROM sales_activities WHERE id = $1 FOR UPDATE`
		current, err := scanActivity(tx.QueryRow(ctx, query, id))
		if err == pgx.ErrNoRows {
			return errors.NotFound("activity", id)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock activity")
		}

		logs, err := r.logsFor(ctx, tx.Query, []string{id})
		if err != nil {
			return err
		}
		current.WorkflowLogs = logs[id]
		if current.WorkflowLogs == nil {
			current.WorkflowLogs = []WorkflowLog{}
		}

		version := current.Version
		owner := current.OwnerEmail
		logCount := len(current.WorkflowLogs)

		if err := mutate(current); err != nil {
			return err
		}
		if current.OwnerEmail != owner {
			return errors.InvalidInput("owner_email", "owner cannot be changed")
		}
		if len(current.WorkflowLogs) < logCount {
			return errors.New(errors.ErrCodeInternal, "workflow log entries cannot be removed")
		}

		f := flatten(current)
		updateQuery := `
			UPDATE sales_activities
			SET builder_email               = $3,
			    builder_verification_status = $4,
			    ro_verification_status      = $5,
			    approval_status             = $6,
			    builder_note                = $7,
			    ro_note                     = $8,
			    customer_name               = $9,
			    project_name                = $10,
			    visit_date                  = $11,
			    unit_number                 = $12,
			    deal_value                  = $13::numeric,
			    closure_date                = $14,
			    version                     = version + 1,
			    updated_at                  = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at
		`
		err = tx.QueryRow(ctx, updateQuery,
			id,
			version,
			current.BuilderEmail,
			current.BuilderVerificationStatus,
			current.ROVerificationStatus,
			current.ApprovalStatus,
			current.BuilderNote,
			current.RONote,
			f.customerName,
			f.projectName,
			f.visitDate,
			f.unitNumber,
			f.dealValue,
			f.closureDate,
		).Scan(&current.Version, &current.UpdatedAt)
		if err == pgx.ErrNoRows {
			return errors.New(errors.ErrCodeConflict, "activity was modified concurrently")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update activity")
		}

		if err := insertLogs(ctx, tx, id, logCount, current.WorkflowLogs[logCount:]); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// isActivityID reports whether id can name a row. Anything else cannot exist.
func isActivityID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ── log helpers ───────────────────────────────────────────────────────────────

type queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

func (r *ActivityRepository) logsFor(ctx context.Context, query queryFunc, ids []string) (map[string][]WorkflowLog, error) {
	rows, err := query(ctx, `
		SELECT activity_id, action, actor_email, logged_at, note
		FROM activity_workflow_logs
		WHERE activity_id = ANY($1)
		ORDER BY activity_id, seq ASC
	`, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow logs")
	}
	defer rows.Close()

	out := make(map[string][]WorkflowLog, len(ids))
	for rows.Next() {
		var activityID string
		var l WorkflowLog
		if err := rows.Scan(&activityID, &l.Action, &l.ActorEmail, &l.Timestamp, &l.Note); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow log")
		}
		out[activityID] = append(out[activityID], l)
	}
	return out, rows.Err()
}

func insertLogs(ctx context.Context, tx pgx.Tx, activityID string, startSeq int, logs []WorkflowLog) error {
	for i, l := range logs {
		_, err := tx.Exec(ctx, `
			INSERT INTO activity_workflow_logs
			    (activity_id, seq, action, actor_email, logged_at, note)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, activityID, startSeq+i+1, l.Action, l.ActorEmail, l.Timestamp, l.Note)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to append workflow log")
		}
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type activityScanner interface {
	Scan(dest ...any) error
}

// flatFields are the nullable columns that hold the union variants.
type flatFields struct {
	customerName *string
	projectName  *string
	visitDate    *time.Time
	unitNumber   *string
	dealValue    *string
	closureDate  *time.Time
}

func flatten(a *SalesActivity) flatFields {
	var f flatFields
	switch {
	case a.WalkIn != nil:
		f.customerName = &a.WalkIn.CustomerName
		f.projectName = &a.WalkIn.ProjectName
		f.visitDate = &a.WalkIn.VisitDate
	case a.Closure != nil:
		dv := a.Closure.DealValue.String()
		f.customerName = &a.Closure.CustomerName
		f.unitNumber = &a.Closure.UnitNumber
		f.dealValue = &dv
		f.closureDate = &a.Closure.ClosureDate
	}
	return f
}

func scanActivity(row activityScanner) (*SalesActivity, error) {
	a := &SalesActivity{}
	var f flatFields
	err := row.Scan(
		&a.ID,
		&a.Kind,
		&a.OwnerEmail,
		&a.BuilderEmail,
		&a.BuilderVerificationStatus,
		&a.ROVerificationStatus,
		&a.ApprovalStatus,
		&a.BuilderNote,
		&a.RONote,
		&f.customerName,
		&f.projectName,
		&f.visitDate,
		&f.unitNumber,
		&f.dealValue,
		&f.closureDate,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	switch a.Kind {
	case KindWalkIn:
		a.WalkIn = &WalkInDetails{
			CustomerName: deref(f.customerName),
			ProjectName:  deref(f.projectName),
		}
		if f.visitDate != nil {
			a.WalkIn.VisitDate = *f.visitDate
		}
	case KindClosure:
		a.Closure = &ClosureDetails{
			CustomerName: deref(f.customerName),
			UnitNumber:   deref(f.unitNumber),
		}
		if f.closureDate != nil {
			a.Closure.ClosureDate = *f.closureDate
		}
		if f.dealValue != nil {
			dv, err := decimal.NewFromString(*f.dealValue)
			if err != nil {
				return nil, fmt.Errorf("parse deal_value: %w", err)
			}
			a.Closure.DealValue = dv
		}
	}
	return a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
