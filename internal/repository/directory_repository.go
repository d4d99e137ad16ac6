package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/pkg/database"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
)

// DirectoryRepository reads the user directory from Postgres and records
// reporting-line changes. Every change bumps the row revision so snapshots
// carry a comparable version.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// Snapshot loads the whole directory into an immutable view.
func (r *DirectoryRepository) Snapshot(ctx context.Context) (*hierarchy.Snapshot, error) {
	query := `
		SELECT email, name, job_title, role,
		       COALESCE(reports_to_email, ''), COALESCE(department_id, ''),
		       revision
		FROM directory_users
		ORDER BY email
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load directory")
	}
	defer rows.Close()

	var (
		users   []hierarchy.User
		version int64
	)
	for rows.Next() {
		var u hierarchy.User
		var revision int64
		if err := rows.Scan(&u.Email, &u.Name, &u.JobTitle, &u.Role, &u.ReportsTo, &u.DepartmentID, &revision); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan directory user")
		}
		if revision > version {
			version = revision
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load directory")
	}
	return hierarchy.NewSnapshot(version, users), nil
}

// UpdateManager sets the reporting officer of owner.
func (r *DirectoryRepository) UpdateManager(ctx context.Context, ownerEmail, managerEmail string) error {
	query := `
		UPDATE directory_users
		SET reports_to_email = NULLIF($2, ''),
		    revision         = nextval('directory_revision_seq'),
		    updated_at       = NOW()
		WHERE email = $1
	`

	tag, err := r.db.Exec(ctx, query, hierarchy.Normalize(ownerEmail), hierarchy.Normalize(managerEmail))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update manager")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user", ownerEmail)
	}
	return nil
}

// Upsert inserts or replaces directory entries in one transaction.
func (r *DirectoryRepository) Upsert(ctx context.Context, users []hierarchy.User) error {
	query := `
		INSERT INTO directory_users (email, name, job_title, role, reports_to_email, department_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (email) DO UPDATE SET
			name             = EXCLUDED.name,
			job_title        = EXCLUDED.job_title,
			role             = EXCLUDED.role,
			reports_to_email = EXCLUDED.reports_to_email,
			department_id    = EXCLUDED.department_id,
			revision         = nextval('directory_revision_seq'),
			updated_at       = NOW()
	`

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		for _, u := range users {
			role := u.Role
			if role == "" {
				role = "user"
			}
			_, err := tx.Exec(ctx, query,
				hierarchy.Normalize(u.Email), u.Name, u.JobTitle, role,
				hierarchy.Normalize(u.ReportsTo), u.DepartmentID)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert directory user "+u.Email)
			}
		}
		return nil
	})
}
