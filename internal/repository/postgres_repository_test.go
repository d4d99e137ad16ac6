package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/migrations"
	"github.com/pesio-ai/be-crm-activities/pkg/config"
	"github.com/pesio-ai/be-crm-activities/pkg/database"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
)

func TestActivityRepository_MalformedIDIsNotFound(t *testing.T) {
	r := NewActivityRepository(nil)
	ctx := context.Background()

	_, err := r.GetByID(ctx, "abc")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound), "got %v", err)

	_, err = r.Update(ctx, "abc", func(*SalesActivity) error { return nil })
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound), "got %v", err)
}

// openTestDB connects with the DB_* settings when CRM_TEST_POSTGRES is set and
// applies migrations.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	if os.Getenv("CRM_TEST_POSTGRES") == "" {
		t.Skip("CRM_TEST_POSTGRES not set")
	}
	cfg, err := config.Load()
	require.NoError(t, err)

	ctx := context.Background()
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: 25,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	std := db.StdDB()
	defer std.Close()
	require.NoError(t, migrations.Up(ctx, std))
	return db
}

func TestActivityRepository_Postgres(t *testing.T) {
	db := openTestDB(t)
	r := NewActivityRepository(db)
	ctx := context.Background()
	owner := fmt.Sprintf("rep-%s@x.com", uuid.NewString()[:8])

	a := newWalkIn(owner)
	a.WorkflowLogs = []WorkflowLog{{Action: "created", ActorEmail: owner, Timestamp: time.Now().UTC()}}
	require.NoError(t, r.Create(ctx, a))
	require.NotEmpty(t, a.ID)
	require.Equal(t, int64(1), a.Version)

	_, err := r.GetByID(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	t.Run("failed mutate leaves the row", func(t *testing.T) {
		_, err := r.Update(ctx, a.ID, func(x *SalesActivity) error {
			x.ApprovalStatus = StatusApproved
			return errors.Unauthorized("nope")
		})
		require.True(t, errors.Is(err, errors.ErrCodeUnauthorized))

		got, err := r.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.ApprovalStatus)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("concurrent updates serialize", func(t *testing.T) {
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := r.Update(ctx, a.ID, func(x *SalesActivity) error {
					x.WorkflowLogs = append(x.WorkflowLogs, WorkflowLog{
						Action:     fmt.Sprintf("step-%d", i),
						ActorEmail: owner,
						Timestamp:  time.Now().UTC(),
					})
					return nil
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := r.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(n+1), got.Version)
		require.Len(t, got.WorkflowLogs, n+1)
		assert.Equal(t, "created", got.WorkflowLogs[0].Action)
	})

	t.Run("owner is immutable", func(t *testing.T) {
		_, err := r.Update(ctx, a.ID, func(x *SalesActivity) error {
			x.OwnerEmail = "someone@x.com"
			return nil
		})
		require.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	})
}

func TestDirectoryRepository_Postgres(t *testing.T) {
	db := openTestDB(t)
	r := NewDirectoryRepository(db)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	mgr := "mgr-" + suffix + "@x.com"
	rep := "rep-" + suffix + "@x.com"

	require.NoError(t, r.Upsert(ctx, []hierarchy.User{
		{Email: mgr, DepartmentID: "sales", JobTitle: "Sales Manager"},
		{Email: rep, DepartmentID: "sales", JobTitle: "Sales Executive"},
	}))

	before, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, before.ManagerOf(rep))

	require.NoError(t, r.UpdateManager(ctx, rep, mgr))
	after, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, mgr, after.ManagerOf(rep))
	assert.Greater(t, after.Version(), before.Version())

	require.NoError(t, r.UpdateManager(ctx, rep, ""))
	cleared, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, cleared.ManagerOf(rep))

	err = r.UpdateManager(ctx, "ghost-"+suffix+"@x.com", mgr)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}
