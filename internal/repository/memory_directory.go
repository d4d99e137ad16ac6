package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
)

// MemoryDirectory is an in-process user directory. Each manager change
// produces a new snapshot version.
type MemoryDirectory struct {
	mu   sync.RWMutex
	snap *hierarchy.Snapshot
}

// NewMemoryDirectory seeds a directory with users.
func NewMemoryDirectory(users []hierarchy.User) *MemoryDirectory {
	return &MemoryDirectory{snap: hierarchy.NewSnapshot(1, users)}
}

// Snapshot returns the current immutable view.
func (d *MemoryDirectory) Snapshot(_ context.Context) (*hierarchy.Snapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap, nil
}

// UpdateManager rebinds owner to manager.
func (d *MemoryDirectory) UpdateManager(_ context.Context, ownerEmail, managerEmail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.snap.User(ownerEmail); !ok {
		return errors.NotFound("user", ownerEmail)
	}
	d.snap = d.snap.WithManager(ownerEmail, managerEmail)
	return nil
}

// Upsert adds or replaces a user.
func (d *MemoryDirectory) Upsert(u hierarchy.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := d.snap.Users()
	replaced := false
	for i := range users {
		if users[i].Email == hierarchy.Normalize(u.Email) {
			users[i] = u
			replaced = true
		}
	}
	if !replaced {
		users = append(users, u)
	}
	d.snap = hierarchy.NewSnapshot(d.snap.Version()+1, users)
}

// LoadUsersFile reads a JSON array of directory users.
func LoadUsersFile(path string) ([]hierarchy.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	var users []hierarchy.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse directory file %s: %w", path, err)
	}
	for i, u := range users {
		if hierarchy.Normalize(u.Email) == "" {
			return nil, fmt.Errorf("directory file %s: entry %d has no email", path, i)
		}
	}
	return users, nil
}
