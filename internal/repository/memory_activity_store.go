package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-crm-activities/pkg/errors"
)

// MemoryActivityStore keeps activities in process memory. Updates to a single
// activity are serialized by a per-activity mutex; different activities never
// contend beyond the short map lookups.
type MemoryActivityStore struct {
	mu      sync.RWMutex
	records map[string]*SalesActivity

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// NewMemoryActivityStore creates an empty store.
func NewMemoryActivityStore() *MemoryActivityStore {
	return &MemoryActivityStore{
		records: make(map[string]*SalesActivity),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (s *MemoryActivityStore) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create stores a new activity, assigning an id when missing.
func (s *MemoryActivityStore) Create(_ context.Context, a *SalesActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := s.records[a.ID]; exists {
		return errors.New(errors.ErrCodeConflict, "activity already exists: "+a.ID)
	}
	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1
	if a.WorkflowLogs == nil {
		a.WorkflowLogs = []WorkflowLog{}
	}
	s.records[a.ID] = a.Clone()
	return nil
}

// GetByID returns a copy of the activity.
func (s *MemoryActivityStore) GetByID(_ context.Context, id string) (*SalesActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.records[id]
	if !ok {
		return nil, errors.NotFound("activity", id)
	}
	return a.Clone(), nil
}

// List returns copies of matching activities, newest first.
func (s *MemoryActivityStore) List(_ context.Context, filter ActivityFilter) ([]*SalesActivity, error) {
	s.mu.RLock()
	out := make([]*SalesActivity, 0, len(s.records))
	for _, a := range s.records {
		if filter.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update applies mutate to a private copy under the activity's lock. The copy
// replaces the stored record only when mutate returns nil.
func (s *MemoryActivityStore) Update(ctx context.Context, id string, mutate func(*SalesActivity) error) (*SalesActivity, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	version := current.Version
	owner := current.OwnerEmail

	if err := mutate(current); err != nil {
		return nil, err
	}
	if current.OwnerEmail != owner {
		return nil, errors.InvalidInput("owner_email", "owner cannot be changed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[id]
	if !ok {
		return nil, errors.NotFound("activity", id)
	}
	if stored.Version != version {
		return nil, errors.New(errors.ErrCodeConflict, "activity was modified concurrently")
	}
	current.ID = id
	current.Version = version + 1
	current.UpdatedAt = s.now().UTC()
	s.records[id] = current.Clone()
	return current, nil
}
