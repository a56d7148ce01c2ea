package testhelper

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/domain/routing"
)

// MemoryEnvironmentRepository is an in-memory environment.Repository for
// unit tests.
type MemoryEnvironmentRepository struct {
	mu     sync.Mutex
	envs   map[string]*environment.Environment
	nextID int64
}

func NewMemoryEnvironmentRepository() *MemoryEnvironmentRepository {
	return &MemoryEnvironmentRepository{envs: make(map[string]*environment.Environment)}
}

func (r *MemoryEnvironmentRepository) FindByEnvironmentID(ctx context.Context, environmentID string) (*environment.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.envs[environmentID]
	if !ok {
		return nil, nil
	}
	return env, nil
}

func (r *MemoryEnvironmentRepository) Save(ctx context.Context, env *environment.Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if env.ID == 0 {
		// Like the postgres upsert: a fresh entity for an already-stored
		// environment_id overwrites the row and keeps its id.
		if existing, ok := r.envs[env.EnvironmentID]; ok {
			env.ID = existing.ID
		} else {
			r.nextID++
			env.ID = r.nextID
		}
	}
	r.envs[env.EnvironmentID] = env
	return nil
}

func (r *MemoryEnvironmentRepository) List(ctx context.Context, limit int) ([]*environment.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*environment.Environment, 0, len(r.envs))
	for _, env := range r.envs {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnvironmentID < out[j].EnvironmentID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryEnvironmentRepository) ListExpired(ctx context.Context, statuses []environment.Status, before time.Time, limit int) ([]*environment.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*environment.Environment
	for _, env := range r.envs {
		if !env.ExpiresAt.Before(before) {
			continue
		}
		for _, status := range statuses {
			if env.Status == status {
				out = append(out, env)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MemoryEntryRepository is an in-memory routing.EntryRepository.
type MemoryEntryRepository struct {
	mu      sync.Mutex
	entries map[[2]string]*routing.Entry
}

func NewMemoryEntryRepository() *MemoryEntryRepository {
	return &MemoryEntryRepository{entries: make(map[[2]string]*routing.Entry)}
}

func (r *MemoryEntryRepository) Save(ctx context.Context, entry *routing.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == 0 {
		entry.ID = int64(len(r.entries) + 1)
	}
	r.entries[[2]string{entry.ServiceID, entry.EnvironmentID}] = entry
	return nil
}

func (r *MemoryEntryRepository) ListByEnvironment(ctx context.Context, environmentID string) ([]*routing.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*routing.Entry
	for _, entry := range r.entries {
		if entry.EnvironmentID == environmentID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *MemoryEntryRepository) RefreshExpiry(ctx context.Context, environmentID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.EnvironmentID == environmentID {
			entry.ExpiresAt = expiresAt
		}
	}
	return nil
}

func (r *MemoryEntryRepository) DeleteByEnvironment(ctx context.Context, environmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.entries {
		if entry.EnvironmentID == environmentID {
			delete(r.entries, key)
		}
	}
	return nil
}

// MemoryAllocationRepository is an in-memory routing.AllocationRepository
// whose Create mimics the store's atomic create-if-absent primitive.
type MemoryAllocationRepository struct {
	mu    sync.Mutex
	slots map[string]map[int]*routing.Allocation
}

func NewMemoryAllocationRepository() *MemoryAllocationRepository {
	return &MemoryAllocationRepository{slots: make(map[string]map[int]*routing.Allocation)}
}

func (r *MemoryAllocationRepository) ListPriorities(ctx context.Context, domain string) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for priority := range r.slots[domain] {
		out = append(out, priority)
	}
	sort.Ints(out)
	return out, nil
}

func (r *MemoryAllocationRepository) Create(ctx context.Context, alloc *routing.Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	domain := r.slots[alloc.Domain]
	if domain == nil {
		domain = make(map[int]*routing.Allocation)
		r.slots[alloc.Domain] = domain
	}
	if _, taken := domain[alloc.Priority]; taken {
		return routing.ErrPriorityTaken
	}
	domain[alloc.Priority] = alloc
	return nil
}

func (r *MemoryAllocationRepository) Delete(ctx context.Context, domain string, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots[domain], priority)
	return nil
}

// Count returns the number of live allocations in a domain.
func (r *MemoryAllocationRepository) Count(domain string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots[domain])
}
