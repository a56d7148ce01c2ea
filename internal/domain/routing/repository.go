package routing

import (
	"context"
	"time"
)

// EntryRepository persists routing entries.
type EntryRepository interface {
	// Save persists an entry, replacing any previous row for the same
	// (service_id, environment_id) key.
	Save(ctx context.Context, entry *Entry) error

	// ListByEnvironment retrieves all entries owned by an environment.
	ListByEnvironment(ctx context.Context, environmentID string) ([]*Entry, error)

	// RefreshExpiry updates the expiry mirror on every entry of an environment.
	RefreshExpiry(ctx context.Context, environmentID string, expiresAt time.Time) error

	// DeleteByEnvironment removes all entries owned by an environment.
	// Deleting an environment with no entries is not an error.
	DeleteByEnvironment(ctx context.Context, environmentID string) error
}

// AllocationRepository persists priority allocations. Create must be backed
// by an atomic create-if-absent primitive; it is the only synchronization
// point between competing allocators.
type AllocationRepository interface {
	// ListPriorities returns the priorities currently allocated in a domain.
	ListPriorities(ctx context.Context, domain string) ([]int, error)

	// Create inserts the allocation, returning ErrPriorityTaken when the
	// (domain, priority) slot is already owned.
	Create(ctx context.Context, alloc *Allocation) error

	// Delete releases a slot. Deleting an absent slot is not an error.
	Delete(ctx context.Context, domain string, priority int) error
}
