package environment

import (
	"context"
	"time"
)

// Repository defines the interface for persisting Environment entities.
// Find methods return (nil, nil) when no record exists.
type Repository interface {
	// FindByEnvironmentID retrieves an environment by its stable id.
	FindByEnvironmentID(ctx context.Context, environmentID string) (*Environment, error)

	// Save persists an environment (create or update).
	Save(ctx context.Context, env *Environment) error

	// List retrieves environments ordered by most recent update.
	List(ctx context.Context, limit int) ([]*Environment, error)

	// ListExpired retrieves environments in any of the given statuses whose
	// expiry lies before the cutoff.
	ListExpired(ctx context.Context, statuses []Status, before time.Time, limit int) ([]*Environment, error)
}
