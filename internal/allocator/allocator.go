package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/d3clan/dynamic-branch-env/internal/config"
	"github.com/d3clan/dynamic-branch-env/internal/domain/routing"
)

// ErrExhausted signals that every priority in the configured range is owned.
// It marks a capacity-planning condition, not a backend fault, and must reach
// the caller undowngraded.
var ErrExhausted = errors.New("priority range exhausted")

var exhaustionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dynbranch_priority_exhaustion_total",
	Help: "Allocation attempts that found no free priority in the range.",
}, []string{"domain"})

// Allocator claims and releases slots in the bounded rule-priority range of a
// routing domain. Correctness rests entirely on the store's conditional
// insert: the scan-then-create window is deliberately racy and safe only
// because the final commit is create-if-absent.
type Allocator struct {
	repo   routing.AllocationRepository
	lo, hi int
	logger *zap.Logger
}

func New(repo routing.AllocationRepository, cfg *config.Config, logger *zap.Logger) *Allocator {
	return &Allocator{
		repo:   repo,
		lo:     cfg.PriorityRangeLo,
		hi:     cfg.PriorityRangeHi,
		logger: logger.Named("allocator"),
	}
}

// Allocate claims the lowest free priority in the domain's range for the
// given owner. Losing a conditional insert race moves on to the next
// candidate. Returns ErrExhausted after a full scan with no commit.
func (a *Allocator) Allocate(ctx context.Context, domain, environmentID, serviceID string, expiresAt time.Time) (int, error) {
	used, err := a.repo.ListPriorities(ctx, domain)
	if err != nil {
		return 0, fmt.Errorf("list allocations: %w", err)
	}
	inUse := make(map[int]struct{}, len(used))
	for _, p := range used {
		inUse[p] = struct{}{}
	}

	for priority := a.lo; priority <= a.hi; priority++ {
		if _, taken := inUse[priority]; taken {
			continue
		}
		err := a.repo.Create(ctx, &routing.Allocation{
			Domain:        domain,
			Priority:      priority,
			EnvironmentID: environmentID,
			ServiceID:     serviceID,
			AllocatedAt:   time.Now().UTC(),
			ExpiresAt:     expiresAt,
		})
		if errors.Is(err, routing.ErrPriorityTaken) {
			// Lost the race to a concurrent allocator.
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("create allocation: %w", err)
		}
		return priority, nil
	}

	exhaustionTotal.WithLabelValues(domain).Inc()
	return 0, fmt.Errorf("%w: domain %s, range %d-%d", ErrExhausted, domain, a.lo, a.hi)
}

// Release frees a slot. Idempotent; a failed release merely wastes capacity
// until the allocation's own TTL, so callers treat errors as non-fatal.
func (a *Allocator) Release(ctx context.Context, domain string, priority int) error {
	if err := a.repo.Delete(ctx, domain, priority); err != nil {
		a.logger.Warn("allocation_release_failed",
			zap.Error(err),
			zap.String("domain", domain),
			zap.Int("priority", priority),
		)
		return err
	}
	return nil
}
