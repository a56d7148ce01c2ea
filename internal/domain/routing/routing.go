package routing

import (
	"errors"
	"time"
)

// ErrPriorityTaken is returned by AllocationRepository.Create when the
// (domain, priority) slot is already owned. Callers move on to the next
// candidate; they never retry the same slot.
var ErrPriorityTaken = errors.New("priority already allocated")

// Entry maps one deployed service to its routing configuration. Exists iff
// the owning service progressed past initial provisioning; deleted together
// with the service's teardown.
type Entry struct {
	ID            int64     `json:"id,string"`
	ServiceID     string    `json:"service_id"`
	EnvironmentID string    `json:"environment_id"`
	RuleRef       string    `json:"rule_ref"`
	TargetRef     string    `json:"target_ref"`
	RegistryRef   string    `json:"registry_ref,omitempty"`
	Priority      int       `json:"priority"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Allocation represents ownership of one slot in the bounded priority range
// of a routing domain. At most one allocation exists per (domain, priority),
// enforced by the store's conditional insert, never by application locking.
type Allocation struct {
	ID            int64     `json:"id,string"`
	Domain        string    `json:"domain"`
	Priority      int       `json:"priority"`
	EnvironmentID string    `json:"environment_id"`
	ServiceID     string    `json:"service_id"`
	AllocatedAt   time.Time `json:"allocated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}
