package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d3clan/dynamic-branch-env/internal/domain/routing"
	"github.com/d3clan/dynamic-branch-env/pkg/snowflake"
)

// AllocationModel reserves one priority slot. The unique (domain, priority)
// index is the only arbiter: when two allocators race for the same slot the
// conflict clause makes exactly one insert win and the loser sees zero
// affected rows.
type AllocationModel struct {
	ID            int64  `gorm:"primaryKey"`
	Domain        string `gorm:"type:varchar(255);uniqueIndex:idx_allocation_domain_priority"`
	Priority      int    `gorm:"type:int;uniqueIndex:idx_allocation_domain_priority"`
	EnvironmentID string `gorm:"type:varchar(255);index"`
	ServiceID     string `gorm:"type:varchar(255)"`
	ExpiresAt     time.Time
	AllocatedAt   time.Time
}

func (AllocationModel) TableName() string {
	return "priority_allocations"
}

type AllocationRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewAllocationRepository(db *gorm.DB, node *snowflake.Node) *AllocationRepository {
	return &AllocationRepository{db: db, node: node}
}

func (r *AllocationRepository) ListPriorities(ctx context.Context, domain string) ([]int, error) {
	var priorities []int
	err := r.db.WithContext(ctx).Model(&AllocationModel{}).
		Where("domain = ?", domain).
		Order("priority asc").
		Pluck("priority", &priorities).Error
	return priorities, err
}

func (r *AllocationRepository) Create(ctx context.Context, alloc *routing.Allocation) error {
	if alloc.ID == 0 {
		alloc.ID = r.node.GenerateID()
	}
	if alloc.AllocatedAt.IsZero() {
		alloc.AllocatedAt = time.Now().UTC()
	}
	model := AllocationModel{
		ID:            alloc.ID,
		Domain:        alloc.Domain,
		Priority:      alloc.Priority,
		EnvironmentID: alloc.EnvironmentID,
		ServiceID:     alloc.ServiceID,
		ExpiresAt:     alloc.ExpiresAt,
		AllocatedAt:   alloc.AllocatedAt,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain"}, {Name: "priority"}},
		DoNothing: true,
	}).Create(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return routing.ErrPriorityTaken
	}
	return nil
}

func (r *AllocationRepository) Delete(ctx context.Context, domain string, priority int) error {
	return r.db.WithContext(ctx).
		Where("domain = ? AND priority = ?", domain, priority).
		Delete(&AllocationModel{}).Error
}
