package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d3clan/dynamic-branch-env/internal/domain/routing"
	"github.com/d3clan/dynamic-branch-env/pkg/snowflake"
)

// EntryModel mirrors one service's routing handles. The (service_id,
// environment_id) pair is unique so re-deploys upsert instead of duplicating.
type EntryModel struct {
	ID            int64  `gorm:"primaryKey"`
	ServiceID     string `gorm:"type:varchar(255);uniqueIndex:idx_routing_service_env"`
	EnvironmentID string `gorm:"type:varchar(255);uniqueIndex:idx_routing_service_env;index"`
	RuleRef       string `gorm:"type:varchar(255)"`
	TargetRef     string `gorm:"type:varchar(255)"`
	RegistryRef   string `gorm:"type:varchar(255)"`
	Priority      int    `gorm:"type:int"`
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (EntryModel) TableName() string {
	return "routing_entries"
}

type EntryRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewEntryRepository(db *gorm.DB, node *snowflake.Node) *EntryRepository {
	return &EntryRepository{db: db, node: node}
}

func (r *EntryRepository) Save(ctx context.Context, entry *routing.Entry) error {
	if entry.ID == 0 {
		entry.ID = r.node.GenerateID()
	}
	model := toEntryModel(entry)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "service_id"}, {Name: "environment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"rule_ref", "target_ref", "registry_ref", "priority", "expires_at", "updated_at",
		}),
	}).Create(&model).Error
}

func (r *EntryRepository) ListByEnvironment(ctx context.Context, environmentID string) ([]*routing.Entry, error) {
	var models []EntryModel
	if err := r.db.WithContext(ctx).
		Where("environment_id = ?", environmentID).
		Order("service_id asc").
		Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*routing.Entry, 0, len(models))
	for _, model := range models {
		items = append(items, toEntryDomain(model))
	}
	return items, nil
}

func (r *EntryRepository) RefreshExpiry(ctx context.Context, environmentID string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Model(&EntryModel{}).
		Where("environment_id = ?", environmentID).
		Updates(map[string]any{
			"expires_at": expiresAt,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *EntryRepository) DeleteByEnvironment(ctx context.Context, environmentID string) error {
	return r.db.WithContext(ctx).
		Where("environment_id = ?", environmentID).
		Delete(&EntryModel{}).Error
}

// Mappers

func toEntryDomain(m EntryModel) *routing.Entry {
	return &routing.Entry{
		ID:            m.ID,
		ServiceID:     m.ServiceID,
		EnvironmentID: m.EnvironmentID,
		RuleRef:       m.RuleRef,
		TargetRef:     m.TargetRef,
		RegistryRef:   m.RegistryRef,
		Priority:      m.Priority,
		ExpiresAt:     m.ExpiresAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toEntryModel(d *routing.Entry) EntryModel {
	return EntryModel{
		ID:            d.ID,
		ServiceID:     d.ServiceID,
		EnvironmentID: d.EnvironmentID,
		RuleRef:       d.RuleRef,
		TargetRef:     d.TargetRef,
		RegistryRef:   d.RegistryRef,
		Priority:      d.Priority,
		ExpiresAt:     d.ExpiresAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
