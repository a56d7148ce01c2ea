package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/pkg/snowflake"
)

// EnvironmentModel is the database DTO with Gorm tags. Service states are
// stored as a jsonb document keyed by service id; they change together with
// the environment record and are never queried individually.
type EnvironmentModel struct {
	ID             int64  `gorm:"primaryKey"`
	EnvironmentID  string `gorm:"type:varchar(255);uniqueIndex"`
	Status         string `gorm:"type:varchar(50);index"`
	Repository     string `gorm:"type:varchar(255)"`
	Branch         string `gorm:"type:varchar(255)"`
	CommitRef      string `gorm:"type:varchar(255)"`
	PRNumber       int    `gorm:"type:int"`
	PRURL          string `gorm:"type:text"`
	PRBaseBranch   string `gorm:"type:varchar(255)"`
	PRMerged       bool
	PreviewAddress string `gorm:"type:text"`
	Services       []byte `gorm:"type:jsonb"`
	LastError      string `gorm:"type:text"`
	ExpiresAt      time.Time `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (EnvironmentModel) TableName() string {
	return "environments"
}

type EnvironmentRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewEnvironmentRepository(db *gorm.DB, node *snowflake.Node) *EnvironmentRepository {
	return &EnvironmentRepository{db: db, node: node}
}

func (r *EnvironmentRepository) FindByEnvironmentID(ctx context.Context, environmentID string) (*environment.Environment, error) {
	var model EnvironmentModel
	if err := r.db.WithContext(ctx).Where("environment_id = ?", environmentID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toEnvironmentDomain(model)
}

func (r *EnvironmentRepository) Save(ctx context.Context, entity *environment.Environment) error {
	model, err := toEnvironmentModel(entity)
	if err != nil {
		return err
	}
	if entity.ID != 0 {
		return r.db.WithContext(ctx).Save(&model).Error
	}

	// Fresh entity. The environment_id may still own a row left over from a
	// destroyed or failed run; the insert overwrites that row and the entity
	// takes on its id so later saves hit the update path.
	model.ID = r.node.GenerateID()
	err = r.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "environment_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"status", "repository", "branch", "commit_ref",
					"pr_number", "pr_url", "pr_base_branch", "pr_merged",
					"preview_address", "services", "last_error",
					"expires_at", "created_at", "updated_at",
				}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "id"}}},
		).
		Create(&model).Error
	if err != nil {
		return err
	}
	entity.ID = model.ID
	return nil
}

func (r *EnvironmentRepository) List(ctx context.Context, limit int) ([]*environment.Environment, error) {
	query := r.db.WithContext(ctx).Order("updated_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []EnvironmentModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return toEnvironmentDomains(models)
}

func (r *EnvironmentRepository) ListExpired(ctx context.Context, statuses []environment.Status, before time.Time, limit int) ([]*environment.Environment, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}

	query := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", values, before).
		Order("expires_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []EnvironmentModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return toEnvironmentDomains(models)
}

// Mappers

func toEnvironmentDomain(m EnvironmentModel) (*environment.Environment, error) {
	services := make(map[string]*environment.ServiceState)
	if len(m.Services) > 0 {
		if err := json.Unmarshal(m.Services, &services); err != nil {
			return nil, fmt.Errorf("decode service states for %s: %w", m.EnvironmentID, err)
		}
	}
	return &environment.Environment{
		ID:            m.ID,
		EnvironmentID: m.EnvironmentID,
		Status:        environment.Status(m.Status),
		Repository:    m.Repository,
		Branch:        m.Branch,
		CommitRef:     m.CommitRef,
		PR: environment.PullRequest{
			Number:     m.PRNumber,
			URL:        m.PRURL,
			BaseBranch: m.PRBaseBranch,
			Merged:     m.PRMerged,
		},
		PreviewAddress: m.PreviewAddress,
		Services:       services,
		LastError:      m.LastError,
		ExpiresAt:      m.ExpiresAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func toEnvironmentDomains(models []EnvironmentModel) ([]*environment.Environment, error) {
	items := make([]*environment.Environment, 0, len(models))
	for _, model := range models {
		item, err := toEnvironmentDomain(model)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func toEnvironmentModel(d *environment.Environment) (EnvironmentModel, error) {
	services, err := json.Marshal(d.Services)
	if err != nil {
		return EnvironmentModel{}, fmt.Errorf("encode service states for %s: %w", d.EnvironmentID, err)
	}
	return EnvironmentModel{
		ID:             d.ID,
		EnvironmentID:  d.EnvironmentID,
		Status:         string(d.Status),
		Repository:     d.Repository,
		Branch:         d.Branch,
		CommitRef:      d.CommitRef,
		PRNumber:       d.PR.Number,
		PRURL:          d.PR.URL,
		PRBaseBranch:   d.PR.BaseBranch,
		PRMerged:       d.PR.Merged,
		PreviewAddress: d.PreviewAddress,
		Services:       services,
		LastError:      d.LastError,
		ExpiresAt:      d.ExpiresAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}
