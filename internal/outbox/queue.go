package outbox

import (
	"context"

	"gorm.io/gorm"

	"github.com/d3clan/dynamic-branch-env/internal/usecase/lifecycle"
)

// Queue is the write side of the outbox, used by webhook and admin ingress.
type Queue struct {
	db *gorm.DB
}

func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, action lifecycle.Action) error {
	return Enqueue(ctx, q.db, action)
}
