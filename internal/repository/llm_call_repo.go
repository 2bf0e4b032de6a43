package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/models"
)

// LLMCallRepository persists the LLM api-call log.
type LLMCallRepository interface {
	Create(ctx context.Context, call *models.LLMAPICall) error
	ListByTask(ctx context.Context, taskID string) ([]models.LLMAPICall, error)
}

type llmCallRepository struct {
	db *gorm.DB
}

// NewLLMCallRepository constructs a repository backed by GORM.
func NewLLMCallRepository(db *gorm.DB) LLMCallRepository {
	return &llmCallRepository{db: db}
}

func (r *llmCallRepository) Create(ctx context.Context, call *models.LLMAPICall) error {
	return r.db.WithContext(ctx).Create(call).Error
}

func (r *llmCallRepository) ListByTask(ctx context.Context, taskID string) ([]models.LLMAPICall, error) {
	var calls []models.LLMAPICall
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at ASC, id ASC").
		Find(&calls).Error
	return calls, err
}
