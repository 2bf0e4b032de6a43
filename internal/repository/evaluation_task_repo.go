package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/models"
)

// EvaluationTaskRepository is the gorm-backed task registry.
type EvaluationTaskRepository interface {
	Create(ctx context.Context, task *models.EvaluationTask) error
	Get(ctx context.Context, taskID string) (models.EvaluationTask, error)
	UpdateScoring(ctx context.Context, taskID string, finalScore float64, grade, summary string, scoredAt time.Time) error
	MarkArchived(ctx context.Context, taskID, archiveID string) error
	ClearArchived(ctx context.Context, taskID string) error
}

type evaluationTaskRepository struct {
	db *gorm.DB
}

// NewEvaluationTaskRepository constructs a repository backed by GORM.
func NewEvaluationTaskRepository(db *gorm.DB) EvaluationTaskRepository {
	return &evaluationTaskRepository{db: db}
}

func (r *evaluationTaskRepository) Create(ctx context.Context, task *models.EvaluationTask) error {
	return dbFromContext(ctx, r.db).Create(task).Error
}

func (r *evaluationTaskRepository) Get(ctx context.Context, taskID string) (models.EvaluationTask, error) {
	var task models.EvaluationTask
	if err := dbFromContext(ctx, r.db).Where("task_id = ?", taskID).First(&task).Error; err != nil {
		return models.EvaluationTask{}, err
	}
	return task, nil
}

// UpdateScoring writes the latest result. Writing the same values twice is harmless.
func (r *evaluationTaskRepository) UpdateScoring(ctx context.Context, taskID string, finalScore float64, grade, summary string, scoredAt time.Time) error {
	result := dbFromContext(ctx, r.db).
		Model(&models.EvaluationTask{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{
			"final_score": finalScore,
			"grade":       grade,
			"summary":     summary,
			"scored_at":   scoredAt,
			"status":      models.TaskStatusScored,
			"archive_id":  nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *evaluationTaskRepository) MarkArchived(ctx context.Context, taskID, archiveID string) error {
	return dbFromContext(ctx, r.db).
		Model(&models.EvaluationTask{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{"status": models.TaskStatusArchived, "archive_id": archiveID}).
		Error
}

func (r *evaluationTaskRepository) ClearArchived(ctx context.Context, taskID string) error {
	return dbFromContext(ctx, r.db).
		Model(&models.EvaluationTask{}).
		Where("task_id = ? AND status = ?", taskID, models.TaskStatusArchived).
		Updates(map[string]interface{}{"status": models.TaskStatusScored, "archive_id": nil}).
		Error
}
