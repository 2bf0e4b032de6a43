package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/models"
	"github.com/noah-isme/teaching-eval-scoring/internal/repository"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
)

// RegistryTask is a task as seen by the registry, including its lifecycle status.
type RegistryTask struct {
	Task   scoring.Task
	Status string
}

// TaskRegistry is the engine's view of the assignment subsystem.
type TaskRegistry interface {
	GetTask(ctx context.Context, taskID string) (RegistryTask, error)
	UpdateTaskScoring(ctx context.Context, taskID string, finalScore float64, grade scoring.Grade, summary string, scoredAt time.Time) error
}

// ArchiveAwareRegistry is implemented by registries that track the archived state.
type ArchiveAwareRegistry interface {
	MarkArchived(ctx context.Context, taskID, archiveID string) error
	ClearArchived(ctx context.Context, taskID string) error
}

type gormTaskRegistry struct {
	repo repository.EvaluationTaskRepository
}

// NewGormTaskRegistry adapts the evaluation task table to the TaskRegistry contract. Writes
// join the scoring store transaction when the context carries one.
func NewGormTaskRegistry(repo repository.EvaluationTaskRepository) TaskRegistry {
	return &gormTaskRegistry{repo: repo}
}

func (r *gormTaskRegistry) GetTask(ctx context.Context, taskID string) (RegistryTask, error) {
	row, err := r.repo.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RegistryTask{}, scoring.NewError(scoring.KindTaskNotFound, taskID, "task is not registered", nil)
		}
		return RegistryTask{}, err
	}

	task := scoring.Task{
		TaskID:         row.TaskID,
		TeacherID:      row.TeacherID,
		FileType:       scoring.FileType(row.FileType),
		FileReferences: append([]string(nil), row.FileReferences...),
		CustomTotal:    row.CustomTotal,
	}
	return RegistryTask{Task: task, Status: row.Status}, nil
}

func (r *gormTaskRegistry) UpdateTaskScoring(ctx context.Context, taskID string, finalScore float64, grade scoring.Grade, summary string, scoredAt time.Time) error {
	err := r.repo.UpdateScoring(ctx, taskID, finalScore, string(grade), summary, scoredAt)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return scoring.NewError(scoring.KindTaskNotFound, taskID, "task is not registered", nil)
	}
	return err
}

func (r *gormTaskRegistry) MarkArchived(ctx context.Context, taskID, archiveID string) error {
	return r.repo.MarkArchived(ctx, taskID, archiveID)
}

func (r *gormTaskRegistry) ClearArchived(ctx context.Context, taskID string) error {
	return r.repo.ClearArchived(ctx, taskID)
}

func isPendingTask(status string) bool {
	return status == models.TaskStatusPending
}

func isArchivedTask(status string) bool {
	return status == models.TaskStatusArchived
}
