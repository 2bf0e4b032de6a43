package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/models"
)

// ScoringRecordFilter narrows record listings.
type ScoringRecordFilter struct {
	TaskID            string
	TeacherID         string
	FileType          string
	Status            string
	IncludeSuperseded bool
	Page              int
	PageSize          int
}

// ArchivedScoreFilter narrows archive listings.
type ArchivedScoreFilter struct {
	TeacherID string
	FileType  string
	Grade     string
	Page      int
	PageSize  int
}

// ScoringRecordRepository persists scoring records and their archives.
type ScoringRecordRepository interface {
	Put(ctx context.Context, record *models.ScoringRecord, after func(ctx context.Context) error) (bool, error)
	Get(ctx context.Context, taskID string) (models.ScoringRecord, error)
	FindCurrent(ctx context.Context, taskID string) (models.ScoringRecord, error)
	List(ctx context.Context, filter ScoringRecordFilter) ([]models.ScoringRecord, int64, error)
	Archive(ctx context.Context, taskID, actor string, after func(ctx context.Context, archive models.ArchivedScore) error) (models.ArchivedScore, bool, error)
	GetArchived(ctx context.Context, archiveID string) (models.ArchivedScore, error)
	ListArchived(ctx context.Context, filter ArchivedScoreFilter) ([]models.ArchivedScore, int64, error)
	DeleteArchived(ctx context.Context, archiveID string, after func(ctx context.Context, archive models.ArchivedScore) error) error
}

// NewScoringRecordRepository constructs a repository backed by GORM.
func NewScoringRecordRepository(db *gorm.DB) ScoringRecordRepository {
	return &scoringRecordRepository{db: db, locks: newKeyedMutex(), now: time.Now}
}

type scoringRecordRepository struct {
	db    *gorm.DB
	locks *keyedMutex
	now   func() time.Time
}

// Put stores record. Scored records are idempotent on (task_id, input_fingerprint): when the
// current record already carries the fingerprint it is loaded into record and false is returned.
// Otherwise the new record supersedes the previous current one. after runs inside the same
// transaction; its context carries the transaction.
func (r *scoringRecordRepository) Put(ctx context.Context, record *models.ScoringRecord, after func(ctx context.Context) error) (bool, error) {
	unlock := r.locks.Lock(record.TaskID)
	defer unlock()

	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if record.Status == models.ScoringStatusScored {
			var existing models.ScoringRecord
			err := tx.Where("task_id = ? AND input_fingerprint = ? AND status = ? AND superseded = ?",
				record.TaskID, record.InputFingerprint, models.ScoringStatusScored, false).
				Order("id DESC").
				First(&existing).Error
			if err == nil {
				*record = existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		if err := tx.Create(record).Error; err != nil {
			return err
		}
		created = true

		if record.Status == models.ScoringStatusScored {
			if err := tx.Model(&models.ScoringRecord{}).
				Where("task_id = ? AND status = ? AND superseded = ? AND id <> ?",
					record.TaskID, models.ScoringStatusScored, false, record.ID).
				Updates(map[string]interface{}{"superseded": true, "superseded_by": record.ID}).Error; err != nil {
				return err
			}
		}

		if after != nil {
			return after(WithTx(ctx, tx))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// Get returns the current scored record for the task, falling back to the latest attempt.
func (r *scoringRecordRepository) Get(ctx context.Context, taskID string) (models.ScoringRecord, error) {
	record, err := r.FindCurrent(ctx, taskID)
	if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) {
		return record, err
	}

	var latest models.ScoringRecord
	if err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("id DESC").
		First(&latest).Error; err != nil {
		return models.ScoringRecord{}, err
	}
	return latest, nil
}

// FindCurrent returns the non-superseded scored record for the task.
func (r *scoringRecordRepository) FindCurrent(ctx context.Context, taskID string) (models.ScoringRecord, error) {
	var record models.ScoringRecord
	err := dbFromContext(ctx, r.db).
		Where("task_id = ? AND status = ? AND superseded = ?", taskID, models.ScoringStatusScored, false).
		Order("id DESC").
		First(&record).Error
	if err != nil {
		return models.ScoringRecord{}, err
	}
	return record, nil
}

func (r *scoringRecordRepository) List(ctx context.Context, filter ScoringRecordFilter) ([]models.ScoringRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ScoringRecord{})
	if filter.TaskID != "" {
		query = query.Where("task_id = ?", filter.TaskID)
	}
	if filter.TeacherID != "" {
		query = query.Where("teacher_id = ?", filter.TeacherID)
	}
	if filter.FileType != "" {
		query = query.Where("file_type = ?", filter.FileType)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", strings.ToLower(filter.Status))
	}
	if !filter.IncludeSuperseded {
		query = query.Where("superseded = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []models.ScoringRecord
	if err := applyPage(query.Order("id DESC"), filter.Page, filter.PageSize).Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Archive snapshots the current record of the task. Archiving twice returns the existing
// archive and false.
func (r *scoringRecordRepository) Archive(ctx context.Context, taskID, actor string, after func(ctx context.Context, archive models.ArchivedScore) error) (models.ArchivedScore, bool, error) {
	unlock := r.locks.Lock(taskID)
	defer unlock()

	var (
		archive models.ArchivedScore
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.ScoringRecord
		if err := tx.Where("task_id = ? AND status = ? AND superseded = ?", taskID, models.ScoringStatusScored, false).
			Order("id DESC").
			First(&record).Error; err != nil {
			return err
		}

		if record.Archived && record.ArchiveID != nil {
			return tx.Where("archive_id = ?", *record.ArchiveID).First(&archive).Error
		}

		archiveID := uuid.NewString()
		archivedAt := r.now().UTC()
		record.Archived = true
		record.ArchiveID = &archiveID

		if err := tx.Model(&models.ScoringRecord{}).
			Where("id = ?", record.ID).
			Updates(map[string]interface{}{"archived": true, "archive_id": archiveID}).Error; err != nil {
			return err
		}

		archive = models.ArchivedScore{
			ArchiveID:  archiveID,
			RecordID:   record.ID,
			TaskID:     record.TaskID,
			TeacherID:  record.TeacherID,
			FileType:   record.FileType,
			Grade:      record.Grade,
			FinalScore: record.FinalScore,
			Snapshot:   datatypes.NewJSONType(record),
			ArchivedBy: actor,
			ArchivedAt: archivedAt,
		}
		if err := tx.Create(&archive).Error; err != nil {
			return err
		}
		created = true

		if after != nil {
			return after(WithTx(ctx, tx), archive)
		}
		return nil
	})
	if err != nil {
		return models.ArchivedScore{}, false, err
	}
	return archive, created, nil
}

func (r *scoringRecordRepository) GetArchived(ctx context.Context, archiveID string) (models.ArchivedScore, error) {
	var archive models.ArchivedScore
	if err := r.db.WithContext(ctx).Where("archive_id = ?", archiveID).First(&archive).Error; err != nil {
		return models.ArchivedScore{}, err
	}
	return archive, nil
}

func (r *scoringRecordRepository) ListArchived(ctx context.Context, filter ArchivedScoreFilter) ([]models.ArchivedScore, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ArchivedScore{})
	if filter.TeacherID != "" {
		query = query.Where("teacher_id = ?", filter.TeacherID)
	}
	if filter.FileType != "" {
		query = query.Where("file_type = ?", filter.FileType)
	}
	if filter.Grade != "" {
		query = query.Where("grade = ?", strings.ToUpper(filter.Grade))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var archives []models.ArchivedScore
	if err := applyPage(query.Order("archived_at DESC, archive_id ASC"), filter.Page, filter.PageSize).Find(&archives).Error; err != nil {
		return nil, 0, err
	}
	return archives, total, nil
}

// DeleteArchived removes the archive row and clears the archived flag; the scoring record stays.
func (r *scoringRecordRepository) DeleteArchived(ctx context.Context, archiveID string, after func(ctx context.Context, archive models.ArchivedScore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var archive models.ArchivedScore
		if err := tx.Where("archive_id = ?", archiveID).First(&archive).Error; err != nil {
			return err
		}
		if err := tx.Where("archive_id = ?", archiveID).Delete(&models.ArchivedScore{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ScoringRecord{}).
			Where("id = ?", archive.RecordID).
			Updates(map[string]interface{}{"archived": false, "archive_id": nil}).Error; err != nil {
			return err
		}
		if after != nil {
			return after(WithTx(ctx, tx), archive)
		}
		return nil
	})
}
