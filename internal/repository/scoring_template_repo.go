package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/models"
)

// ScoringTemplateRepository stores versioned rubrics.
type ScoringTemplateRepository interface {
	ListActive(ctx context.Context) ([]models.ScoringTemplate, error)
	GetActive(ctx context.Context, fileType string) (models.ScoringTemplate, error)
	ListVersions(ctx context.Context, fileType string) ([]models.ScoringTemplate, error)
	Replace(ctx context.Context, template *models.ScoringTemplate) error
	SeedMissing(ctx context.Context, templates []models.ScoringTemplate) (int, error)
}

type scoringTemplateRepository struct {
	db *gorm.DB
}

// NewScoringTemplateRepository constructs a repository backed by GORM.
func NewScoringTemplateRepository(db *gorm.DB) ScoringTemplateRepository {
	return &scoringTemplateRepository{db: db}
}

func (r *scoringTemplateRepository) ListActive(ctx context.Context) ([]models.ScoringTemplate, error) {
	var templates []models.ScoringTemplate
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("file_type ASC").
		Find(&templates).Error
	return templates, err
}

func (r *scoringTemplateRepository) GetActive(ctx context.Context, fileType string) (models.ScoringTemplate, error) {
	var template models.ScoringTemplate
	if err := r.db.WithContext(ctx).
		Where("file_type = ? AND active = ?", fileType, true).
		First(&template).Error; err != nil {
		return models.ScoringTemplate{}, err
	}
	return template, nil
}

func (r *scoringTemplateRepository) ListVersions(ctx context.Context, fileType string) ([]models.ScoringTemplate, error) {
	var templates []models.ScoringTemplate
	err := r.db.WithContext(ctx).
		Where("file_type = ?", fileType).
		Order("version DESC").
		Find(&templates).Error
	return templates, err
}

// Replace deactivates the current template for the file type and inserts template as the
// active one with the next version number. Previous versions are kept.
func (r *scoringTemplateRepository) Replace(ctx context.Context, template *models.ScoringTemplate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int
		if err := tx.Model(&models.ScoringTemplate{}).
			Where("file_type = ?", template.FileType).
			Select("COALESCE(MAX(version), 0)").
			Scan(&latest).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.ScoringTemplate{}).
			Where("file_type = ? AND active = ?", template.FileType, true).
			Update("active", false).Error; err != nil {
			return err
		}

		template.ID = 0
		template.Version = latest + 1
		template.Active = true
		return tx.Create(template).Error
	})
}

// SeedMissing inserts templates whose file type has no rows yet and returns how many were created.
func (r *scoringTemplateRepository) SeedMissing(ctx context.Context, templates []models.ScoringTemplate) (int, error) {
	created := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range templates {
			var existing models.ScoringTemplate
			err := tx.Where("file_type = ?", templates[i].FileType).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			templates[i].Version = 1
			templates[i].Active = true
			if err := tx.Create(&templates[i]).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}
