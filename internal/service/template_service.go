package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/dto"
	"github.com/noah-isme/teaching-eval-scoring/internal/models"
	"github.com/noah-isme/teaching-eval-scoring/internal/repository"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
)

// TemplateStore serves the active rubric per file type.
type TemplateStore interface {
	Get(ctx context.Context, fileType scoring.FileType) (scoring.Template, error)
	ListActive(ctx context.Context) (map[scoring.FileType]scoring.Template, error)
	Versions(ctx context.Context, fileType scoring.FileType) ([]scoring.Template, error)
	Replace(ctx context.Context, fileType scoring.FileType, payload dto.TemplateUpdateRequest, actor string) (scoring.Template, error)
	Seed(ctx context.Context) (int, error)
}

type templateStore struct {
	repo      repository.ScoringTemplateRepository
	validator *validator.Validate
	logger    zerolog.Logger

	mu     sync.RWMutex
	active map[scoring.FileType]scoring.Template
}

// NewTemplateStore constructs the template store. Active templates are cached in memory;
// Replace holds the write lock for the duration of the database swap.
func NewTemplateStore(repo repository.ScoringTemplateRepository, validate *validator.Validate, logger zerolog.Logger) TemplateStore {
	return &templateStore{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "template_store").Logger(),
		active:    make(map[scoring.FileType]scoring.Template),
	}
}

func (s *templateStore) Get(ctx context.Context, fileType scoring.FileType) (scoring.Template, error) {
	if !fileType.Valid() {
		return scoring.Template{}, scoring.NewError(scoring.KindInvalidInput, "", fmt.Sprintf("unknown file type %q", fileType), scoring.ErrUnknownFileType)
	}

	s.mu.RLock()
	tmpl, ok := s.active[fileType]
	s.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tmpl, ok := s.active[fileType]; ok {
		return tmpl, nil
	}

	row, err := s.repo.GetActive(ctx, string(fileType))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return scoring.Template{}, scoring.NewError(scoring.KindTemplateMissing, "", fmt.Sprintf("no active template for %s", fileType), nil)
		}
		return scoring.Template{}, err
	}

	tmpl = row.ToDomain()
	if err := tmpl.CheckInvariants(); err != nil {
		s.logger.Error().Err(err).Str("file_type", string(fileType)).Int("version", tmpl.Version).Msg("stored template violates invariants")
		return scoring.Template{}, scoring.NewError(scoring.KindTemplateMissing, "", fmt.Sprintf("active template for %s is invalid", fileType), err)
	}
	s.active[fileType] = tmpl
	return tmpl, nil
}

func (s *templateStore) ListActive(ctx context.Context) (map[scoring.FileType]scoring.Template, error) {
	rows, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[scoring.FileType]scoring.Template, len(rows))
	for _, row := range rows {
		tmpl := row.ToDomain()
		if err := tmpl.CheckInvariants(); err != nil {
			s.logger.Warn().Err(err).Str("file_type", row.FileType).Msg("skipping invalid active template")
			continue
		}
		result[tmpl.FileType] = tmpl
	}

	s.mu.Lock()
	for fileType, tmpl := range result {
		s.active[fileType] = tmpl
	}
	s.mu.Unlock()
	return result, nil
}

func (s *templateStore) Versions(ctx context.Context, fileType scoring.FileType) ([]scoring.Template, error) {
	if !fileType.Valid() {
		return nil, scoring.NewError(scoring.KindInvalidInput, "", fmt.Sprintf("unknown file type %q", fileType), scoring.ErrUnknownFileType)
	}
	rows, err := s.repo.ListVersions(ctx, string(fileType))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, scoring.NewError(scoring.KindTemplateMissing, "", fmt.Sprintf("no template for %s", fileType), nil)
	}
	templates := make([]scoring.Template, 0, len(rows))
	for _, row := range rows {
		templates = append(templates, row.ToDomain())
	}
	return templates, nil
}

func (s *templateStore) Replace(ctx context.Context, fileType scoring.FileType, payload dto.TemplateUpdateRequest, actor string) (scoring.Template, error) {
	if !fileType.Valid() {
		return scoring.Template{}, scoring.NewError(scoring.KindInvalidInput, "", fmt.Sprintf("unknown file type %q", fileType), scoring.ErrUnknownFileType)
	}
	if err := s.validator.Struct(payload); err != nil {
		return scoring.Template{}, scoring.NewError(scoring.KindInvalidInput, "", "template payload failed validation", err)
	}

	tmpl := scoring.Template{
		FileType:     fileType,
		Criteria:     payload.Criteria,
		VetoRules:    payload.VetoRules,
		DefaultTotal: payload.DefaultTotal,
		BonusCap:     payload.BonusCap,
		UpdatedBy:    actor,
	}
	if err := tmpl.CheckInvariants(); err != nil {
		return scoring.Template{}, scoring.NewError(scoring.KindInvalidInput, "", err.Error(), err)
	}

	row := models.NewScoringTemplate(tmpl)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Replace(ctx, &row); err != nil {
		return scoring.Template{}, err
	}

	stored := row.ToDomain()
	s.active[fileType] = stored
	s.logger.Info().
		Str("file_type", string(fileType)).
		Int("version", stored.Version).
		Str("actor", actor).
		Msg("scoring template replaced")
	return stored, nil
}

// Seed inserts the built-in defaults for every file type that has never had a template.
func (s *templateStore) Seed(ctx context.Context) (int, error) {
	defaults := DefaultTemplates()
	rows := make([]models.ScoringTemplate, 0, len(defaults))
	for _, tmpl := range defaults {
		if err := tmpl.CheckInvariants(); err != nil {
			return 0, fmt.Errorf("default template %s: %w", tmpl.FileType, err)
		}
		rows = append(rows, models.NewScoringTemplate(tmpl))
	}

	created, err := s.repo.SeedMissing(ctx, rows)
	if err != nil {
		return 0, err
	}
	if created > 0 {
		s.logger.Info().Int("created", created).Msg("seeded default scoring templates")
	}
	return created, nil
}
