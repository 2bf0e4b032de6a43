package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/teaching-eval-scoring/internal/dto"
	"github.com/noah-isme/teaching-eval-scoring/internal/models"
	"github.com/noah-isme/teaching-eval-scoring/internal/repository"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
)

const (
	defaultRecordPageSize = 20
	maxRecordPageSize     = 100
)

// ScoringRecordService exposes scoring records and archives to administrators.
type ScoringRecordService interface {
	Get(ctx context.Context, taskID string, actor scoring.Principal) (dto.ScoringRecordResponse, error)
	List(ctx context.Context, req dto.ScoringRecordListRequest, actor scoring.Principal) (dto.ScoringRecordListResponse, error)
	Archive(ctx context.Context, taskID string, actor scoring.Principal) (dto.ArchivedScoreDetailResponse, error)
	GetArchived(ctx context.Context, archiveID string, actor scoring.Principal) (dto.ArchivedScoreDetailResponse, error)
	ListArchived(ctx context.Context, req dto.ArchivedScoreListRequest, actor scoring.Principal) (dto.ArchivedScoreListResponse, error)
	DeleteArchived(ctx context.Context, archiveID string, actor scoring.Principal) error
}

type scoringRecordService struct {
	repo     repository.ScoringRecordRepository
	registry TaskRegistry
	events   EventPublisher
	logger   zerolog.Logger
}

// NewScoringRecordService constructs the record service. When the registry tracks archive
// state it is updated inside the archive transaction.
func NewScoringRecordService(repo repository.ScoringRecordRepository, registry TaskRegistry, events EventPublisher, logger zerolog.Logger) ScoringRecordService {
	if events == nil {
		events = noopEventPublisher{}
	}
	return &scoringRecordService{
		repo:     repo,
		registry: registry,
		events:   events,
		logger:   logger.With().Str("component", "scoring_record_service").Logger(),
	}
}

func (s *scoringRecordService) Get(ctx context.Context, taskID string, actor scoring.Principal) (dto.ScoringRecordResponse, error) {
	if err := requireAdmin(actor, taskID); err != nil {
		return dto.ScoringRecordResponse{}, err
	}
	record, err := s.repo.Get(ctx, strings.TrimSpace(taskID))
	if err != nil {
		return dto.ScoringRecordResponse{}, s.notFound(err, scoring.KindRecordNotFound, taskID, "no scoring record for task")
	}
	return dto.NewScoringRecordResponse(record), nil
}

func (s *scoringRecordService) List(ctx context.Context, req dto.ScoringRecordListRequest, actor scoring.Principal) (dto.ScoringRecordListResponse, error) {
	if err := requireAdmin(actor, ""); err != nil {
		return dto.ScoringRecordListResponse{}, err
	}
	page, pageSize := normalizePage(req.Page, req.PageSize)

	fileType := ""
	if strings.TrimSpace(req.FileType) != "" {
		parsed, err := scoring.ParseFileType(req.FileType)
		if err != nil {
			return dto.ScoringRecordListResponse{}, scoring.NewError(scoring.KindInvalidInput, "", err.Error(), err)
		}
		fileType = string(parsed)
	}

	records, total, err := s.repo.List(ctx, repository.ScoringRecordFilter{
		TaskID:            strings.TrimSpace(req.TaskID),
		TeacherID:         strings.TrimSpace(req.TeacherID),
		FileType:          fileType,
		Status:            strings.TrimSpace(req.Status),
		IncludeSuperseded: req.IncludeSuperseded,
		Page:              page,
		PageSize:          pageSize,
	})
	if err != nil {
		return dto.ScoringRecordListResponse{}, err
	}

	items := make([]dto.ScoringRecordResponse, 0, len(records))
	for _, record := range records {
		items = append(items, dto.NewScoringRecordResponse(record))
	}
	return dto.ScoringRecordListResponse{Items: items, Pagination: dto.NewPaginationMeta(page, pageSize, total)}, nil
}

func (s *scoringRecordService) Archive(ctx context.Context, taskID string, actor scoring.Principal) (dto.ArchivedScoreDetailResponse, error) {
	if err := requireAdmin(actor, taskID); err != nil {
		return dto.ArchivedScoreDetailResponse{}, err
	}
	taskID = strings.TrimSpace(taskID)

	archive, created, err := s.repo.Archive(ctx, taskID, actor.UserID, func(txCtx context.Context, archive models.ArchivedScore) error {
		if tracker, ok := s.registry.(ArchiveAwareRegistry); ok {
			return tracker.MarkArchived(txCtx, archive.TaskID, archive.ArchiveID)
		}
		return nil
	})
	if err != nil {
		return dto.ArchivedScoreDetailResponse{}, s.notFound(err, scoring.KindRecordNotFound, taskID, "no scored record to archive")
	}

	if created {
		s.events.Publish(ctx, ScoringEvent{
			Type:       EventArchived,
			TaskID:     archive.TaskID,
			FinalScore: archive.FinalScore,
			Grade:      archive.Grade,
			ArchiveID:  archive.ArchiveID,
			At:         archive.ArchivedAt,
		})
		s.logger.Info().Str("task_id", taskID).Str("archive_id", archive.ArchiveID).Str("actor", actor.UserID).Msg("scoring record archived")
	}
	return dto.NewArchivedScoreDetailResponse(archive), nil
}

func (s *scoringRecordService) GetArchived(ctx context.Context, archiveID string, actor scoring.Principal) (dto.ArchivedScoreDetailResponse, error) {
	if err := requireAdmin(actor, ""); err != nil {
		return dto.ArchivedScoreDetailResponse{}, err
	}
	archive, err := s.repo.GetArchived(ctx, strings.TrimSpace(archiveID))
	if err != nil {
		return dto.ArchivedScoreDetailResponse{}, s.notFound(err, scoring.KindArchiveNotFound, "", "archive "+archiveID+" not found")
	}
	return dto.NewArchivedScoreDetailResponse(archive), nil
}

func (s *scoringRecordService) ListArchived(ctx context.Context, req dto.ArchivedScoreListRequest, actor scoring.Principal) (dto.ArchivedScoreListResponse, error) {
	if err := requireAdmin(actor, ""); err != nil {
		return dto.ArchivedScoreListResponse{}, err
	}
	page, pageSize := normalizePage(req.Page, req.PageSize)

	archives, total, err := s.repo.ListArchived(ctx, repository.ArchivedScoreFilter{
		TeacherID: strings.TrimSpace(req.TeacherID),
		FileType:  strings.TrimSpace(req.FileType),
		Grade:     strings.TrimSpace(req.Grade),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		return dto.ArchivedScoreListResponse{}, err
	}

	items := make([]dto.ArchivedScoreResponse, 0, len(archives))
	for _, archive := range archives {
		items = append(items, dto.NewArchivedScoreResponse(archive))
	}
	return dto.ArchivedScoreListResponse{Items: items, Pagination: dto.NewPaginationMeta(page, pageSize, total)}, nil
}

func (s *scoringRecordService) DeleteArchived(ctx context.Context, archiveID string, actor scoring.Principal) error {
	if err := requireAdmin(actor, ""); err != nil {
		return err
	}
	archiveID = strings.TrimSpace(archiveID)

	var taskID string
	err := s.repo.DeleteArchived(ctx, archiveID, func(txCtx context.Context, archive models.ArchivedScore) error {
		taskID = archive.TaskID
		if tracker, ok := s.registry.(ArchiveAwareRegistry); ok {
			return tracker.ClearArchived(txCtx, archive.TaskID)
		}
		return nil
	})
	if err != nil {
		return s.notFound(err, scoring.KindArchiveNotFound, "", "archive "+archiveID+" not found")
	}

	s.events.Publish(ctx, ScoringEvent{Type: EventArchiveDeleted, TaskID: taskID, ArchiveID: archiveID, At: time.Now().UTC()})
	s.logger.Info().Str("archive_id", archiveID).Str("task_id", taskID).Str("actor", actor.UserID).Msg("archived score deleted")
	return nil
}

func (s *scoringRecordService) notFound(err error, kind scoring.ErrorKind, taskID, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return scoring.NewError(kind, taskID, message, nil)
	}
	return err
}

func requireAdmin(actor scoring.Principal, taskID string) error {
	if !actor.IsAdmin() {
		return scoring.NewError(scoring.KindUnauthorized, taskID, "administrator role required", nil)
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultRecordPageSize
	}
	if pageSize > maxRecordPageSize {
		pageSize = maxRecordPageSize
	}
	return page, pageSize
}
