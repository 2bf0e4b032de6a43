package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teaching-eval-scoring/internal/dto"
	"github.com/noah-isme/teaching-eval-scoring/internal/middleware"
	"github.com/noah-isme/teaching-eval-scoring/internal/service"
	"github.com/noah-isme/teaching-eval-scoring/internal/utils"
)

// ArchivedScoreHandler exposes read and delete access to archived scores.
type ArchivedScoreHandler struct {
	service service.ScoringRecordService
	logger  zerolog.Logger
}

// NewArchivedScoreHandler constructs the handler.
func NewArchivedScoreHandler(service service.ScoringRecordService, logger zerolog.Logger) *ArchivedScoreHandler {
	return &ArchivedScoreHandler{
		service: service,
		logger:  logger.With().Str("component", "archived_score_handler").Logger(),
	}
}

// Register attaches archive endpoints to the router group.
func (h *ArchivedScoreHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Get("/:archive_id", h.detail)
	router.Delete("/:archive_id", h.delete)
}

func (h *ArchivedScoreHandler) list(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return sendInvalidPayload(c, "invalid page", nil)
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return sendInvalidPayload(c, "invalid page_size", nil)
	}

	req := dto.ArchivedScoreListRequest{
		TeacherID: c.Query("teacher_id"),
		FileType:  c.Query("file_type"),
		Grade:     c.Query("grade"),
		Page:      page,
		PageSize:  pageSize,
	}
	response, err := h.service.ListArchived(c.UserContext(), req, middleware.PrincipalFromContext(c))
	if err != nil {
		return sendScoringError(c, requestLogger(h.logger, c), err, "failed to list archived scores")
	}
	return utils.OK(c, response.Items, "archived scores retrieved", response.Pagination)
}

func (h *ArchivedScoreHandler) detail(c *fiber.Ctx) error {
	archived, err := h.service.GetArchived(c.UserContext(), c.Params("archive_id"), middleware.PrincipalFromContext(c))
	if err != nil {
		return sendScoringError(c, requestLogger(h.logger, c), err, "failed to load archived score")
	}
	return utils.SendSuccess(c, "archived score retrieved", archived)
}

func (h *ArchivedScoreHandler) delete(c *fiber.Ctx) error {
	archiveID := c.Params("archive_id")
	if err := h.service.DeleteArchived(c.UserContext(), archiveID, middleware.PrincipalFromContext(c)); err != nil {
		return sendScoringError(c, requestLogger(h.logger, c), err, "failed to delete archived score")
	}
	requestLogger(h.logger, c).Info().Str("archive_id", archiveID).Msg("archived score deleted")
	return utils.SendSuccess(c, "archived score deleted", nil)
}
