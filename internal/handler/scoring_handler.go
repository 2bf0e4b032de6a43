package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teaching-eval-scoring/internal/dto"
	"github.com/noah-isme/teaching-eval-scoring/internal/middleware"
	"github.com/noah-isme/teaching-eval-scoring/internal/service"
	"github.com/noah-isme/teaching-eval-scoring/internal/utils"
)

// ScoringHandler exposes single and batch scoring plus scoring record reads.
type ScoringHandler struct {
	scoring   service.ScoringService
	records   service.ScoringRecordService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewScoringHandler constructs the handler.
func NewScoringHandler(scoringService service.ScoringService, records service.ScoringRecordService, validate *validator.Validate, logger zerolog.Logger) *ScoringHandler {
	return &ScoringHandler{
		scoring:   scoringService,
		records:   records,
		validator: validate,
		logger:    logger.With().Str("component", "scoring_handler").Logger(),
	}
}

// Register attaches scoring endpoints to the router group. Every route runs behind adminOnly;
// batchLimit additionally fronts the batch endpoint.
func (h *ScoringHandler) Register(router fiber.Router, adminOnly, batchLimit fiber.Handler) {
	router.Post("/score/:task_id", adminOnly, h.score)
	router.Post("/batch-score", adminOnly, batchLimit, h.batchScore)
	router.Get("/records", adminOnly, h.listRecords)
	router.Get("/records/:task_id", adminOnly, h.getRecord)
	router.Post("/archive/:task_id", adminOnly, h.archive)
}

// score handles POST /scoring/score/:task_id. The body is either a bare list of bonus items or
// {"bonus_items": [...]}; an empty body scores without bonus.
func (h *ScoringHandler) score(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)
	taskID := strings.TrimSpace(c.Params("task_id"))

	var payload dto.ScoreTaskRequest
	if err := decodeListOrObject(c.Body(), &payload.BonusItems, &payload); err != nil {
		return sendInvalidPayload(c, "invalid payload", nil)
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendInvalidPayload(c, "bonus items failed validation", validationDetails(err))
	}

	result, err := h.scoring.ScoreTask(c.UserContext(), taskID, payload.BonusItems, middleware.PrincipalFromContext(c))
	if err != nil {
		return sendScoringError(c, logger, err, "failed to score task")
	}
	return utils.SendSuccess(c, "task scored", result)
}

// batchScore handles POST /scoring/batch-score with a bare list of task ids or {"task_ids": [...]}.
// Per-task failures are reported inside the 200 response, in input order.
func (h *ScoringHandler) batchScore(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	var payload dto.BatchScoreRequest
	if err := decodeListOrObject(c.Body(), &payload.TaskIDs, &payload); err != nil {
		return sendInvalidPayload(c, "invalid payload", nil)
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendInvalidPayload(c, "task ids failed validation", validationDetails(err))
	}

	response, err := h.scoring.ScoreBatchByID(c.UserContext(), payload.TaskIDs, middleware.PrincipalFromContext(c))
	if err != nil {
		return sendScoringError(c, logger, err, "failed to score batch")
	}
	logger.Info().Int("total", response.Total).Int("failed", response.Failed).Msg("batch scored")
	return utils.SendSuccess(c, "batch scored", response)
}

func (h *ScoringHandler) listRecords(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return sendInvalidPayload(c, "invalid page", nil)
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return sendInvalidPayload(c, "invalid page_size", nil)
	}

	req := dto.ScoringRecordListRequest{
		TaskID:            c.Query("task_id"),
		TeacherID:         c.Query("teacher_id"),
		FileType:          c.Query("file_type"),
		Status:            c.Query("status"),
		IncludeSuperseded: parseQueryBool(c, "include_superseded"),
		Page:              page,
		PageSize:          pageSize,
	}

	response, err := h.records.List(c.UserContext(), req, middleware.PrincipalFromContext(c))
	if err != nil {
		return sendScoringError(c, requestLogger(h.logger, c), err, "failed to list scoring records")
	}
	return utils.OK(c, response.Items, "scoring records retrieved", response.Pagination)
}

func (h *ScoringHandler) getRecord(c *fiber.Ctx) error {
	record, err := h.records.Get(c.UserContext(), c.Params("task_id"), middleware.PrincipalFromContext(c))
	if err != nil {
		return sendScoringError(c, requestLogger(h.logger, c), err, "failed to load scoring record")
	}
	return utils.SendSuccess(c, "scoring record retrieved", record)
}

func (h *ScoringHandler) archive(c *fiber.Ctx) error {
	archived, err := h.records.Archive(c.UserContext(), c.Params("task_id"), middleware.PrincipalFromContext(c))
	if err != nil {
		return sendScoringError(c, requestLogger(h.logger, c), err, "failed to archive score")
	}
	return utils.SendSuccess(c, "score archived", archived)
}
