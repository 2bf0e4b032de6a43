package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teaching-eval-scoring/internal/dto"
	"github.com/noah-isme/teaching-eval-scoring/internal/middleware"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
	"github.com/noah-isme/teaching-eval-scoring/internal/service"
	"github.com/noah-isme/teaching-eval-scoring/internal/utils"
)

// TemplateHandler exposes the scoring rubrics. Reads are open to teachers; replacing a template
// is guarded by the admin-only handler passed to Register.
type TemplateHandler struct {
	store  service.TemplateStore
	logger zerolog.Logger
}

// NewTemplateHandler constructs the handler.
func NewTemplateHandler(store service.TemplateStore, logger zerolog.Logger) *TemplateHandler {
	return &TemplateHandler{
		store:  store,
		logger: logger.With().Str("component", "template_handler").Logger(),
	}
}

// Register attaches template endpoints to the router group.
func (h *TemplateHandler) Register(router fiber.Router, adminOnly fiber.Handler) {
	router.Get("/", middleware.WithAuth(h.list, middleware.AuthOptions{Role: middleware.AuthRoleTeacher}))
	router.Get("/:file_type", middleware.WithAuth(h.get, middleware.AuthOptions{Role: middleware.AuthRoleTeacher}))
	router.Put("/:file_type", adminOnly, h.replace)
}

func (h *TemplateHandler) list(c *fiber.Ctx) error {
	active, err := h.store.ListActive(c.UserContext())
	if err != nil {
		return sendScoringError(c, requestLogger(h.logger, c), err, "failed to list templates")
	}

	items := make([]dto.TemplateResponse, 0, len(active))
	for _, fileType := range scoring.FileTypes() {
		if tmpl, ok := active[fileType]; ok {
			items = append(items, dto.NewTemplateResponse(tmpl))
		}
	}
	return utils.SendSuccess(c, "templates retrieved", items)
}

// get returns the active template, or its full version history with ?history=true.
func (h *TemplateHandler) get(c *fiber.Ctx) error {
	fileType, err := scoring.ParseFileType(c.Params("file_type"))
	if err != nil {
		return sendInvalidPayload(c, err.Error(), nil)
	}

	if parseQueryBool(c, "history") {
		versions, err := h.store.Versions(c.UserContext(), fileType)
		if err != nil {
			return sendScoringError(c, requestLogger(h.logger, c), err, "failed to load template history")
		}
		items := make([]dto.TemplateResponse, 0, len(versions))
		for _, tmpl := range versions {
			items = append(items, dto.NewTemplateResponse(tmpl))
		}
		return utils.SendSuccess(c, "template history retrieved", items)
	}

	tmpl, err := h.store.Get(c.UserContext(), fileType)
	if err != nil {
		return sendScoringError(c, requestLogger(h.logger, c), err, "failed to load template")
	}
	return utils.SendSuccess(c, "template retrieved", dto.NewTemplateResponse(tmpl))
}

func (h *TemplateHandler) replace(c *fiber.Ctx) error {
	fileType, err := scoring.ParseFileType(c.Params("file_type"))
	if err != nil {
		return sendInvalidPayload(c, err.Error(), nil)
	}

	var payload dto.TemplateUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return sendInvalidPayload(c, "invalid payload", nil)
	}

	actor := middleware.PrincipalFromContext(c)
	tmpl, err := h.store.Replace(c.UserContext(), fileType, payload, actor.UserID)
	if err != nil {
		return sendScoringError(c, requestLogger(h.logger, c), err, "failed to replace template")
	}
	return utils.SendSuccess(c, "template replaced", dto.NewTemplateResponse(tmpl))
}
