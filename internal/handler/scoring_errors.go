package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
	"github.com/noah-isme/teaching-eval-scoring/internal/utils"
)

// overloadedRetryAfter is the Retry-After hint, in seconds, sent with Overloaded responses.
const overloadedRetryAfter = 5

// statusForError maps a scoring error to its HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, scoring.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, scoring.ErrTaskNotFound),
		errors.Is(err, scoring.ErrRecordNotFound),
		errors.Is(err, scoring.ErrArchiveNotFound),
		errors.Is(err, scoring.ErrTemplateMissing):
		return fiber.StatusNotFound
	case errors.Is(err, scoring.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, scoring.ErrInputUnavailable):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, scoring.ErrOverloaded), errors.Is(err, scoring.ErrCanceled):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, scoring.ErrTimeout), errors.Is(err, scoring.ErrLLMTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, scoring.ErrLLMClientError),
		errors.Is(err, scoring.ErrLLMEmptyResponse),
		errors.Is(err, scoring.ErrInvalidResponse):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// sendScoringError writes the structured error body for err. Internal failures are logged and
// replaced by the fallback message.
func sendScoringError(c *fiber.Ctx, logger *zerolog.Logger, err error, fallback string) error {
	status := statusForError(err)
	failure := scoring.Failure(c.Params("task_id"), err)

	message := failure.Message
	if status == fiber.StatusInternalServerError {
		logger.Error().Err(err).Str("task_id", failure.TaskID).Msg(fallback)
		message = fallback
	} else {
		logger.Warn().Err(err).Str("kind", string(failure.Kind)).Str("task_id", failure.TaskID).Msg("scoring request rejected")
	}

	if errors.Is(err, scoring.ErrOverloaded) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(overloadedRetryAfter))
	}
	body := utils.APIResponse{
		Success: false,
		Message: message,
		Error: &utils.ErrorDetail{
			Kind:    string(failure.Kind),
			Message: message,
			TaskID:  failure.TaskID,
		},
	}
	if details := validationDetails(err); len(details) > 0 {
		body.Details = details
	}
	return c.Status(status).JSON(body)
}

func sendInvalidPayload(c *fiber.Ctx, message string, details interface{}) error {
	return c.Status(fiber.StatusBadRequest).JSON(utils.APIResponse{
		Success: false,
		Message: message,
		Details: details,
		Error: &utils.ErrorDetail{
			Kind:    string(scoring.KindInvalidInput),
			Message: message,
			TaskID:  c.Params("task_id"),
		},
	})
}
