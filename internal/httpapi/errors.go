package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"cryptra/internal/service"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{service.ErrUnauthenticated, fiber.StatusUnauthorized, "unauthenticated"},
	{service.ErrValidation, fiber.StatusBadRequest, "invalid_request"},
	{service.ErrQuotaExceeded, fiber.StatusTooManyRequests, "quota_exceeded"},
	{service.ErrInsufficientFunds, fiber.StatusPaymentRequired, "insufficient_funds"},
	{service.ErrUserNotFound, fiber.StatusNotFound, "user_not_found"},
	{service.ErrNotFound, fiber.StatusNotFound, "not_found"},
	{service.ErrOutOfStock, fiber.StatusConflict, "out_of_stock"},
	{service.ErrInvalidTransition, fiber.StatusConflict, "invalid_transition"},
	{service.ErrAlreadyApplied, fiber.StatusConflict, "already_applied"},
	{service.ErrConcurrencyConflict, fiber.StatusConflict, "conflict"},
	{service.ErrPreconditionFailed, fiber.StatusPreconditionFailed, "precondition_failed"},
	{service.ErrStoreUnavailable, fiber.StatusServiceUnavailable, "unavailable"},
}

func classify(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, fe.Message
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return fiber.StatusInternalServerError, "internal_error"
}

func statusOf(err error) int {
	status, _ := classify(err)
	return status
}

// errorHandler renders handler errors as {"error": code, "message": ...}.
// Server-side failures never echo the underlying error.
func errorHandler(c *fiber.Ctx, err error) error {
	status, code := classify(err)
	body := fiber.Map{"error": code}

	var denied *service.DeniedError
	switch {
	case errors.As(err, &denied):
		body["reason"] = denied.Reason
		body["used"] = denied.Used
		body["limit"] = denied.Limit
	case status >= fiber.StatusInternalServerError:
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	default:
		body["message"] = err.Error()
	}
	return c.Status(status).JSON(body)
}
