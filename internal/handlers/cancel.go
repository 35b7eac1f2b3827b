package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/cancel"
)

// CancelHandler exposes the cancellation side channel.
type CancelHandler struct {
	service *cancel.Service
	logger  *zap.Logger
}

func NewCancelHandler(service *cancel.Service, logger *zap.Logger) *CancelHandler {
	return &CancelHandler{service: service, logger: logger}
}

// Cancel handles GET/POST /api/v1/cancel?executionId=...&jobRef=...
func (h *CancelHandler) Cancel(c *fiber.Ctx) error {
	executionID := c.Query("executionId")
	if executionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "executionId query parameter is required",
		})
	}

	result, err := h.service.Cancel(c.Context(), executionID, c.Query("jobRef"))
	if err != nil {
		h.logger.Error("Cancellation failed",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "failed to cancel execution",
		})
	}

	if result.Conflict {
		return c.Status(fiber.StatusConflict).JSON(result)
	}
	return c.JSON(result)
}

// CheckCancelled handles GET /api/v1/checkCancelled?executionId=...
// Polled by running jobs to observe their own cancellation.
func (h *CancelHandler) CheckCancelled(c *fiber.Ctx) error {
	executionID := c.Query("executionId")
	if executionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "executionId query parameter is required",
		})
	}

	return c.JSON(fiber.Map{
		"cancelled": h.service.IsCancelled(executionID),
	})
}
