package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/models"
)

// RunsHandler serves the dispatch audit trail.
type RunsHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRunsHandler(db *gorm.DB, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{db: db, logger: logger}
}

type RunsResponse struct {
	Runs    []RunDTO `json:"runs"`
	HasMore bool     `json:"has_more"`
}

type RunDTO struct {
	ExecutionID  string `json:"execution_id"`
	MeetingID    string `json:"meeting_id"`
	TranscriptID string `json:"transcript_id"`
	JobExecution string `json:"job_execution"`
	Status       string `json:"status"`
	DispatchedAt string `json:"dispatched_at"`
}

// List handles GET /api/v1/runs with limit/offset pagination, newest first.
func (h *RunsHandler) List(c *fiber.Ctx) error {
	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
		}
		offset = parsed
	}

	var records []models.DispatchRecord
	err := h.db.
		Order("created_at DESC").
		Limit(limit + 1). // one extra to compute has_more
		Offset(offset).
		Find(&records).Error
	if err != nil {
		h.logger.Error("Failed to query dispatch records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch runs",
		})
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	runs := make([]RunDTO, 0, len(records))
	for _, rec := range records {
		runs = append(runs, RunDTO{
			ExecutionID:  rec.ExecutionID,
			MeetingID:    rec.MeetingID,
			TranscriptID: rec.TranscriptID,
			JobExecution: rec.JobExecution,
			Status:       rec.Status,
			DispatchedAt: rec.DispatchedAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(RunsResponse{Runs: runs, HasMore: hasMore})
}
