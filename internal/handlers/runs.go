package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/database"
	"github.com/foxxcyber/dococr/internal/models"
)

// ListRuns returns the run history, newest first
func (h *Handler) ListRuns(c *fiber.Ctx) error {
	if h.runs == nil {
		return Error(c, fiber.StatusServiceUnavailable, apperr.KindBackendUnavailable, "run history is not enabled")
	}

	params := &models.RunListParams{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if kind := c.Query("kind"); kind != "" {
		k := models.RunKind(kind)
		params.Kind = &k
	}
	if status := c.Query("status"); status != "" {
		s := models.RunStatus(status)
		params.Status = &s
	}

	runs, total, err := h.runs.ListRuns(c.UserContext(), params)
	if err != nil {
		h.logger(c).WithError(err).Error("Failed to list runs")
		return Error(c, fiber.StatusInternalServerError, apperr.KindInternal, "failed to list runs")
	}

	return SuccessWithMeta(c, runs, total, params.Limit, params.Offset)
}

// GetRun returns a single run
func (h *Handler) GetRun(c *fiber.Ctx) error {
	if h.runs == nil {
		return Error(c, fiber.StatusServiceUnavailable, apperr.KindBackendUnavailable, "run history is not enabled")
	}

	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusBadRequest, apperr.KindInvalidInput, "invalid run ID")
	}

	run, err := h.runs.GetRunByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return Error(c, fiber.StatusNotFound, apperr.KindInvalidInput, "run not found")
		}
		h.logger(c).WithError(err).WithField("run_id", id).Error("Failed to get run")
		return Error(c, fiber.StatusInternalServerError, apperr.KindInternal, "failed to get run")
	}

	return Success(c, run)
}
