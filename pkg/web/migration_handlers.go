package web

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
)

func (h *APIHandlers) CreateMigration(c fiber.Ctx) error {
	var req CreateMigrationRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	job := &models.MigrationJob{
		WorkflowID:      c.Params("id"),
		SourceVersionID: req.SourceVersionID,
		TargetVersionID: req.TargetVersionID,
		Strategy:        models.MigrationStrategy(req.Strategy),
		BatchSize:       req.BatchSize,
		ActionMappings:  req.ActionMappings,
		ContactIDs:      req.ContactIDs,
	}

	created, err := h.migrations.Start(c.Context(), job)
	if err != nil {
		return handleServiceError(c, err)
	}

	// The job runs detached from the request lifecycle.
	go func() {
		ctx := context.Background()

		if err := h.migrations.Run(ctx, created.ID); err != nil {
			h.logger.ErrorContext(ctx, "migration job failed",
				"job_id", created.ID, "error", err)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(created)
}

func (h *APIHandlers) GetMigration(c fiber.Ctx) error {
	job, err := h.migrations.GetJob(c.Context(), c.Params("jobId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(job)
}

func (h *APIHandlers) ListMigrations(c fiber.Ctx) error {
	jobs, err := h.persistence.Migrations().ListJobs(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"jobs": jobs})
}

func (h *APIHandlers) CancelMigration(c fiber.Ctx) error {
	if err := h.migrations.Cancel(c.Context(), c.Params("jobId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ListMigrationOutcomes(c fiber.Ctx) error {
	outcomes, err := h.persistence.Migrations().OutcomesByJob(c.Context(), c.Params("jobId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"outcomes": outcomes})
}

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	var req CreateScheduleRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.persistence.Workflows().GetByID(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return internalError(c, err)
	}

	schedule, err := models.NewEnrollmentSchedule(id.String(), c.Params("id"), req.CronExpression)
	if err != nil {
		return badRequest(c, "Invalid cron expression: "+err.Error())
	}

	schedule.SegmentID = req.SegmentID

	if err := h.persistence.Schedules().Save(c.Context(), schedule); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	schedule, err := h.persistence.Schedules().GetByID(c.Context(), c.Params("scheduleId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) DeleteSchedule(c fiber.Ctx) error {
	if err := h.persistence.Schedules().Delete(c.Context(), c.Params("scheduleId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
