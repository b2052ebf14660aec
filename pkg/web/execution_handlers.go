package web

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
)

func (h *APIHandlers) EnrollContact(c fiber.Ctx) error {
	var req EnrollRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	enrolled, err := h.engine.Enroll(c.Context(), c.Params("id"), req.ContactID, req.TriggerData, req.ContactData)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(executionResponse(enrolled, nil))
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	exec, err := h.engine.Get(c.Context(), c.Params("executionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	var steps []*models.StepRecord

	if c.Query("include_steps") == "true" {
		steps, err = h.persistence.Steps().ListByExecution(c.Context(), exec.ID)
		if err != nil {
			return handleServiceError(c, err)
		}
	}

	return c.JSON(executionResponse(exec, steps))
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	if err := h.engine.Cancel(c.Context(), c.Params("executionId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ListExecutionSteps(c fiber.Ctx) error {
	steps, err := h.persistence.Steps().ListByExecution(c.Context(), c.Params("executionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"steps": steps})
}

func (h *APIHandlers) CreateGoal(c fiber.Ctx) error {
	var req CreateGoalRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	// Goals hang off the workflow so it must exist first.
	if _, err := h.persistence.Workflows().GetByID(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	id, err := uuid.NewV7()
	if err != nil {
		return internalError(c, err)
	}

	config := &models.GoalConfig{
		ID:         id.String(),
		WorkflowID: c.Params("id"),
		Type:       models.GoalType(req.Type),
		Criteria:   req.Criteria,
		Active:     active,
	}

	if err := h.persistence.Goals().SaveConfig(c.Context(), config); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(config)
}

func (h *APIHandlers) ListGoals(c fiber.Ctx) error {
	goals, err := h.persistence.Goals().ActiveByWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"goals": goals})
}

func (h *APIHandlers) DeleteGoal(c fiber.Ctx) error {
	if err := h.persistence.Goals().DeleteConfig(c.Context(), c.Params("goalId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListAchievements(c fiber.Ctx) error {
	achievements, err := h.persistence.Goals().AchievementsByExecution(c.Context(), c.Params("executionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"achievements": achievements})
}

func executionResponse(exec *models.Execution, steps []*models.StepRecord) *ExecutionResponse {
	response := &ExecutionResponse{
		ID:                exec.ID,
		WorkflowID:        exec.WorkflowID,
		VersionID:         exec.VersionID,
		ContactID:         exec.ContactID,
		Status:            string(exec.Status),
		CurrentNodeID:     exec.CurrentNodeID,
		WaitEvent:         exec.WaitEvent,
		Epoch:             exec.Epoch,
		TerminationReason: exec.TerminationReason,
		CreatedAt:         exec.CreatedAt.Format(time.RFC3339),
		Steps:             steps,
	}

	if exec.ResumeAt != nil {
		resumeAt := exec.ResumeAt.Format(time.RFC3339)
		response.ResumeAt = &resumeAt
	}

	if exec.CompletedAt != nil {
		completedAt := exec.CompletedAt.Format(time.RFC3339)
		response.CompletedAt = &completedAt
	}

	return response
}
