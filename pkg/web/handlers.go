// Package web provides HTTP handlers and REST API endpoints for workflow,
// version, execution, goal and migration management.
package web

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/execution"
	"github.com/sequentcrm/sequent/pkg/migration"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/registry"
	"github.com/sequentcrm/sequent/pkg/version"
)

type APIHandlers struct {
	persistence persistence.Persistence
	versions    *version.Store
	engine      *execution.Engine
	migrations  *migration.Service
	registry    *registry.Registry
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	versions *version.Store,
	engine *execution.Engine,
	migrations *migration.Service,
	registry *registry.Registry,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		versions:    versions,
		engine:      engine,
		migrations:  migrations,
		registry:    registry,
		validator:   validator,
		logger:      logger.With("module", "api"),
	}
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := uuid.NewV7()
	if err != nil {
		return internalError(c, err)
	}

	matchMode := models.GoalMatchAny
	if req.GoalMatchMode != "" {
		matchMode = models.GoalMatchMode(req.GoalMatchMode)
	}

	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:            id.String(),
		Name:          req.Name,
		Description:   req.Description,
		Owner:         req.Owner,
		GoalMatchMode: matchMode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.persistence.Workflows().Save(c.Context(), workflow); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.Workflows().GetAll(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.Workflows().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.persistence.Workflows().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		workflow.Name = *req.Name
	}

	if req.Description != nil {
		workflow.Description = *req.Description
	}

	if req.GoalMatchMode != nil {
		workflow.GoalMatchMode = models.GoalMatchMode(*req.GoalMatchMode)
	}

	workflow.UpdatedAt = time.Now().UTC()

	if err := h.persistence.Workflows().Save(c.Context(), workflow); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.persistence.Workflows().Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateDraft(c fiber.Ctx) error {
	draft, err := h.versions.CreateDraft(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

func (h *APIHandlers) ListVersions(c fiber.Ctx) error {
	versions, err := h.versions.List(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *APIHandlers) GetVersion(c fiber.Ctx) error {
	v, err := h.versions.Get(c.Context(), c.Params("versionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(v)
}

func (h *APIHandlers) GetCurrentVersion(c fiber.Ctx) error {
	v, err := h.versions.GetCurrent(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(v)
}

func (h *APIHandlers) UpdateDraft(c fiber.Ctx) error {
	var req UpdateDraftRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	draft, err := h.versions.Get(c.Context(), c.Params("versionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	draft.Trigger = req.Trigger
	draft.Nodes = req.Nodes

	updated, err := h.versions.UpdateDraft(c.Context(), draft, req.LockToken)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) PublishVersion(c fiber.Ctx) error {
	var req PublishRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	published, err := h.versions.Publish(c.Context(), c.Params("versionId"), req.LockToken)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) RollbackVersion(c fiber.Ctx) error {
	var req RollbackRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	current, err := h.versions.Rollback(c.Context(), c.Params("id"), req.TargetVersionID, req.LockToken)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(current)
}

func (h *APIHandlers) ArchiveVersion(c fiber.Ctx) error {
	if err := h.versions.Archive(c.Context(), c.Params("versionId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CompareVersions(c fiber.Ctx) error {
	fromID := c.Query("from")
	toID := c.Query("to")

	if fromID == "" || toID == "" {
		return badRequest(c, "Both 'from' and 'to' version IDs are required")
	}

	diff, err := h.versions.Compare(c.Context(), fromID, toID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(diff)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		h.logger.ErrorContext(c.Context(), "health check failed", "error", err)

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy"})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

func (h *APIHandlers) GetActionKinds(c fiber.Ctx) error {
	kinds := h.registry.Kinds()
	schemas := make(map[string]map[string]any, len(kinds))

	for _, kind := range kinds {
		if factory := h.registry.Factory(kind); factory != nil {
			schemas[kind] = factory.Schema()
		}
	}

	return c.JSON(fiber.Map{"kinds": kinds, "schemas": schemas})
}
