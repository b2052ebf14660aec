package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/sequentcrm/sequent/pkg/execution"
	"github.com/sequentcrm/sequent/pkg/migration"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/version"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service layer errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsLockConflict(err):
		return conflict(c, "resource was modified concurrently, reload and retry")

	case errors.Is(err, persistence.ErrDuplicateEnrollment):
		return conflict(c, "contact already has an active enrollment in this workflow")

	case errors.Is(err, persistence.ErrNotDraft):
		return conflict(c, "version is not a draft")

	case errors.Is(err, version.ErrVersionIsCurrent):
		return conflict(c, "version is the current version")

	case errors.Is(err, version.ErrNotArchivable):
		return conflict(c, "version does not meet the archival policy")

	case errors.Is(err, migration.ErrSameVersion),
		errors.Is(err, migration.ErrTargetNotPublished),
		errors.Is(err, migration.ErrJobNotRunnable):
		return badRequest(c, err.Error())

	case errors.Is(err, execution.ErrNotWaiting):
		return conflict(c, "execution is not waiting")

	case errors.Is(err, models.ErrNoTrigger),
		errors.Is(err, models.ErrNoActionNodes),
		errors.Is(err, models.ErrCyclicGraph),
		errors.Is(err, models.ErrMissingDefaultEdge),
		errors.Is(err, models.ErrDanglingEdge),
		errors.Is(err, models.ErrVersionLimitReached),
		errors.Is(err, models.ErrInvalidSchedule):
		return badRequest(c, err.Error())

	case errors.Is(err, persistence.ErrNoCurrentVersion):
		return conflict(c, "workflow has no published version")

	case persistence.IsNotFound(err):
		return notFound(c, err.Error())

	default:
		return internalError(c, err)
	}
}
