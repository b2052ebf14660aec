// Package main provides the Sequent API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/sequentcrm/sequent/pkg/eventbus"
	"github.com/sequentcrm/sequent/pkg/execution"
	"github.com/sequentcrm/sequent/pkg/migration"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/registry"
	"github.com/sequentcrm/sequent/pkg/scheduler"
	"github.com/sequentcrm/sequent/pkg/version"
	"github.com/sequentcrm/sequent/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	timers      persistence.TimerRepository
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	serviceID   string
}

func NewAPI(
	serviceID string,
	logger *slog.Logger,
	persistence persistence.Persistence,
	timers persistence.TimerRepository,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		serviceID:   serviceID,
		persistence: persistence,
		timers:      timers,
		logger:      logger,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	versions := version.NewStore(a.persistence, a.registry, a.eventBus, a.logger)
	timerScheduler := scheduler.NewTimerScheduler(a.timers, a.logger)
	engine := execution.NewEngine(a.serviceID, a.persistence, a.registry, timerScheduler, a.eventBus, a.logger)
	migrations := migration.NewService(a.persistence, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(a.persistence, versions, engine, migrations, a.registry, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sequent API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)

	// Version endpoints:
	w.Post("/:id/versions", handlers.CreateDraft)
	w.Get("/:id/versions", handlers.ListVersions)
	w.Get("/:id/versions/current", handlers.GetCurrentVersion)
	w.Get("/:id/versions/compare", handlers.CompareVersions)
	w.Post("/:id/rollback", handlers.RollbackVersion)

	v := app.Group("/versions")
	v.Get("/:versionId", handlers.GetVersion)
	v.Put("/:versionId", handlers.UpdateDraft)
	v.Post("/:versionId/publish", handlers.PublishVersion)
	v.Post("/:versionId/archive", handlers.ArchiveVersion)

	// Enrollment and execution endpoints:
	w.Post("/:id/enrollments", handlers.EnrollContact)

	ex := app.Group("/executions")
	ex.Get("/:executionId", handlers.GetExecution)
	ex.Post("/:executionId/cancel", handlers.CancelExecution)
	ex.Get("/:executionId/steps", handlers.ListExecutionSteps)
	ex.Get("/:executionId/achievements", handlers.ListAchievements)

	// Goal endpoints:
	w.Post("/:id/goals", handlers.CreateGoal)
	w.Get("/:id/goals", handlers.ListGoals)
	app.Delete("/goals/:goalId", handlers.DeleteGoal)

	// Migration endpoints:
	w.Post("/:id/migrations", handlers.CreateMigration)
	w.Get("/:id/migrations", handlers.ListMigrations)

	m := app.Group("/migrations")
	m.Get("/:jobId", handlers.GetMigration)
	m.Post("/:jobId/cancel", handlers.CancelMigration)
	m.Get("/:jobId/outcomes", handlers.ListMigrationOutcomes)

	// Schedule endpoints:
	w.Post("/:id/schedules", handlers.CreateSchedule)

	s := app.Group("/schedules")
	s.Get("/:scheduleId", handlers.GetSchedule)
	s.Delete("/:scheduleId", handlers.DeleteSchedule)

	app.Get("/actions", handlers.GetActionKinds)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
