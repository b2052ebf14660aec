// Package postgresql provides the PostgreSQL persistence backend for
// workflows, versions, executions, goals, migrations and scheduler state.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/sequentcrm/sequent/pkg/persistence"
	"github.com/sequentcrm/sequent/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflows  *WorkflowRepository
	versions   *VersionRepository
	executions *ExecutionRepository
	steps      *StepRepository
	goals      *GoalRepository
	migrations *MigrationRepository
	timers     *TimerRepository
	schedules  *ScheduleRepository
}

// NewPersistence connects, runs schema migrations and returns the backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:         database,
		logger:     logger,
		workflows:  &WorkflowRepository{db: database, logger: logger},
		versions:   &VersionRepository{db: database, logger: logger},
		executions: &ExecutionRepository{db: database, logger: logger},
		steps:      &StepRepository{db: database, logger: logger},
		goals:      &GoalRepository{db: database, logger: logger},
		migrations: &MigrationRepository{db: database, logger: logger},
		timers:     &TimerRepository{db: database, logger: logger},
		schedules:  &ScheduleRepository{db: database, logger: logger},
	}, nil
}

// Ensure interface compliance.
var _ persistence.Persistence = (*Persistence)(nil)

func (p *Persistence) Workflows() persistence.WorkflowRepository   { return p.workflows }
func (p *Persistence) Versions() persistence.VersionRepository     { return p.versions }
func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executions }
func (p *Persistence) Steps() persistence.StepRepository           { return p.steps }
func (p *Persistence) Goals() persistence.GoalRepository           { return p.goals }
func (p *Persistence) Migrations() persistence.MigrationRepository { return p.migrations }
func (p *Persistence) Timers() persistence.TimerRepository         { return p.timers }
func (p *Persistence) Schedules() persistence.ScheduleRepository   { return p.schedules }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
