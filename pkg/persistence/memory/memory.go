// Package memory provides an in-memory persistence backend used by tests
// and local development. All repositories share one mutex, which makes
// multi-record operations like the current-pointer flip atomic.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

// Persistence is the in-memory backend.
type Persistence struct {
	mu sync.RWMutex

	workflows    map[string]*models.Workflow
	versions     map[string]*models.WorkflowVersion
	executions   map[string]*models.Execution
	steps        []*models.StepRecord
	goals        map[string]*models.GoalConfig
	achievements map[string]*models.GoalAchievement
	jobs         map[string]*models.MigrationJob
	records      []*models.MigrationRecord
	timers       map[string]*models.Timer
	schedules    map[string]*models.EnrollmentSchedule
}

// NewPersistence creates an empty in-memory backend.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:    make(map[string]*models.Workflow),
		versions:     make(map[string]*models.WorkflowVersion),
		executions:   make(map[string]*models.Execution),
		goals:        make(map[string]*models.GoalConfig),
		achievements: make(map[string]*models.GoalAchievement),
		jobs:         make(map[string]*models.MigrationJob),
		timers:       make(map[string]*models.Timer),
		schedules:    make(map[string]*models.EnrollmentSchedule),
	}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository   { return &workflowRepository{p} }
func (p *Persistence) Versions() persistence.VersionRepository     { return &versionRepository{p} }
func (p *Persistence) Executions() persistence.ExecutionRepository { return &executionRepository{p} }
func (p *Persistence) Steps() persistence.StepRepository           { return &stepRepository{p} }
func (p *Persistence) Goals() persistence.GoalRepository           { return &goalRepository{p} }
func (p *Persistence) Migrations() persistence.MigrationRepository { return &migrationRepository{p} }
func (p *Persistence) Timers() persistence.TimerRepository         { return &timerRepository{p} }
func (p *Persistence) Schedules() persistence.ScheduleRepository   { return &scheduleRepository{p} }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

// clone deep-copies a record through JSON so stored state never aliases
// caller-held structs.
func clone[T any](value *T) *T {
	if value == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("memory persistence clone: %v", err))
	}

	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("memory persistence clone: %v", err))
	}

	return out
}
