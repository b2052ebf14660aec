package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

type goalRepository struct {
	p *Persistence
}

func (r *goalRepository) SaveConfig(_ context.Context, config *models.GoalConfig) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if config.ID == "" {
		config.ID = uuid.New().String()
	}

	now := time.Now().UTC()

	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}

	config.UpdatedAt = now
	r.p.goals[config.ID] = clone(config)

	return nil
}

func (r *goalRepository) GetConfig(_ context.Context, id string) (*models.GoalConfig, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	config, ok := r.p.goals[id]
	if !ok {
		return nil, persistence.ErrGoalNotFound
	}

	return clone(config), nil
}

func (r *goalRepository) ActiveByWorkflow(_ context.Context, workflowID string) ([]*models.GoalConfig, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	configs := make([]*models.GoalConfig, 0)

	for _, config := range r.p.goals {
		if config.WorkflowID == workflowID && config.Active {
			configs = append(configs, clone(config))
		}
	}

	return configs, nil
}

func (r *goalRepository) DeleteConfig(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.goals[id]; !ok {
		return persistence.ErrGoalNotFound
	}

	delete(r.p.goals, id)

	return nil
}

// RecordAchievement enforces the (execution, goal) unique constraint that
// makes achievement recording idempotent under concurrent delivery.
func (r *goalRepository) RecordAchievement(_ context.Context, achievement *models.GoalAchievement) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := achievement.ExecutionID + ":" + achievement.GoalID
	if _, exists := r.p.achievements[key]; exists {
		return persistence.ErrDuplicateAchievement
	}

	if achievement.ID == "" {
		achievement.ID = uuid.New().String()
	}

	if achievement.AchievedAt.IsZero() {
		achievement.AchievedAt = time.Now().UTC()
	}

	r.p.achievements[key] = clone(achievement)

	return nil
}

func (r *goalRepository) AchievementsByExecution(_ context.Context, executionID string) ([]*models.GoalAchievement, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	achievements := make([]*models.GoalAchievement, 0)

	for _, achievement := range r.p.achievements {
		if achievement.ExecutionID == executionID {
			achievements = append(achievements, clone(achievement))
		}
	}

	return achievements, nil
}
