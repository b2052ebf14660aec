// Package redistimer backs the scheduler's timer store with Redis: a
// sorted set ordered by resume time plus one JSON payload per timer.
// Polling for due timers is a single range query regardless of how many
// years out the furthest wait sits.
package redistimer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

const (
	dueSetKey      = "sequent:timers:due"
	payloadKeyBase = "sequent:timers:payload:"
)

// TimerRepository implements persistence.TimerRepository on Redis.
type TimerRepository struct {
	client redis.UniversalClient
}

// NewTimerRepository creates a Redis timer store.
func NewTimerRepository(client redis.UniversalClient) *TimerRepository {
	return &TimerRepository{client: client}
}

// Ensure interface compliance.
var _ persistence.TimerRepository = (*TimerRepository)(nil)

func payloadKey(executionID string) string {
	return payloadKeyBase + executionID
}

// Schedule stores the timer, replacing any previous entry for the same
// execution.
func (r *TimerRepository) Schedule(ctx context.Context, timer *models.Timer) error {
	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("failed to marshal timer for execution %s: %w", timer.ExecutionID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, dueSetKey, redis.Z{
		Score:  float64(timer.ResumeAt.UnixMilli()),
		Member: timer.ExecutionID,
	})
	pipe.Set(ctx, payloadKey(timer.ExecutionID), payload, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule timer for execution %s: %w", timer.ExecutionID, err)
	}

	return nil
}

// Cancel removes the execution's timer; a missing timer reports
// ErrTimerNotFound.
func (r *TimerRepository) Cancel(ctx context.Context, executionID string) error {
	removed, err := r.client.ZRem(ctx, dueSetKey, executionID).Result()
	if err != nil {
		return fmt.Errorf("failed to cancel timer for execution %s: %w", executionID, err)
	}

	if err := r.client.Del(ctx, payloadKey(executionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete timer payload for execution %s: %w", executionID, err)
	}

	if removed == 0 {
		return persistence.ErrTimerNotFound
	}

	return nil
}

// Due returns timers whose resume time has passed, earliest first.
func (r *TimerRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Timer, error) {
	opts := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		opts.Count = int64(limit)
	}

	executionIDs, err := r.client.ZRangeByScore(ctx, dueSetKey, opts).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range due timers: %w", err)
	}

	timers := make([]*models.Timer, 0, len(executionIDs))

	for _, executionID := range executionIDs {
		payload, err := r.client.Get(ctx, payloadKey(executionID)).Bytes()
		if err != nil {
			// The payload can vanish between the range and the read when
			// a cancel races the poll; skip the orphaned member.
			if errors.Is(err, redis.Nil) {
				_ = r.client.ZRem(ctx, dueSetKey, executionID).Err()

				continue
			}

			return nil, fmt.Errorf("failed to read timer payload for execution %s: %w", executionID, err)
		}

		var timer models.Timer
		if err := json.Unmarshal(payload, &timer); err != nil {
			return nil, fmt.Errorf("failed to unmarshal timer for execution %s: %w", executionID, err)
		}

		timers = append(timers, &timer)
	}

	return timers, nil
}

// Delete removes the execution's timer without caring whether it existed.
func (r *TimerRepository) Delete(ctx context.Context, executionID string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, dueSetKey, executionID)
	pipe.Del(ctx, payloadKey(executionID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete timer for execution %s: %w", executionID, err)
	}

	return nil
}
