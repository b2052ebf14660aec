package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sequentcrm/sequent/pkg/execution"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/persistence"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 100
	defaultWorkers      = 8
	defaultMaxAttempts  = 5
	deliveryBackoffBase = 30 * time.Second
)

// Resumer is the dispatcher's view of the execution engine.
type Resumer interface {
	Resume(ctx context.Context, executionID string, epoch int) error
	FailWaiting(ctx context.Context, executionID string, cause error) error
}

// ErrResumeExhausted is the cause recorded when a timer runs out of
// delivery attempts.
var ErrResumeExhausted = errors.New("resume delivery attempts exhausted")

// Dispatcher polls the timer store for due entries and delivers them to
// the engine through a bounded worker pool. Delivery is at-least-once; the
// engine's epoch check makes redelivery harmless.
type Dispatcher struct {
	timers  persistence.TimerRepository
	resumer Resumer
	logger  *slog.Logger

	pollInterval time.Duration
	batchSize    int
	workers      int
	maxAttempts  int

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets how often the dispatcher polls for due timers.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.pollInterval = interval }
}

// WithBatchSize caps how many due timers one poll claims.
func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) { d.batchSize = size }
}

// WithWorkers sets the delivery worker pool size.
func WithWorkers(workers int) DispatcherOption {
	return func(d *Dispatcher) { d.workers = workers }
}

// WithMaxAttempts sets how many delivery failures a timer survives before
// its execution is failed.
func WithMaxAttempts(attempts int) DispatcherOption {
	return func(d *Dispatcher) { d.maxAttempts = attempts }
}

// NewDispatcher creates a timer dispatcher.
func NewDispatcher(timers persistence.TimerRepository, resumer Resumer, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		timers:       timers,
		resumer:      resumer,
		logger:       logger.With("module", "timer_dispatcher"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		workers:      defaultWorkers,
		maxAttempts:  defaultMaxAttempts,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start begins polling. It returns immediately; delivery happens on
// background goroutines until Stop or context cancellation.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	d.ticker = time.NewTicker(d.pollInterval)
	d.done = make(chan bool)
	d.started = true

	go d.poll(ctx)

	d.logger.InfoContext(ctx, "Timer dispatcher started",
		"poll_interval", d.pollInterval, "batch_size", d.batchSize, "workers", d.workers)

	return nil
}

// Stop halts polling. In-flight deliveries finish on their own.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.ticker.Stop()

	select {
	case d.done <- true:
	default:
	}

	d.started = false

	d.logger.InfoContext(ctx, "Timer dispatcher stopped")

	return nil
}

func (d *Dispatcher) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-d.ticker.C:
			d.dispatchDue(ctx)
		}
	}
}

// dispatchDue claims one batch of due timers and fans it out over the
// worker pool. The batch completes before the next poll claims more.
func (d *Dispatcher) dispatchDue(ctx context.Context) {
	due, err := d.timers.Due(ctx, time.Now().UTC(), d.batchSize)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to fetch due timers", "error", err)

		return
	}

	if len(due) == 0 {
		return
	}

	d.logger.InfoContext(ctx, "Dispatching due timers", "count", len(due))

	queue := make(chan *models.Timer)

	var wg sync.WaitGroup

	for range d.workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for timer := range queue {
				d.deliver(ctx, timer)
			}
		}()
	}

	for _, timer := range due {
		queue <- timer
	}

	close(queue)
	wg.Wait()
}

// deliver hands one timer to the engine. Stale or mistargeted deliveries
// drop the timer; transient failures push it back with backoff until the
// attempt budget runs out.
func (d *Dispatcher) deliver(ctx context.Context, timer *models.Timer) {
	err := d.resumer.Resume(ctx, timer.ExecutionID, timer.Epoch)
	if err == nil {
		if err := d.timers.Delete(ctx, timer.ExecutionID); err != nil {
			d.logger.WarnContext(ctx, "Failed to delete delivered timer",
				"execution_id", timer.ExecutionID, "error", err)
		}

		return
	}

	if errors.Is(err, execution.ErrStaleResume) || errors.Is(err, execution.ErrNotWaiting) ||
		persistence.IsNotFound(err) {
		d.logger.InfoContext(ctx, "Dropping obsolete timer",
			"execution_id", timer.ExecutionID, "epoch", timer.Epoch, "reason", err)

		if err := d.timers.Delete(ctx, timer.ExecutionID); err != nil {
			d.logger.WarnContext(ctx, "Failed to delete obsolete timer",
				"execution_id", timer.ExecutionID, "error", err)
		}

		return
	}

	timer.Attempts++

	if timer.Attempts >= d.maxAttempts {
		d.logger.ErrorContext(ctx, "Timer delivery exhausted",
			"execution_id", timer.ExecutionID, "attempts", timer.Attempts, "error", err)

		if err := d.timers.Delete(ctx, timer.ExecutionID); err != nil {
			d.logger.WarnContext(ctx, "Failed to delete exhausted timer",
				"execution_id", timer.ExecutionID, "error", err)
		}

		if err := d.resumer.FailWaiting(ctx, timer.ExecutionID, ErrResumeExhausted); err != nil {
			d.logger.ErrorContext(ctx, "Failed to fail execution after exhausted timer",
				"execution_id", timer.ExecutionID, "error", err)
		}

		return
	}

	backoff := deliveryBackoffBase * time.Duration(1<<(timer.Attempts-1))
	timer.ResumeAt = time.Now().UTC().Add(backoff)

	d.logger.WarnContext(ctx, "Timer delivery failed, backing off",
		"execution_id", timer.ExecutionID, "attempts", timer.Attempts,
		"retry_at", timer.ResumeAt, "error", err)

	if err := d.timers.Schedule(ctx, timer); err != nil {
		d.logger.ErrorContext(ctx, "Failed to reschedule timer",
			"execution_id", timer.ExecutionID, "error", err)
	}
}
