// Package protocol defines the interfaces and contracts for pluggable
// action executors and their side-effect providers.
package protocol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
)

// ActionStatus is the outcome an executor reports for one dispatch.
type ActionStatus string

const (
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionWaiting   ActionStatus = "waiting"
)

// ActionResult is what an executor returns from Execute. Waiting results
// carry the resumption terms; the state machine persists them and hands
// control to the scheduler instead of blocking a worker.
type ActionResult struct {
	Status ActionStatus   `json:"status"`
	Output map[string]any `json:"output,omitempty"`

	// ResumeAt is set by timing executors: the wall-clock time the
	// execution becomes due again. For wait-for-event with a timeout,
	// it is the timeout deadline.
	ResumeAt *time.Time `json:"resume_at,omitempty"`

	// WaitEvent is the domain event type that ends the wait early.
	WaitEvent string `json:"wait_event,omitempty"`
}

// Executor performs one action kind's side effect.
type Executor interface {
	Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*ActionResult, error)
}

// ExecutorFactory creates executor instances and provides metadata about
// the kind, including the JSON schema the registry validates configs
// against at publish time.
type ExecutorFactory interface {
	// Create creates an executor with the given node configuration
	Create(config map[string]any) (Executor, error)

	// Kind returns the unique action kind this factory serves
	Kind() string

	// Family returns the retry-policy family the kind belongs to
	Family() models.NodeFamily

	// Schema returns the JSON schema for configuring this kind
	Schema() map[string]any
}

// Sender is the uniform contract to an external side-effect provider
// (email/SMS gateway, webhook target, CRM mutation service). The engine
// does not embed provider-specific logic beyond config validation.
type Sender interface {
	Send(ctx context.Context, config map[string]any, execCtx models.ExecutionContext) (map[string]any, error)
}

// Dependencies carries what executor factories need at construction time.
type Dependencies struct {
	Logger *slog.Logger

	// Senders maps a provider channel name ("email", "sms", "webhook",
	// "crm", "membership") to its side-effect provider.
	Senders map[string]Sender
}

// Classification sentinels. Executors wrap one of these into errors they
// return so the registry can classify retryability at its boundary.
// Retryability is a property of the error, not of the action kind.
var (
	// ErrProviderTimeout indicates the external call timed out (transient).
	ErrProviderTimeout = errors.New("provider call timed out")

	// ErrRateLimited indicates the provider throttled the call (transient).
	ErrRateLimited = errors.New("provider rate limited")

	// ErrProviderUnavailable indicates a 5xx-class provider failure (transient).
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidConfig indicates the node configuration is invalid (permanent).
	ErrInvalidConfig = errors.New("invalid executor configuration")

	// ErrUnauthorized indicates the provider rejected credentials (permanent).
	ErrUnauthorized = errors.New("provider authorization failed")
)
