package registry

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sequentcrm/sequent/pkg/protocol"
)

// ErrKindNotRegistered is returned when dispatching or validating an
// action kind no factory serves.
var ErrKindNotRegistered = errors.New("action kind not registered")

// ExecutorError is an executor failure classified at the registry
// boundary. Raw executor errors never propagate past the registry.
type ExecutorError struct {
	Kind      string
	NodeID    string
	Retryable bool
	Err       error
}

func (e *ExecutorError) Error() string {
	class := "permanent"
	if e.Retryable {
		class = "transient"
	}

	return fmt.Sprintf("%s executor error for %s node %s: %v", class, e.Kind, e.NodeID, e.Err)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// IsTransient checks whether an error is a retryable executor error.
func IsTransient(err error) bool {
	var execErr *ExecutorError

	return errors.As(err, &execErr) && execErr.Retryable
}

// IsPermanent checks whether an error is a terminal executor error.
func IsPermanent(err error) bool {
	var execErr *ExecutorError

	return errors.As(err, &execErr) && !execErr.Retryable
}

// classify decides retryability. Timeouts, rate limits and provider
// outages are transient; config and auth failures are permanent. Unknown
// errors default to transient so a provider hiccup is not terminal.
func classify(err error) bool {
	switch {
	case errors.Is(err, protocol.ErrInvalidConfig),
		errors.Is(err, protocol.ErrUnauthorized):
		return false
	case errors.Is(err, protocol.ErrProviderTimeout),
		errors.Is(err, protocol.ErrRateLimited),
		errors.Is(err, protocol.ErrProviderUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return true
}
