// Package senders provides side-effect provider implementations behind
// the Sender contract: an HTTP sender for REST provider gateways and a
// queue sender for providers consumed off a message broker.
package senders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
)

const defaultTimeoutSeconds = 30

// HTTPSender delivers provider requests as JSON POSTs against a gateway
// base URL. Response status codes are mapped onto the classification
// sentinels so the registry can decide retryability.
type HTTPSender struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPSender(baseURL string, logger *slog.Logger) *HTTPSender {
	return &HTTPSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
		logger:  logger.With("module", "http_sender"),
	}
}

func (s *HTTPSender) Send(ctx context.Context, config map[string]any, execCtx models.ExecutionContext) (map[string]any, error) {
	payload, err := json.Marshal(map[string]any{
		"execution_id": execCtx.ExecutionID,
		"workflow_id":  execCtx.WorkflowID,
		"contact_id":   execCtx.ContactID,
		"config":       config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("provider request: %w", protocol.ErrProviderTimeout)
		}

		return nil, fmt.Errorf("provider request: %w: %w", protocol.ErrProviderUnavailable, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	output := map[string]any{"status_code": resp.StatusCode}

	if len(body) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err == nil {
			output["response"] = decoded
		} else {
			output["response"] = string(body)
		}
	}

	return output, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("provider returned %d: %w", status, protocol.ErrUnauthorized)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("provider returned %d: %w", status, protocol.ErrRateLimited)
	case status >= 500:
		return fmt.Errorf("provider returned %d: %w", status, protocol.ErrProviderUnavailable)
	default:
		return fmt.Errorf("provider returned %d: %w", status, protocol.ErrInvalidConfig)
	}
}
