package senders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/sequentcrm/sequent/pkg/models"
)

// providerTopicBase prefixes the per-channel provider request topics.
const providerTopicBase = "sequent.providers."

// QueueSender publishes provider requests onto a broker topic instead of
// calling the provider inline. Delivery is fire-and-forget from the
// engine's perspective; the provider consumer owns its own retries.
type QueueSender struct {
	publisher message.Publisher
	channel   string
	logger    *slog.Logger
}

func NewQueueSender(publisher message.Publisher, channel string, logger *slog.Logger) *QueueSender {
	return &QueueSender{
		publisher: publisher,
		channel:   channel,
		logger:    logger.With("module", "queue_sender", "channel", channel),
	}
}

func (s *QueueSender) Send(ctx context.Context, config map[string]any, execCtx models.ExecutionContext) (map[string]any, error) {
	payload, err := json.Marshal(map[string]any{
		"execution_id": execCtx.ExecutionID,
		"workflow_id":  execCtx.WorkflowID,
		"contact_id":   execCtx.ContactID,
		"config":       config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider payload: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set("contact_id", execCtx.ContactID)

	topic := providerTopicBase + s.channel

	if err := s.publisher.Publish(topic, msg); err != nil {
		return nil, fmt.Errorf("failed to publish provider request: %w", err)
	}

	s.logger.InfoContext(ctx, "queued provider request",
		"topic", topic, "execution_id", execCtx.ExecutionID)

	return map[string]any{"queued": true, "message_id": msg.UUID}, nil
}
