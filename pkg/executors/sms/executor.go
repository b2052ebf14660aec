// Package sms provides the communication-family executors for text,
// WhatsApp, voicemail drop and outbound call delivery.
package sms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/sequentcrm/sequent/pkg/protocol"
	"github.com/sequentcrm/sequent/pkg/template"
)

// Action kinds served by this package.
const (
	KindSend          = "sms:send"
	KindWhatsApp      = "sms:whatsapp"
	KindVoicemailDrop = "call:voicemail_drop"
	KindPlaceCall     = "call:place"
)

// Kinds returns every action kind this package registers.
func Kinds() []string {
	return []string{KindSend, KindWhatsApp, KindVoicemailDrop, KindPlaceCall}
}

// Executor delivers one message or call through the telephony provider.
type Executor struct {
	kind    string
	Message string
	MediaID string
	sender  protocol.Sender
}

// NewExecutor creates a telephony executor from node configuration.
// Voicemail drops and calls reference a recorded media asset instead of
// a message body.
func NewExecutor(kind string, config map[string]any, sender protocol.Sender) (*Executor, error) {
	message, _ := config["message"].(string)
	mediaID, _ := config["media_id"].(string)

	switch kind {
	case KindVoicemailDrop, KindPlaceCall:
		if mediaID == "" {
			return nil, fmt.Errorf("missing 'media_id' in configuration: %w", protocol.ErrInvalidConfig)
		}
	default:
		if message == "" {
			return nil, fmt.Errorf("missing 'message' in configuration: %w", protocol.ErrInvalidConfig)
		}

		if _, err := template.Parse(message); err != nil {
			return nil, fmt.Errorf("invalid message template: %w: %w", err, protocol.ErrInvalidConfig)
		}
	}

	return &Executor{kind: kind, Message: message, MediaID: mediaID, sender: sender}, nil
}

func (e *Executor) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*protocol.ActionResult, error) {
	logger = logger.With("module", "sms_executor", "kind", e.kind)
	logger.InfoContext(ctx, "Executing telephony action")

	payload := map[string]any{
		"kind":       e.kind,
		"contact_id": execCtx.ContactID,
	}

	if e.Message != "" {
		message, err := template.RenderString(e.Message, &execCtx)
		if err != nil {
			return nil, fmt.Errorf("render message: %w: %w", err, protocol.ErrInvalidConfig)
		}

		payload["message"] = message
	}

	if e.MediaID != "" {
		payload["media_id"] = e.MediaID
	}

	output, err := e.sender.Send(ctx, payload, execCtx)
	if err != nil {
		return nil, fmt.Errorf("telephony provider send: %w", err)
	}

	logger.InfoContext(ctx, "Telephony action completed")

	return &protocol.ActionResult{Status: protocol.ActionCompleted, Output: output}, nil
}
