// Package email provides the communication-family executors that deliver
// email through an external provider.
package email

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
	KindSend         = "email:send"
	KindNotification = "email:notification"
)

// Kinds returns every action kind this package registers.
func Kinds() []string {
	return []string{KindSend, KindNotification}
}

// Executor renders the subject and body against the execution context and
// hands the message to the email provider.
type Executor struct {
	kind     string
	Subject  string
	Body     string
	FromName string
	To       string
	sender   protocol.Sender
}

// NewExecutor creates an email executor from node configuration.
func NewExecutor(kind string, config map[string]any, sender protocol.Sender) (*Executor, error) {
	subject, _ := config["subject"].(string)
	if subject == "" {
		return nil, fmt.Errorf("missing 'subject' in configuration: %w", protocol.ErrInvalidConfig)
	}

	body, _ := config["body"].(string)
	if body == "" {
		return nil, fmt.Errorf("missing 'body' in configuration: %w", protocol.ErrInvalidConfig)
	}

	fromName, _ := config["from_name"].(string)

	// Defaults to the enrolled contact's address when unset.
	to, _ := config["to"].(string)

	if _, err := template.Parse(subject); err != nil {
		return nil, fmt.Errorf("invalid subject template: %w: %w", err, protocol.ErrInvalidConfig)
	}

	if _, err := template.Parse(body); err != nil {
		return nil, fmt.Errorf("invalid body template: %w: %w", err, protocol.ErrInvalidConfig)
	}

	return &Executor{
		kind:     kind,
		Subject:  subject,
		Body:     body,
		FromName: fromName,
		To:       to,
		sender:   sender,
	}, nil
}

func (e *Executor) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*protocol.ActionResult, error) {
	logger = logger.With("module", "email_executor", "kind", e.kind)
	logger.InfoContext(ctx, "Executing email action")

	subject, err := template.RenderString(e.Subject, &execCtx)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w: %w", err, protocol.ErrInvalidConfig)
	}

	body, err := template.RenderString(e.Body, &execCtx)
	if err != nil {
		return nil, fmt.Errorf("render body: %w: %w", err, protocol.ErrInvalidConfig)
	}

	payload := map[string]any{
		"kind":       e.kind,
		"subject":    subject,
		"body":       body,
		"from_name":  e.FromName,
		"to":         e.To,
		"contact_id": execCtx.ContactID,
	}

	output, err := e.sender.Send(ctx, payload, execCtx)
	if err != nil {
		return nil, fmt.Errorf("email provider send: %w", err)
	}

	logger.InfoContext(ctx, "Email action completed")

	return &protocol.ActionResult{Status: protocol.ActionCompleted, Output: output}, nil
}
