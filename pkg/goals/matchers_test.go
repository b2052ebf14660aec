package goals

import (
	"testing"

	"github.com/sequentcrm/sequent/pkg/events"
	"github.com/sequentcrm/sequent/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name  string
		goal  *models.GoalConfig
		event *events.DomainEvent
		want  bool
	}{
		{
			name: "tag applied with matching tag",
			goal: &models.GoalConfig{Type: models.GoalTagApplied, Criteria: map[string]any{"tag": "customer"}},
			event: &events.DomainEvent{
				Type:       events.TagAppliedEvent,
				Attributes: map[string]any{"tag": "customer"},
			},
			want: true,
		},
		{
			name: "tag applied with different tag",
			goal: &models.GoalConfig{Type: models.GoalTagApplied, Criteria: map[string]any{"tag": "customer"}},
			event: &events.DomainEvent{
				Type:       events.TagAppliedEvent,
				Attributes: map[string]any{"tag": "lead"},
			},
			want: false,
		},
		{
			name: "tag pattern matches tier tags",
			goal: &models.GoalConfig{Type: models.GoalTagApplied, Criteria: map[string]any{"tag": "Customer-*"}},
			event: &events.DomainEvent{
				Type:       events.TagAppliedEvent,
				Attributes: map[string]any{"tag": "Customer-Gold"},
			},
			want: true,
		},
		{
			name: "tag pattern rejects other prefixes",
			goal: &models.GoalConfig{Type: models.GoalTagApplied, Criteria: map[string]any{"tag": "Customer-*"}},
			event: &events.DomainEvent{
				Type:       events.TagAppliedEvent,
				Attributes: map[string]any{"tag": "Lead-Gold"},
			},
			want: false,
		},
		{
			name: "malformed tag pattern falls back to exact match",
			goal: &models.GoalConfig{Type: models.GoalTagApplied, Criteria: map[string]any{"tag": "vip["}},
			event: &events.DomainEvent{
				Type:       events.TagAppliedEvent,
				Attributes: map[string]any{"tag": "vip["},
			},
			want: true,
		},
		{
			name: "absent criterion is a wildcard",
			goal: &models.GoalConfig{Type: models.GoalTagApplied, Criteria: map[string]any{}},
			event: &events.DomainEvent{
				Type:       events.TagAppliedEvent,
				Attributes: map[string]any{"tag": "anything"},
			},
			want: true,
		},
		{
			name: "wrong event type",
			goal: &models.GoalConfig{Type: models.GoalTagApplied},
			event: &events.DomainEvent{
				Type:       events.FormSubmittedEvent,
				Attributes: map[string]any{"form_id": "f-1"},
			},
			want: false,
		},
		{
			name: "purchase above minimum amount",
			goal: &models.GoalConfig{Type: models.GoalPurchaseMade, Criteria: map[string]any{"min_amount": 50.0}},
			event: &events.DomainEvent{
				Type:       events.PurchaseMadeEvent,
				Attributes: map[string]any{"amount": 75.0},
			},
			want: true,
		},
		{
			name: "purchase exactly at minimum amount",
			goal: &models.GoalConfig{Type: models.GoalPurchaseMade, Criteria: map[string]any{"min_amount": 50}},
			event: &events.DomainEvent{
				Type:       events.PurchaseMadeEvent,
				Attributes: map[string]any{"amount": 50.0},
			},
			want: true,
		},
		{
			name: "purchase below minimum amount",
			goal: &models.GoalConfig{Type: models.GoalPurchaseMade, Criteria: map[string]any{"min_amount": 50.0}},
			event: &events.DomainEvent{
				Type:       events.PurchaseMadeEvent,
				Attributes: map[string]any{"amount": 25.0},
			},
			want: false,
		},
		{
			name: "purchase with min amount but no amount attribute",
			goal: &models.GoalConfig{Type: models.GoalPurchaseMade, Criteria: map[string]any{"min_amount": 50.0}},
			event: &events.DomainEvent{
				Type:       events.PurchaseMadeEvent,
				Attributes: map[string]any{},
			},
			want: false,
		},
		{
			name: "purchase product mismatch",
			goal: &models.GoalConfig{Type: models.GoalPurchaseMade, Criteria: map[string]any{"product_id": "p-1"}},
			event: &events.DomainEvent{
				Type:       events.PurchaseMadeEvent,
				Attributes: map[string]any{"product_id": "p-2", "amount": 100.0},
			},
			want: false,
		},
		{
			name: "appointment booked on calendar",
			goal: &models.GoalConfig{Type: models.GoalAppointmentBook, Criteria: map[string]any{"calendar_id": "cal-1"}},
			event: &events.DomainEvent{
				Type:       events.AppointmentBookedEvent,
				Attributes: map[string]any{"calendar_id": "cal-1"},
			},
			want: true,
		},
		{
			name: "form submitted",
			goal: &models.GoalConfig{Type: models.GoalFormSubmitted, Criteria: map[string]any{"form_id": "f-1"}},
			event: &events.DomainEvent{
				Type:       events.FormSubmittedEvent,
				Attributes: map[string]any{"form_id": "f-1"},
			},
			want: true,
		},
		{
			name: "pipeline stage needs both ids",
			goal: &models.GoalConfig{
				Type:     models.GoalPipelineStage,
				Criteria: map[string]any{"pipeline_id": "pl-1", "stage_id": "st-2"},
			},
			event: &events.DomainEvent{
				Type:       events.PipelineStageReachedEvent,
				Attributes: map[string]any{"pipeline_id": "pl-1", "stage_id": "st-1"},
			},
			want: false,
		},
		{
			name: "pipeline stage matches",
			goal: &models.GoalConfig{
				Type:     models.GoalPipelineStage,
				Criteria: map[string]any{"pipeline_id": "pl-1", "stage_id": "st-2"},
			},
			event: &events.DomainEvent{
				Type:       events.PipelineStageReachedEvent,
				Attributes: map[string]any{"pipeline_id": "pl-1", "stage_id": "st-2"},
			},
			want: true,
		},
		{
			name: "unknown goal type never matches",
			goal: &models.GoalConfig{Type: "made_up"},
			event: &events.DomainEvent{
				Type: events.TagAppliedEvent,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.goal, tt.event))
		})
	}
}
