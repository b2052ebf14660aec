package goals

import (
	"path"
	"strings"

	"github.com/sequentcrm/sequent/pkg/events"
	"github.com/sequentcrm/sequent/pkg/models"
)

// eventTypeForGoal maps each goal type to the domain event that can
// satisfy it.
var eventTypeForGoal = map[models.GoalType]events.EventType{
	models.GoalTagApplied:      events.TagAppliedEvent,
	models.GoalPurchaseMade:    events.PurchaseMadeEvent,
	models.GoalAppointmentBook: events.AppointmentBookedEvent,
	models.GoalFormSubmitted:   events.FormSubmittedEvent,
	models.GoalPipelineStage:   events.PipelineStageReachedEvent,
}

// Matches reports whether a domain event satisfies a goal's criteria. An
// absent criterion is a wildcard; a criterion the event cannot satisfy is
// a miss, never an error.
func Matches(goal *models.GoalConfig, event *events.DomainEvent) bool {
	expected, known := eventTypeForGoal[goal.Type]
	if !known || expected != event.Type {
		return false
	}

	switch goal.Type {
	case models.GoalTagApplied:
		return criterionMatches(goal.Criteria, "tag", event)
	case models.GoalPurchaseMade:
		return matchPurchase(goal.Criteria, event)
	case models.GoalAppointmentBook:
		return criterionEquals(goal.Criteria, "calendar_id", event)
	case models.GoalFormSubmitted:
		return criterionEquals(goal.Criteria, "form_id", event)
	case models.GoalPipelineStage:
		return criterionEquals(goal.Criteria, "pipeline_id", event) &&
			criterionEquals(goal.Criteria, "stage_id", event)
	default:
		return false
	}
}

func matchPurchase(criteria map[string]any, event *events.DomainEvent) bool {
	if !criterionEquals(criteria, "product_id", event) {
		return false
	}

	minAmount, present := criteriaNumber(criteria, "min_amount")
	if !present {
		return true
	}

	amount, ok := event.Number("amount")

	return ok && amount >= minAmount
}

func criterionEquals(criteria map[string]any, key string, event *events.DomainEvent) bool {
	expected, _ := criteria[key].(string)
	if expected == "" {
		return true
	}

	return event.String(key) == expected
}

// criterionMatches is criterionEquals plus glob patterns: a criterion
// containing *, ? or [ is matched as a pattern ("Customer-*" matches
// every customer tier tag). A malformed pattern falls back to equality.
func criterionMatches(criteria map[string]any, key string, event *events.DomainEvent) bool {
	expected, _ := criteria[key].(string)
	if expected == "" {
		return true
	}

	value := event.String(key)

	if strings.ContainsAny(expected, "*?[") {
		matched, err := path.Match(expected, value)
		if err == nil {
			return matched
		}
	}

	return value == expected
}

func criteriaNumber(criteria map[string]any, key string) (float64, bool) {
	switch v := criteria[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
