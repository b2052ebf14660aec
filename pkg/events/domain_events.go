package events

import "time"

// CRM domain event types. These arrive on DomainTopic from the surrounding
// platform and feed goal evaluation and event waits.
const (
	TagAppliedEvent            EventType = "contact.tag_applied"
	PurchaseMadeEvent          EventType = "contact.purchase_made"
	AppointmentBookedEvent     EventType = "contact.appointment_booked"
	FormSubmittedEvent         EventType = "contact.form_submitted"
	PipelineStageReachedEvent  EventType = "contact.pipeline_stage_reached"
	EmailRepliedEvent          EventType = "contact.email_replied"
	LinkClickedEvent           EventType = "contact.link_clicked"
	AppointmentCancelledEvent  EventType = "contact.appointment_cancelled"
	SubscriptionCancelledEvent EventType = "contact.subscription_cancelled"
)

// DomainEvent is contact activity reported by the CRM. Attributes carries
// the type-specific payload the goal matchers read (tag, product_id,
// amount, calendar_id, form_id, pipeline_id, stage_id, ...).
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ContactID  string         `json:"contact_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (e DomainEvent) GetType() EventType {
	return e.Type
}

// String lifts a typed attribute for matcher comparisons; absent or
// non-string attributes return "".
func (e DomainEvent) String(key string) string {
	value, _ := e.Attributes[key].(string)

	return value
}

// Number lifts a numeric attribute, accepting JSON float64 and integer
// encodings.
func (e DomainEvent) Number(key string) (float64, bool) {
	switch v := e.Attributes[key].(type) {
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
