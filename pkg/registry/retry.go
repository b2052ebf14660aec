package registry

import (
	"time"

	"github.com/sequentcrm/sequent/pkg/models"
)

// RetryPolicy is the backoff applied to transient executor errors.
// Permanent errors never retry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      int
}

// Delay returns the backoff before the given attempt (1-based). The first
// attempt has no delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := p.BaseDelay

	for i := 2; i < attempt; i++ {
		delay *= time.Duration(p.Factor)
	}

	return delay
}

// defaultPolicies maps each executor family to its retry policy: base 1s,
// factor 2, attempt caps between 3 and 5 depending on family.
func defaultPolicies() map[models.NodeFamily]RetryPolicy {
	return map[models.NodeFamily]RetryPolicy{
		models.FamilyCommunication: {MaxAttempts: 5, BaseDelay: time.Second, Factor: 2},
		models.FamilyCRM:           {MaxAttempts: 4, BaseDelay: time.Second, Factor: 2},
		models.FamilyInternal:      {MaxAttempts: 3, BaseDelay: time.Second, Factor: 2},
		models.FamilyMembership:    {MaxAttempts: 4, BaseDelay: time.Second, Factor: 2},
		models.FamilyTiming:        {MaxAttempts: 1, BaseDelay: 0, Factor: 1},
	}
}
