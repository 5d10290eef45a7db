package syncrecord

import (
	"fmt"

	"github.com/Strob0t/syncbridge/internal/domain"
)

var validStatuses = map[Status]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusSuccess:    true,
	StatusFailed:     true,
	StatusConflict:   true,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return validStatuses[s] }

// Validate checks the trigger request has all required fields.
func (r *TriggerRequest) Validate() error {
	if r.EntityType == "" {
		return fmt.Errorf("%w: entity_type is required", domain.ErrValidation)
	}
	if r.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", domain.ErrValidation)
	}
	return nil
}

// CheckOutcome enforces the record invariants on an attempt outcome before it
// is persisted.
func (o *Outcome) CheckOutcome() error {
	switch o.Status {
	case StatusSuccess:
		if o.ExternalID == "" {
			return fmt.Errorf("success outcome requires an external id")
		}
		if o.ErrorMessage != "" {
			return fmt.Errorf("success outcome must not carry an error message")
		}
	case StatusFailed:
		if o.RetryCount < 1 {
			return fmt.Errorf("failed outcome requires retry_count >= 1")
		}
	case StatusConflict, StatusPending:
	default:
		return fmt.Errorf("invalid outcome status %q", o.Status)
	}
	return nil
}
