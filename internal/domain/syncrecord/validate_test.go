package syncrecord

import (
	"errors"
	"testing"

	"github.com/Strob0t/syncbridge/internal/domain"
)

func TestTriggerRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     TriggerRequest
		wantErr bool
	}{
		{"valid", TriggerRequest{EntityType: "payment", EntityID: "p-1"}, false},
		{"valid with system", TriggerRequest{EntityType: "payment", EntityID: "p-1", ExternalSystemID: "sys"}, false},
		{"missing type", TriggerRequest{EntityID: "p-1"}, true},
		{"missing id", TriggerRequest{EntityType: "payment"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCheckOutcome(t *testing.T) {
	tests := []struct {
		name    string
		out     Outcome
		wantErr bool
	}{
		{"success", Outcome{Status: StatusSuccess, ExternalID: "ext-1"}, false},
		{"success without external id", Outcome{Status: StatusSuccess}, true},
		{"success with error", Outcome{Status: StatusSuccess, ExternalID: "ext-1", ErrorMessage: "x"}, true},
		{"failed", Outcome{Status: StatusFailed, RetryCount: 1, ErrorMessage: "boom"}, false},
		{"failed zero retries", Outcome{Status: StatusFailed}, true},
		{"conflict", Outcome{Status: StatusConflict}, false},
		{"pending", Outcome{Status: StatusPending}, false},
		{"in progress", Outcome{Status: StatusInProgress}, true},
		{"unknown", Outcome{Status: "weird"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.out.CheckOutcome(); (err != nil) != tt.wantErr {
				t.Errorf("CheckOutcome() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusInProgress, StatusSuccess, StatusFailed, StatusConflict} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("done").Valid() {
		t.Error("unknown status reported valid")
	}
}
