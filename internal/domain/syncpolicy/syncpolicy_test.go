package syncpolicy

import (
	"errors"
	"testing"

	"github.com/Strob0t/syncbridge/internal/domain"
)

func validPolicy() SyncPolicy {
	return SyncPolicy{
		AutoSync:             true,
		SyncIntervalSeconds:  60,
		MaxRetries:           3,
		RetryDelaySeconds:    30,
		RetryMaxDelaySeconds: 3600,
		ConflictResolution:   ConflictManual,
		EnabledEntityTypes:   []string{"payment", "invoice"},
	}
}

func TestSyncPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SyncPolicy)
		ok     bool
	}{
		{"valid", func(*SyncPolicy) {}, true},
		{"zero retries allowed", func(p *SyncPolicy) { p.MaxRetries = 0 }, true},
		{"zero interval", func(p *SyncPolicy) { p.SyncIntervalSeconds = 0 }, false},
		{"negative retries", func(p *SyncPolicy) { p.MaxRetries = -1 }, false},
		{"zero delay", func(p *SyncPolicy) { p.RetryDelaySeconds = 0 }, false},
		{"ceiling below delay", func(p *SyncPolicy) { p.RetryMaxDelaySeconds = 10 }, false},
		{"bad policy", func(p *SyncPolicy) { p.ConflictResolution = "newest_wins" }, false},
		{"empty entity type", func(p *SyncPolicy) { p.EnabledEntityTypes = []string{""} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestSnapshotIsolation(t *testing.T) {
	p := validPolicy()
	snap := p.Snapshot()
	p.EnabledEntityTypes[0] = "expense"
	if snap.EnabledEntityTypes[0] != "payment" {
		t.Fatal("snapshot shares enabled entity types with the source")
	}
	if !snap.Enabled("invoice") || snap.Enabled("expense") {
		t.Errorf("Enabled() mismatch: %v", snap.EnabledEntityTypes)
	}
}

func TestUpdateRequestApply(t *testing.T) {
	p := validPolicy()
	wins := ConflictLocalWins
	retries := 5
	got := (&UpdateRequest{ConflictResolution: &wins, MaxRetries: &retries}).Apply(p)
	if got.ConflictResolution != ConflictLocalWins || got.MaxRetries != 5 {
		t.Errorf("Apply() = %+v", got)
	}
	if p.ConflictResolution != ConflictManual {
		t.Error("Apply() mutated the source policy")
	}
}
