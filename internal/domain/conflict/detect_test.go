package conflict

import (
	"slices"
	"testing"
	"time"

	"github.com/Strob0t/syncbridge/internal/domain/entity"
)

func TestDetector_PaymentStatusDivergence(t *testing.T) {
	d := NewDetector(entity.BuiltinSchemas())

	local := entity.Snapshot{"amount": 100.00, "status": "paid"}
	external := entity.Snapshot{"amount": 100.00, "status": "pending"}

	got := d.Detect(entity.TypePayment, local, external)
	if !slices.Equal(got, []string{"status"}) {
		t.Fatalf("Detect() = %v, want [status]", got)
	}

	if got := d.Detect(entity.TypePayment, local, local.Clone()); len(got) != 0 {
		t.Fatalf("identical snapshots: Detect() = %v, want empty", got)
	}
}

func TestDetector_TypeAwareEquality(t *testing.T) {
	d := NewDetector(entity.BuiltinSchemas())
	paid := time.Date(2026, 3, 1, 12, 30, 15, 0, time.UTC)

	tests := []struct {
		name     string
		typ      string
		local    entity.Snapshot
		external entity.Snapshot
		want     []string
	}{
		{
			name:     "currency within half cent",
			typ:      entity.TypePayment,
			local:    entity.Snapshot{"amount": 100.00},
			external: entity.Snapshot{"amount": 100.004},
		},
		{
			name:     "currency one cent apart",
			typ:      entity.TypePayment,
			local:    entity.Snapshot{"amount": 100.00},
			external: entity.Snapshot{"amount": 100.01},
			want:     []string{"amount"},
		},
		{
			name:     "currency as string",
			typ:      entity.TypeExpense,
			local:    entity.Snapshot{"amount": 42.5},
			external: entity.Snapshot{"amount": "42.50"},
		},
		{
			name:     "timestamp sub-second drift",
			typ:      entity.TypePayment,
			local:    entity.Snapshot{"paid_at": paid.Add(300 * time.Millisecond)},
			external: entity.Snapshot{"paid_at": "2026-03-01T12:30:15Z"},
		},
		{
			name:     "timestamp as unix seconds",
			typ:      entity.TypePayment,
			local:    entity.Snapshot{"paid_at": paid},
			external: entity.Snapshot{"paid_at": float64(paid.Unix())},
		},
		{
			name:     "timestamp one second apart",
			typ:      entity.TypePayment,
			local:    entity.Snapshot{"paid_at": paid},
			external: entity.Snapshot{"paid_at": paid.Add(time.Second)},
			want:     []string{"paid_at"},
		},
		{
			name:     "strings trimmed",
			typ:      entity.TypeInvoice,
			local:    entity.Snapshot{"notes": "  net 30 "},
			external: entity.Snapshot{"notes": "net 30"},
		},
		{
			name:     "bool from string",
			typ:      entity.TypeInvoice,
			local:    entity.Snapshot{"paid": true},
			external: entity.Snapshot{"paid": "true"},
		},
		{
			name:     "ignored bookkeeping fields",
			typ:      entity.TypeInvoice,
			local:    entity.Snapshot{"id": "loc-1", "updated_at": "2026-01-01T00:00:00Z", "total": 10.0},
			external: entity.Snapshot{"id": "ext-9", "updated_at": "2026-02-01T00:00:00Z", "total": 10.0},
		},
		{
			name:     "absent equals null",
			typ:      entity.TypeExpense,
			local:    entity.Snapshot{"vendor": nil},
			external: entity.Snapshot{},
		},
		{
			name:     "present on one side only",
			typ:      entity.TypeExpense,
			local:    entity.Snapshot{"vendor": "ACME"},
			external: entity.Snapshot{},
			want:     []string{"vendor"},
		},
		{
			name:     "unknown field inferred nested",
			typ:      "timesheet",
			local:    entity.Snapshot{"meta": map[string]any{"a": 1.0, "b": "x"}},
			external: entity.Snapshot{"meta": map[string]any{"b": "x", "a": 1.0}},
		},
		{
			name:     "unknown entity type field on one side",
			typ:      "timesheet",
			local:    entity.Snapshot{"hours": 7.5, "note": "late"},
			external: entity.Snapshot{"hours": 7.5},
			want:     []string{"note"},
		},
		{
			name:     "unknown entity type",
			typ:      "timesheet",
			local:    entity.Snapshot{"hours": 7.5, "who": "ana"},
			external: entity.Snapshot{"hours": 8.0, "who": "ana"},
			want:     []string{"hours"},
		},
		{
			name:     "sorted output",
			typ:      entity.TypeInvoice,
			local:    entity.Snapshot{"total": 1.0, "status": "open", "currency": "EUR"},
			external: entity.Snapshot{"total": 2.0, "status": "paid", "currency": "USD"},
			want:     []string{"currency", "status", "total"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.typ, tt.local, tt.external)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Local tables carry columns the vendor never sees and vendors echo their
// own bookkeeping; neither is part of a declared schema.
func TestDetector_UndeclaredFieldsIgnored(t *testing.T) {
	d := NewDetector(entity.BuiltinSchemas())

	local := entity.Snapshot{
		"amount":        100.00,
		"status":        "paid",
		"internal_note": "checked by finance",
		"tenant_id":     "t-7",
	}
	external := entity.Snapshot{
		"id":     "ext-1",
		"amount": 100.00,
		"status": "paid",
		"object": "payment",
		"url":    "https://ledger.example.com/payments/ext-1",
	}

	if got := d.Detect(entity.TypePayment, local, external); len(got) != 0 {
		t.Fatalf("Detect() = %v, want empty", got)
	}

	external["status"] = "refunded"
	external["object"] = "refund"
	if got := d.Detect(entity.TypePayment, local, external); !slices.Equal(got, []string{"status"}) {
		t.Fatalf("Detect() = %v, want [status]", got)
	}
}

func TestDetector_Deterministic(t *testing.T) {
	d := NewDetector(entity.BuiltinSchemas())
	local := entity.Snapshot{"total": 1.0, "status": "open", "notes": "a", "tax": 0.2}
	external := entity.Snapshot{"total": 3.0, "status": "void", "notes": "b", "tax": 0.2}

	first := d.Detect(entity.TypeInvoice, local, external)
	for range 20 {
		if got := d.Detect(entity.TypeInvoice, local, external); !slices.Equal(got, first) {
			t.Fatalf("non-deterministic result: %v vs %v", got, first)
		}
	}
}
