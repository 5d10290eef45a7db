package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/domain/system"
	"github.com/Strob0t/syncbridge/internal/port/broadcast"
)

func ptr[T any](v T) *T { return &v }

func TestSystemService_Lifecycle(t *testing.T) {
	h := newHarness(t)
	svc := NewSystemService(h.store, h.registry, h.breakers, NewSyncEvents(nil, h.hub))
	ctx := context.Background()

	sys, err := svc.Create(ctx, system.CreateRequest{Name: "Books", Type: fakeVendor, BaseURL: "https://books.example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !sys.IsActive || sys.ID == "" {
		t.Fatalf("created = %+v", sys)
	}
	if ids := h.registry.ActiveSystemIDs(); !slices.Equal(ids, []string{sys.ID}) {
		t.Errorf("active systems = %v", ids)
	}

	ok, err := svc.TestConnection(ctx, sys.ID)
	if err != nil || !ok {
		t.Errorf("TestConnection = %v, %v", ok, err)
	}

	// Reconfiguring drops the system's breaker state.
	h.breakers.Get(sys.ID)
	updated, err := svc.Update(ctx, sys.ID, system.UpdateRequest{IsActive: ptr(false)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.IsActive {
		t.Error("update not applied")
	}
	if _, known := svc.BreakerStates()[sys.ID]; known {
		t.Error("breaker not reset on update")
	}
	if len(h.registry.ActiveSystemIDs()) != 0 {
		t.Error("deactivated system still active in registry")
	}

	if err := svc.Delete(ctx, sys.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.registry.Resolve(sys.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted system still registered: %v", err)
	}
	if _, err := svc.TestConnection(ctx, sys.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("TestConnection on deleted system = %v", err)
	}
	if n := len(slices.DeleteFunc(h.hub.types(), func(s string) bool { return s != broadcast.EventSystemChanged })); n != 3 {
		t.Errorf("system.changed broadcasts = %d, want 3", n)
	}
}

func TestSystemService_Validation(t *testing.T) {
	h := newHarness(t)
	svc := NewSystemService(h.store, h.registry, nil, nil)

	tests := []struct {
		name string
		req  system.CreateRequest
	}{
		{"missing name", system.CreateRequest{Type: fakeVendor, BaseURL: "https://x.example.com"}},
		{"unknown vendor", system.CreateRequest{Name: "X", Type: "quickbooks", BaseURL: "https://x.example.com"}},
		{"relative url", system.CreateRequest{Name: "X", Type: fakeVendor, BaseURL: "/api"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.req); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
	if n := len(h.registry.Systems()); n != 0 {
		t.Errorf("invalid systems registered: %d", n)
	}
}

func TestSystemService_LoadRegistry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, s := range []system.ExternalSystem{
		{ID: "a", Name: "a", Type: fakeVendor, BaseURL: "https://a.example.com", IsActive: true},
		{ID: "b", Name: "b", Type: "retired-vendor", BaseURL: "https://b.example.com", IsActive: true},
	} {
		if err := h.store.CreateExternalSystem(ctx, &s); err != nil {
			t.Fatal(err)
		}
	}

	svc := NewSystemService(h.store, h.registry, nil, nil)
	if err := svc.LoadRegistry(ctx); err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if ids := h.registry.ActiveSystemIDs(); !slices.Equal(ids, []string{"a", "b"}) {
		t.Errorf("active = %v", ids)
	}
	if _, err := h.registry.ResolveActive("b"); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("broken system error = %v, want ErrConfiguration", err)
	}
}

func TestPolicyService(t *testing.T) {
	h := newHarness(t)
	h.store.policy = nil
	wakes := 0
	svc := NewPolicyService(h.store, NewSyncEvents(nil, h.hub), func() { wakes++ })
	ctx := context.Background()

	defaults := PolicyFromConfig(testSyncConfig())
	if _, err := svc.Seed(ctx, defaults); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	// Seeding again keeps the stored policy.
	other := defaults
	other.MaxRetries = 9
	p, err := svc.Seed(ctx, other)
	if err != nil || p.MaxRetries != defaults.MaxRetries {
		t.Fatalf("reseed = %+v, %v", p, err)
	}

	p, err = svc.Update(ctx, syncpolicy.UpdateRequest{
		ConflictResolution:  ptr(syncpolicy.ConflictLocalWins),
		SyncIntervalSeconds: ptr(5),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if p.ConflictResolution != syncpolicy.ConflictLocalWins || p.SyncIntervalSeconds != 5 || p.MaxRetries != defaults.MaxRetries {
		t.Errorf("updated = %+v", p)
	}
	if wakes != 1 || !slices.Contains(h.hub.types(), broadcast.EventPolicyChanged) {
		t.Errorf("wakes=%d events=%v", wakes, h.hub.types())
	}

	bad := []syncpolicy.UpdateRequest{
		{SyncIntervalSeconds: ptr(0)},
		{MaxRetries: ptr(-1)},
		{RetryDelaySeconds: ptr(7200)},
		{ConflictResolution: ptr(syncpolicy.ConflictPolicy("newest_wins"))},
	}
	for _, req := range bad {
		if _, err := svc.Update(ctx, req); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Update(%+v) error = %v, want ErrValidation", req, err)
		}
	}
	if got, _ := svc.Get(ctx); got.SyncIntervalSeconds != 5 {
		t.Error("rejected update was persisted")
	}
}

func TestConflictService_ListAndValidate(t *testing.T) {
	h := newHarness(t)
	h.addSystem("books", true)
	rec := h.track("p-1", "books", paidPayment())
	h.pass()
	h.fake("books").setExternal("ext-1", map[string]any{"amount": 100.00, "currency": "EUR", "status": "void"})
	if _, err := h.store.RequeueSyncRecord(context.Background(), rec.ID); err != nil {
		t.Fatal(err)
	}
	h.pass()

	svc := NewConflictService(h.store, nil, nil)
	ctx := context.Background()
	open, err := svc.List(ctx, conflict.ListFilter{})
	if err != nil || len(open) != 1 {
		t.Fatalf("open conflicts = %d, %v", len(open), err)
	}
	if c, err := svc.Get(ctx, open[0].ID); err != nil || c.SyncRecordID != rec.ID {
		t.Errorf("Get = %+v, %v", c, err)
	}

	if _, err := svc.Resolve(ctx, open[0].ID, conflict.ResolveRequest{Resolution: conflict.ResolutionMerge}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("merge without data error = %v", err)
	}
	if _, err := svc.Resolve(ctx, "missing", conflict.ResolveRequest{Resolution: conflict.ResolutionUseLocal}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown conflict error = %v", err)
	}

	if _, err := svc.Resolve(ctx, open[0].ID, conflict.ResolveRequest{Resolution: conflict.ResolutionUseExternal}); err != nil {
		t.Fatal(err)
	}
	if open, _ := svc.List(ctx, conflict.ListFilter{}); len(open) != 0 {
		t.Errorf("open after resolve = %d", len(open))
	}
	if resolved, _ := svc.List(ctx, conflict.ListFilter{State: conflict.StateResolved}); len(resolved) != 1 {
		t.Errorf("resolved = %d", len(resolved))
	}
}

func TestRecordService(t *testing.T) {
	h := newHarness(t)
	h.addSystem("books", true)
	h.track("p-1", "books", paidPayment())
	h.track("p-2", "books", paidPayment())
	h.fake("books").pushErr = func(n int) error {
		if n == 2 {
			return errors.New("timeout")
		}
		return nil
	}
	h.pass()

	svc := NewRecordService(h.store)
	ctx := context.Background()
	failed, err := svc.List(ctx, syncrecord.ListFilter{Status: syncrecord.StatusFailed})
	if err != nil || len(failed) != 1 {
		t.Fatalf("failed records = %d, %v", len(failed), err)
	}
	if got, err := svc.Get(ctx, failed[0].ID); err != nil || got.RetryCount != 1 {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if _, err := svc.List(ctx, syncrecord.ListFilter{Status: "stuck"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("invalid status error = %v", err)
	}
}
