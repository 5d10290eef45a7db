package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/syncbridge/internal/config"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/domain/system"
	"github.com/Strob0t/syncbridge/internal/domain/webhook"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/port/notifier"
	"github.com/Strob0t/syncbridge/internal/resilience"
)

// fakeAdapter is an in-memory accounting system. It records every call and
// tracks how many calls per entity overlap.
type fakeAdapter struct {
	mu       sync.Mutex
	external map[string]entity.Snapshot // by external id
	seq      int
	pushes   []adapter.PushRequest
	pulls    []adapter.PullRequest

	inFlight    map[string]int
	maxOverlap  int
	delay       time.Duration
	pushErr     func(n int) error // n is the 1-based push number
	pullErr     func(n int) error
	pushPanic   bool
	connected   bool
	emptyPushID bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{external: make(map[string]entity.Snapshot), inFlight: make(map[string]int), connected: true}
}

func (f *fakeAdapter) enter(key string) {
	f.mu.Lock()
	f.inFlight[key]++
	f.maxOverlap = max(f.maxOverlap, f.inFlight[key])
	f.mu.Unlock()
}

func (f *fakeAdapter) leave(key string) {
	f.mu.Lock()
	f.inFlight[key]--
	f.mu.Unlock()
}

func (f *fakeAdapter) Push(ctx context.Context, req adapter.PushRequest) (adapter.PushResult, error) {
	key := req.EntityType + "/" + req.EntityID
	f.enter(key)
	defer f.leave(key)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return adapter.PushResult{}, adapter.Transient(ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, req)
	if f.pushPanic {
		panic("vendor sdk exploded")
	}
	if f.pushErr != nil {
		if err := f.pushErr(len(f.pushes)); err != nil {
			return adapter.PushResult{}, err
		}
	}
	if f.emptyPushID {
		return adapter.PushResult{}, nil
	}
	id := req.ExternalID
	if id == "" {
		f.seq++
		id = fmt.Sprintf("ext-%d", f.seq)
	}
	f.external[id] = req.Data.Clone()
	return adapter.PushResult{ExternalID: id}, nil
}

func (f *fakeAdapter) Pull(_ context.Context, req adapter.PullRequest) (entity.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, req)
	if f.pullErr != nil {
		if err := f.pullErr(len(f.pulls)); err != nil {
			return nil, err
		}
	}
	snap, ok := f.external[req.ExternalID]
	if !ok {
		return nil, adapter.Permanent(fmt.Errorf("external record %s not found", req.ExternalID))
	}
	return snap.Clone(), nil
}

func (f *fakeAdapter) TestConnection(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeAdapter) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulls)
}

func (f *fakeAdapter) lastPush() adapter.PushRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

func (f *fakeAdapter) setExternal(id string, snap entity.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.external[id] = snap.Clone()
}

func (f *fakeAdapter) externalCopy(id string) entity.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.external[id].Clone()
}

// normalizingAdapter adds a vendor webhook format: {"obj":{"ref":"..."}}.
type normalizingAdapter struct {
	*fakeAdapter
}

func (n normalizingAdapter) NormalizeWebhook(_ http.Header, body []byte) (webhook.ChangeNotification, error) {
	var p struct {
		Obj struct {
			Ref string `json:"ref"`
		} `json:"obj"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return webhook.ChangeNotification{}, err
	}
	return webhook.ChangeNotification{ExternalID: p.Obj.Ref, ChangeType: webhook.ChangeUpdated, DeliveryID: p.Event}, nil
}

// recordingBroadcaster implements broadcast.Broadcaster.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	b.mu.Lock()
	b.events = append(b.events, eventType)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

const fakeVendor = "fake"

// harness wires an orchestrator to in-memory fakes through the real
// registry and adapter guard.
type harness struct {
	t        *testing.T
	store    *memStore
	entities *memEntities
	registry *adapter.Registry
	breakers *resilience.BreakerSet
	hub      *recordingBroadcaster
	notes    *mockNotifier
	orch     *Orchestrator

	mu       sync.Mutex
	adapters map[string]*fakeAdapter
	vendors  map[string]func(*fakeAdapter) adapter.Adapter
	clock    time.Time
}

func testSyncConfig() config.Sync {
	return config.Sync{
		Workers:              4,
		BatchSize:            100,
		CallTimeout:          2 * time.Second,
		ClaimLease:           time.Minute,
		WakeDebounce:         0,
		AutoSync:             true,
		IntervalSeconds:      60,
		MaxRetries:           3,
		RetryDelaySeconds:    10,
		RetryMaxDelaySeconds: 3600,
		ConflictResolution:   string(syncpolicy.ConflictManual),
		EnabledEntityTypes:   []string{entity.TypePayment, entity.TypeInvoice},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testSyncConfig()
	h := &harness{
		t:        t,
		store:    newMemStore(),
		entities: newMemEntities(),
		breakers: NewSystemBreakers(100, time.Minute),
		hub:      &recordingBroadcaster{},
		notes:    &mockNotifier{name: "test"},
		adapters: make(map[string]*fakeAdapter),
		vendors:  make(map[string]func(*fakeAdapter) adapter.Adapter),
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	pol := PolicyFromConfig(cfg)
	h.store.policy = &pol

	catalog := adapter.NewCatalog()
	catalog.Register(fakeVendor, func(sys system.ExternalSystem, _ string) (adapter.Adapter, error) {
		return h.adapterFor(sys.ID), nil
	})
	guard := NewAdapterGuard(h.breakers, cfg.CallTimeout, nil)
	h.registry = adapter.NewRegistry(catalog, nil, guard.Wrap)

	h.orch = NewOrchestrator(h.store, h.entities, h.registry, conflict.NewDetector(entity.BuiltinSchemas()), cfg)
	h.orch.now = h.now
	h.orch.SetNotifications(NewNotificationService([]notifier.Notifier{h.notes}, nil))
	h.orch.SetEvents(NewSyncEvents(nil, h.hub))
	return h
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.clock = h.clock.Add(d)
	h.mu.Unlock()
}

func (h *harness) adapterFor(systemID string) adapter.Adapter {
	h.mu.Lock()
	defer h.mu.Unlock()
	fa, ok := h.adapters[systemID]
	if !ok {
		fa = newFakeAdapter()
		h.adapters[systemID] = fa
	}
	if wrap, ok := h.vendors[systemID]; ok {
		return wrap(fa)
	}
	return fa
}

// fake returns the backing fake of a system, creating it when needed.
func (h *harness) fake(systemID string) *fakeAdapter {
	h.adapterFor(systemID)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.adapters[systemID]
}

// addSystem stores and registers a system of the fake vendor.
func (h *harness) addSystem(id string, active bool) system.ExternalSystem {
	h.t.Helper()
	sys := system.ExternalSystem{ID: id, Name: id, Type: fakeVendor, BaseURL: "https://" + id + ".example.com", IsActive: active}
	if err := h.store.CreateExternalSystem(context.Background(), &sys); err != nil {
		h.t.Fatalf("create system: %v", err)
	}
	if err := h.registry.Register(sys); err != nil {
		h.t.Fatalf("register system: %v", err)
	}
	return sys
}

// track creates a pending record for a local payment.
func (h *harness) track(entityID, systemID string, data entity.Snapshot) syncrecord.Record {
	h.t.Helper()
	h.entities.put(entity.TypePayment, entityID, data)
	rec, _, err := h.store.EnsureSyncRecord(context.Background(), syncrecord.Key{
		EntityType:       entity.TypePayment,
		EntityID:         entityID,
		ExternalSystemID: systemID,
	})
	if err != nil {
		h.t.Fatalf("ensure record: %v", err)
	}
	return *rec
}

func (h *harness) setPolicy(fn func(p *syncpolicy.SyncPolicy)) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	fn(h.store.policy)
}

func (h *harness) pass() PassResult {
	h.t.Helper()
	res, err := h.orch.RunPass(context.Background())
	if err != nil {
		h.t.Fatalf("RunPass: %v", err)
	}
	return res
}

func paidPayment() entity.Snapshot {
	return entity.Snapshot{"amount": 100.00, "currency": "EUR", "status": "paid"}
}
