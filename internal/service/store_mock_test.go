package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/domain/system"
	"github.com/Strob0t/syncbridge/internal/port/database"
)

// memStore is an in-memory database.Store with the same claim and
// compare-and-set semantics as the postgres store.
type memStore struct {
	mu        sync.Mutex
	records   map[string]*syncrecord.Record
	conflicts map[string]*conflict.Conflict
	systems   map[string]*system.ExternalSystem
	policy    *syncpolicy.SyncPolicy
	seq       int

	policyErr error
	completed int
}

var _ database.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		records:   make(map[string]*syncrecord.Record),
		conflicts: make(map[string]*conflict.Conflict),
		systems:   make(map[string]*system.ExternalSystem),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%04d", prefix, m.seq)
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
}

func copyRecord(r *syncrecord.Record) *syncrecord.Record {
	c := *r
	return &c
}

// --- test helpers ---

func (m *memStore) record(id string) syncrecord.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[id]
}

func (m *memStore) mutate(id string, fn func(r *syncrecord.Record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.records[id])
}

func (m *memStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memStore) openConflicts() []conflict.Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conflict.Conflict
	for _, c := range m.conflicts {
		if c.Open() {
			out = append(out, *c)
		}
	}
	return out
}

// --- sync records ---

func (m *memStore) GetSyncRecord(_ context.Context, id string) (*syncrecord.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, notFound("sync record", id)
	}
	return copyRecord(r), nil
}

func (m *memStore) GetSyncRecordByKey(_ context.Context, key syncrecord.Key) (*syncrecord.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Key() == key {
			return copyRecord(r), nil
		}
	}
	return nil, notFound("sync record", key.EntityID)
}

func (m *memStore) FindSyncRecordByExternalID(_ context.Context, systemID, externalID string) (*syncrecord.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if externalID == "" {
		return nil, notFound("external id", externalID)
	}
	for _, r := range m.records {
		if r.ExternalSystemID == systemID && r.ExternalID == externalID {
			return copyRecord(r), nil
		}
	}
	return nil, notFound("external id", externalID)
}

func (m *memStore) ListSyncRecords(_ context.Context, f syncrecord.ListFilter) ([]syncrecord.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []syncrecord.Record{}
	for _, r := range m.records {
		if (f.EntityType != "" && r.EntityType != f.EntityType) ||
			(f.EntityID != "" && r.EntityID != f.EntityID) ||
			(f.ExternalSystemID != "" && r.ExternalSystemID != f.ExternalSystemID) ||
			(f.Status != "" && r.Status != f.Status) {
			continue
		}
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b syncrecord.Record) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *memStore) EnsureSyncRecord(_ context.Context, key syncrecord.Key) (*syncrecord.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Key() == key {
			return copyRecord(r), false, nil
		}
	}
	now := time.Now()
	r := &syncrecord.Record{
		ID:               m.nextID("rec"),
		EntityType:       key.EntityType,
		EntityID:         key.EntityID,
		ExternalSystemID: key.ExternalSystemID,
		Status:           syncrecord.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.records[r.ID] = r
	return copyRecord(r), true, nil
}

func (m *memStore) RequeueSyncRecord(_ context.Context, id string) (syncrecord.RequeueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return "", notFound("sync record", id)
	}
	r.Version++
	switch r.Status {
	case syncrecord.StatusInProgress:
		r.Dirty = true
		return syncrecord.RequeueDirty, nil
	case syncrecord.StatusConflict:
		return syncrecord.RequeueBlocked, nil
	default:
		r.Status = syncrecord.StatusPending
		r.RetryCount = 0
		r.NextRetryAt = nil
		return syncrecord.RequeuePending, nil
	}
}

func (m *memStore) ClaimDueSyncRecords(_ context.Context, p database.ClaimParams) ([]syncrecord.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := []syncrecord.Record{}
	for _, id := range ids {
		if len(out) >= p.Limit {
			break
		}
		r := m.records[id]
		if !slices.Contains(p.EntityTypes, r.EntityType) || !slices.Contains(p.SystemIDs, r.ExternalSystemID) || slices.Contains(p.Exclude, id) {
			continue
		}
		stale := r.Status == syncrecord.StatusInProgress && r.ClaimedAt != nil && r.ClaimedAt.Before(p.Now.Add(-p.Lease))
		if !r.Due(p.Now) && !stale {
			continue
		}
		now := p.Now
		r.Status = syncrecord.StatusInProgress
		r.ClaimToken = uuid.NewString()
		r.ClaimedAt = &now
		r.Dirty = false
		r.Version++
		out = append(out, *r)
	}
	return out, nil
}

func (m *memStore) CompleteSyncRecord(_ context.Context, id, claimToken string, out syncrecord.Outcome, open *conflict.Conflict) (*syncrecord.Record, error) {
	if err := out.CheckOutcome(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if out.Status == syncrecord.StatusConflict && open == nil {
		return nil, fmt.Errorf("conflict outcome without conflict: %w", domain.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.ClaimToken != claimToken || r.Status != syncrecord.StatusInProgress {
		return nil, fmt.Errorf("complete sync record %s: claim lost: %w", id, domain.ErrConflict)
	}

	r.ConflictID = ""
	if out.Status == syncrecord.StatusConflict {
		var existing *conflict.Conflict
		for _, c := range m.conflicts {
			if c.SyncRecordID == id && c.Open() {
				existing = c
			}
		}
		now := time.Now()
		if existing == nil {
			open.ID = m.nextID("conf")
			open.CreatedAt = now
			existing = &conflict.Conflict{ID: open.ID, SyncRecordID: id, CreatedAt: now}
			m.conflicts[open.ID] = existing
		}
		open.ID = existing.ID
		existing.EntityType, existing.EntityID, existing.ExternalSystemID = r.EntityType, r.EntityID, r.ExternalSystemID
		existing.LocalData = open.LocalData.Clone()
		existing.ExternalData = open.ExternalData.Clone()
		existing.ConflictFields = slices.Clone(open.ConflictFields)
		existing.UpdatedAt = now
		r.ConflictID = existing.ID
	}

	r.Status, r.RetryCount, r.NextRetryAt = out.Status, out.RetryCount, out.NextRetryAt
	if r.Dirty && out.Status != syncrecord.StatusConflict {
		r.Status, r.RetryCount, r.NextRetryAt = syncrecord.StatusPending, 0, nil
	}
	if out.ExternalID != "" {
		r.ExternalID = out.ExternalID
	}
	r.ErrorMessage = out.ErrorMessage
	if out.LastSyncAt != nil {
		r.LastSyncAt = out.LastSyncAt
	}
	if !out.KeepResolution {
		r.ResolutionID = ""
	}
	r.Dirty = false
	r.ClaimToken = ""
	r.ClaimedAt = nil
	r.Version++
	r.UpdatedAt = time.Now()
	m.completed++
	return copyRecord(r), nil
}

// --- conflicts ---

func (m *memStore) GetConflict(_ context.Context, id string) (*conflict.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return nil, notFound("conflict", id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListConflicts(_ context.Context, f conflict.ListFilter) ([]conflict.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []conflict.Conflict{}
	for _, c := range m.conflicts {
		if (f.State == conflict.StateOpen && !c.Open()) || (f.State == conflict.StateResolved && c.Open()) {
			continue
		}
		if f.ExternalSystemID != "" && c.ExternalSystemID != f.ExternalSystemID {
			continue
		}
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b conflict.Conflict) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *memStore) ResolveConflict(_ context.Context, id string, req conflict.ResolveRequest) (*conflict.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return nil, notFound("conflict", id)
	}
	if !c.Open() {
		return nil, fmt.Errorf("resolve conflict %s: already resolved: %w", id, domain.ErrConflict)
	}
	r, ok := m.records[c.SyncRecordID]
	if !ok || r.Status != syncrecord.StatusConflict || r.ConflictID != id {
		return nil, fmt.Errorf("release sync record: %w", domain.ErrConflict)
	}
	now := time.Now()
	c.ResolvedAt = &now
	c.Resolution = req.Resolution
	c.ResolvedData = req.ResolvedData.Clone()
	c.ResolvedBy = req.ResolvedBy
	c.UpdatedAt = now

	r.Status = syncrecord.StatusPending
	r.ResolutionID = id
	r.ConflictID = ""
	r.RetryCount = 0
	r.NextRetryAt = nil
	r.ErrorMessage = ""
	r.Version++

	cp := *c
	return &cp, nil
}

// --- external systems ---

func (m *memStore) ListExternalSystems(_ context.Context) ([]system.ExternalSystem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []system.ExternalSystem{}
	for _, s := range m.systems {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b system.ExternalSystem) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *memStore) GetExternalSystem(_ context.Context, id string) (*system.ExternalSystem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.systems[id]
	if !ok {
		return nil, notFound("external system", id)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) CreateExternalSystem(_ context.Context, sys *system.ExternalSystem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sys.ID == "" {
		sys.ID = m.nextID("sys")
	}
	if _, exists := m.systems[sys.ID]; exists {
		return fmt.Errorf("create external system %s: %w", sys.ID, domain.ErrConflict)
	}
	sys.CreatedAt = time.Now()
	sys.UpdatedAt = sys.CreatedAt
	cp := *sys
	m.systems[sys.ID] = &cp
	return nil
}

func (m *memStore) UpdateExternalSystem(_ context.Context, sys *system.ExternalSystem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.systems[sys.ID]; !ok {
		return notFound("external system", sys.ID)
	}
	sys.UpdatedAt = time.Now()
	cp := *sys
	m.systems[sys.ID] = &cp
	return nil
}

func (m *memStore) DeleteExternalSystem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.systems[id]; !ok {
		return notFound("external system", id)
	}
	delete(m.systems, id)
	return nil
}

// --- policy ---

func (m *memStore) GetSyncPolicy(_ context.Context) (*syncpolicy.SyncPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policyErr != nil {
		return nil, m.policyErr
	}
	if m.policy == nil {
		return nil, notFound("sync policy", "1")
	}
	p := m.policy.Snapshot()
	return &p, nil
}

func (m *memStore) EnsureSyncPolicy(ctx context.Context, defaults syncpolicy.SyncPolicy) (*syncpolicy.SyncPolicy, error) {
	m.mu.Lock()
	if m.policy == nil {
		p := defaults.Snapshot()
		m.policy = &p
	}
	m.mu.Unlock()
	return m.GetSyncPolicy(ctx)
}

func (m *memStore) SaveSyncPolicy(_ context.Context, p *syncpolicy.SyncPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = time.Now()
	cp := p.Snapshot()
	m.policy = &cp
	return nil
}

// --- local entity store ---

// memEntities is an in-memory entitystore.Repository.
type memEntities struct {
	mu      sync.Mutex
	rows    map[string]map[string]entity.Snapshot
	updates []string
}

func newMemEntities() *memEntities {
	return &memEntities{rows: make(map[string]map[string]entity.Snapshot)}
}

func (e *memEntities) put(entityType, id string, snap entity.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rows[entityType] == nil {
		e.rows[entityType] = make(map[string]entity.Snapshot)
	}
	e.rows[entityType][id] = snap.Clone()
}

func (e *memEntities) get(entityType, id string) entity.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rows[entityType][id].Clone()
}

func (e *memEntities) updateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.updates)
}

func (e *memEntities) Get(_ context.Context, entityType, id string) (entity.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.rows[entityType][id]
	if !ok {
		return nil, notFound(entityType, id)
	}
	return s.Clone(), nil
}

func (e *memEntities) List(_ context.Context, entityType string, f entity.Filter) ([]entity.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.rows[entityType]))
	for id := range e.rows[entityType] {
		if id > f.AfterID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if f.Limit > 0 && len(ids) > f.Limit {
		ids = ids[:f.Limit]
	}
	out := make([]entity.Snapshot, 0, len(ids))
	for _, id := range ids {
		s := e.rows[entityType][id].Clone()
		s["id"] = id
		out = append(out, s)
	}
	return out, nil
}

func (e *memEntities) Update(_ context.Context, entityType, id string, data entity.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.rows[entityType][id]
	if !ok {
		return notFound(entityType, id)
	}
	for k, v := range data {
		if k == "id" {
			continue
		}
		cur[k] = v
	}
	e.updates = append(e.updates, entityType+"/"+id)
	return nil
}
