package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/domain/system"
	"github.com/Strob0t/syncbridge/internal/domain/webhook"
	"github.com/Strob0t/syncbridge/internal/middleware"
	"github.com/Strob0t/syncbridge/internal/service"
)

const defaultBodyLimit = 1 << 20 // 1 MB

// SystemService manages external system registrations.
type SystemService interface {
	List(ctx context.Context) ([]system.ExternalSystem, error)
	Get(ctx context.Context, id string) (*system.ExternalSystem, error)
	Create(ctx context.Context, req system.CreateRequest) (*system.ExternalSystem, error)
	Update(ctx context.Context, id string, req system.UpdateRequest) (*system.ExternalSystem, error)
	Delete(ctx context.Context, id string) error
	TestConnection(ctx context.Context, id string) (bool, error)
	BreakerStates() map[string]string
}

// ConflictService lists and resolves conflicts.
type ConflictService interface {
	List(ctx context.Context, filter conflict.ListFilter) ([]conflict.Conflict, error)
	Get(ctx context.Context, id string) (*conflict.Conflict, error)
	Resolve(ctx context.Context, id string, req conflict.ResolveRequest) (*conflict.Conflict, error)
}

// RecordService reads sync records.
type RecordService interface {
	List(ctx context.Context, filter syncrecord.ListFilter) ([]syncrecord.Record, error)
	Get(ctx context.Context, id string) (*syncrecord.Record, error)
}

// TriggerService enqueues entities for synchronization.
type TriggerService interface {
	Trigger(ctx context.Context, req syncrecord.TriggerRequest) ([]service.TriggerResult, error)
	Backfill(ctx context.Context, entityType string) (service.BackfillResult, error)
}

// PolicyService reads and updates the sync policy.
type PolicyService interface {
	Get(ctx context.Context) (*syncpolicy.SyncPolicy, error)
	Update(ctx context.Context, req syncpolicy.UpdateRequest) (*syncpolicy.SyncPolicy, error)
}

// PassRunner runs one scheduling pass on demand.
type PassRunner interface {
	RunPass(ctx context.Context) (service.PassResult, error)
}

// WebhookService accepts change notifications from external systems.
type WebhookService interface {
	Ingest(ctx context.Context, systemID string, header http.Header, body []byte) (webhook.IngestResult, error)
	WebhookSecret(systemID string) (string, system.ExternalSystem, error)
}

// Handlers holds the HTTP handlers for the syncbridge admin API.
type Handlers struct {
	Systems   SystemService
	Conflicts ConflictService
	Records   RecordService
	Triggers  TriggerService
	Policy    PolicyService
	Passes    PassRunner
	Webhooks  WebhookService
	BodyLimit int64
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return defaultBodyLimit
}

// --- External systems ---

// ListSystems handles GET /api/v1/systems
func (h *Handlers) ListSystems(w http.ResponseWriter, r *http.Request) {
	handleList(h.Systems.List)(w, r)
}

// GetSystem handles GET /api/v1/systems/{id}
func (h *Handlers) GetSystem(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Systems.Get, "external system not found")(w, r)
}

// CreateSystem handles POST /api/v1/systems
func (h *Handlers) CreateSystem(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.bodyLimit(), h.Systems.Create)(w, r)
}

// UpdateSystem handles PUT /api/v1/systems/{id}
func (h *Handlers) UpdateSystem(w http.ResponseWriter, r *http.Request) {
	handleUpdate(h.bodyLimit(), h.Systems.Update, "external system not found")(w, r)
}

// DeleteSystem handles DELETE /api/v1/systems/{id}
func (h *Handlers) DeleteSystem(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Systems.Delete, "external system not found")(w, r)
}

type connectionTestResponse struct {
	ExternalSystemID string `json:"external_system_id"`
	OK               bool   `json:"ok"`
}

// TestSystemConnection handles POST /api/v1/systems/{id}/test
func (h *Handlers) TestSystemConnection(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	ok, err := h.Systems.TestConnection(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "external system not found")
		return
	}
	writeJSON(w, http.StatusOK, connectionTestResponse{ExternalSystemID: id, OK: ok})
}

// BreakerStates handles GET /api/v1/breakers
func (h *Handlers) BreakerStates(w http.ResponseWriter, _ *http.Request) {
	states := h.Systems.BreakerStates()
	if states == nil {
		states = map[string]string{}
	}
	writeJSON(w, http.StatusOK, states)
}

// --- Conflicts ---

// ListConflicts handles GET /api/v1/conflicts?state=&external_system_id=&limit=
func (h *Handlers) ListConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state, err := conflict.ParseState(q.Get("state"))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := h.Conflicts.List(r.Context(), conflict.ListFilter{
		State:            state,
		ExternalSystemID: q.Get("external_system_id"),
		Limit:            limit,
	})
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if list == nil {
		list = []conflict.Conflict{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetConflict handles GET /api/v1/conflicts/{id}
func (h *Handlers) GetConflict(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Conflicts.Get, "conflict not found")(w, r)
}

// ResolveConflict handles POST /api/v1/conflicts/{id}/resolve
func (h *Handlers) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[conflict.ResolveRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	c, err := h.Conflicts.Resolve(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			writeError(w, http.StatusConflict, "conflict is already resolved")
			return
		}
		writeDomainError(w, err, "conflict not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- Sync records ---

// ListRecords handles GET /api/v1/records?entity_type=&entity_id=&external_system_id=&status=&limit=
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := h.Records.List(r.Context(), syncrecord.ListFilter{
		EntityType:       q.Get("entity_type"),
		EntityID:         q.Get("entity_id"),
		ExternalSystemID: q.Get("external_system_id"),
		Status:           syncrecord.Status(q.Get("status")),
		Limit:            limit,
	})
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if list == nil {
		list = []syncrecord.Record{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetRecord handles GET /api/v1/records/{id}
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Records.Get, "sync record not found")(w, r)
}

// --- Sync control ---

// TriggerSync handles POST /api/v1/sync/trigger
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[syncrecord.TriggerRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	res, err := h.Triggers.Trigger(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "external system not found")
		return
	}
	if res == nil {
		res = []service.TriggerResult{}
	}
	writeJSON(w, http.StatusAccepted, res)
}

type backfillRequest struct {
	EntityType string `json:"entity_type"`
}

// Backfill handles POST /api/v1/sync/backfill
func (h *Handlers) Backfill(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[backfillRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if !requireField(w, req.EntityType, "entity_type") {
		return
	}
	res, err := h.Triggers.Backfill(r.Context(), req.EntityType)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// RunPass handles POST /api/v1/sync/run
func (h *Handlers) RunPass(w http.ResponseWriter, r *http.Request) {
	res, err := h.Passes.RunPass(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Policy ---

// GetPolicy handles GET /api/v1/policy
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policy.Get(r.Context())
	if err != nil {
		writeDomainError(w, err, "sync policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePolicy handles PUT /api/v1/policy
func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[syncpolicy.UpdateRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	p, err := h.Policy.Update(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "sync policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Webhooks ---

// ReceiveWebhook handles POST /api/v1/webhooks/{systemID}. The signature
// middleware has already bounded and verified the body.
func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	systemID := urlParam(r, "systemID")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	res, err := h.Webhooks.Ingest(r.Context(), systemID, r.Header, body)
	if err != nil {
		writeDomainError(w, err, "unknown webhook source")
		return
	}
	slog.Debug("webhook accepted",
		"external_system_id", systemID,
		"disposition", res.Disposition,
		"sync_record_id", res.SyncRecordID,
	)
	writeJSON(w, http.StatusAccepted, res)
}

// webhookSecret resolves the signing configuration of the system addressed
// by the webhook path.
func (h *Handlers) webhookSecret(r *http.Request) (middleware.WebhookSecret, error) {
	secret, sys, err := h.Webhooks.WebhookSecret(urlParam(r, "systemID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return middleware.WebhookSecret{}, middleware.ErrUnknownWebhookSource
		}
		return middleware.WebhookSecret{}, err
	}
	return middleware.WebhookSecret{
		Secret: secret,
		Mode:   sys.Config[system.ConfigWebhookMode],
		Header: sys.Config[system.ConfigWebhookHeader],
	}, nil
}
