package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sbotel "github.com/Strob0t/syncbridge/internal/adapter/otel"
	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/domain/system"
	"github.com/Strob0t/syncbridge/internal/domain/webhook"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/port/database"
)

// HeaderDeliveryID is read by the generic normalizer when the payload does
// not carry a delivery id.
const HeaderDeliveryID = "X-Delivery-ID"

// Deduper remembers webhook deliveries.
type Deduper interface {
	// Seen reports whether key was recorded before and records it otherwise.
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// CredentialResolver resolves a secret reference through the vault.
type CredentialResolver func(ref string) (string, error)

// WebhookService turns vendor change notifications into re-sync requests.
type WebhookService struct {
	store     database.Store
	registry  *adapter.Registry
	dedupe    Deduper
	dedupeTTL time.Duration
	secrets   CredentialResolver
	wake      func()
	metrics   *sbotel.Metrics
	now       func() time.Time
}

// NewWebhookService creates the ingest service. dedupe, secrets and wake may
// be nil.
func NewWebhookService(store database.Store, registry *adapter.Registry, dedupe Deduper, dedupeTTL time.Duration, secrets CredentialResolver, wake func()) *WebhookService {
	return &WebhookService{
		store:     store,
		registry:  registry,
		dedupe:    dedupe,
		dedupeTTL: dedupeTTL,
		secrets:   secrets,
		wake:      wake,
		now:       time.Now,
	}
}

// SetMetrics sets the otel instruments.
func (s *WebhookService) SetMetrics(m *sbotel.Metrics) { s.metrics = m }

// WebhookSecret returns the system's webhook secret and the system itself
// for signature settings. An empty secret disables verification.
func (s *WebhookService) WebhookSecret(systemID string) (string, system.ExternalSystem, error) {
	sys, err := s.system(systemID)
	if err != nil {
		return "", sys, err
	}
	if sys.WebhookSecretRef == "" || s.secrets == nil {
		return "", sys, nil
	}
	secret, err := s.secrets(sys.WebhookSecretRef)
	if err != nil {
		return "", sys, fmt.Errorf("resolve webhook secret for system %s: %w", systemID, err)
	}
	return secret, sys, nil
}

func (s *WebhookService) system(systemID string) (system.ExternalSystem, error) {
	for _, sys := range s.registry.Systems() {
		if sys.ID == systemID {
			return sys, nil
		}
	}
	return system.ExternalSystem{}, fmt.Errorf("external system %s: %w", systemID, domain.ErrNotFound)
}

// Ingest normalizes and applies one delivery. Unknown systems return
// domain.ErrNotFound and malformed payloads domain.ErrValidation; every
// other outcome, including orphans and duplicates, is a success.
func (s *WebhookService) Ingest(ctx context.Context, systemID string, header http.Header, body []byte) (webhook.IngestResult, error) {
	if _, err := s.system(systemID); err != nil {
		return webhook.IngestResult{}, err
	}

	n, err := s.normalize(systemID, header, body)
	if err != nil {
		return webhook.IngestResult{}, err
	}
	n.ExternalSystemID = systemID
	n.ReceivedAt = s.now()
	if err := n.Validate(); err != nil {
		return webhook.IngestResult{}, err
	}

	res, err := s.apply(ctx, n)
	if err != nil {
		return webhook.IngestResult{}, err
	}
	s.metrics.RecordWebhook(ctx, systemID, string(res.Disposition))
	return res, nil
}

func (s *WebhookService) apply(ctx context.Context, n webhook.ChangeNotification) (webhook.IngestResult, error) {
	log := slog.With("external_system_id", n.ExternalSystemID, "external_id", n.ExternalID, "delivery_id", n.DeliveryID)

	if n.DeliveryID != "" && s.dedupe != nil {
		seen, err := s.dedupe.Seen(ctx, "webhook:"+n.ExternalSystemID+":"+n.DeliveryID, s.dedupeTTL)
		if err != nil {
			log.Warn("webhook dedupe unavailable", "error", err)
		} else if seen {
			log.Debug("duplicate webhook delivery dropped")
			return webhook.IngestResult{Disposition: webhook.DispositionDuplicate}, nil
		}
	}

	rec, err := s.store.FindSyncRecordByExternalID(ctx, n.ExternalSystemID, n.ExternalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Info("webhook for untracked external record discarded", "change_type", n.ChangeType)
			return webhook.IngestResult{Disposition: webhook.DispositionOrphan}, nil
		}
		return webhook.IngestResult{}, fmt.Errorf("find sync record: %w", err)
	}

	requeued, err := s.store.RequeueSyncRecord(ctx, rec.ID)
	if err != nil {
		return webhook.IngestResult{}, fmt.Errorf("requeue sync record %s: %w", rec.ID, err)
	}

	res := webhook.IngestResult{SyncRecordID: rec.ID}
	switch requeued {
	case syncrecord.RequeueDirty:
		res.Disposition = webhook.DispositionDirty
	case syncrecord.RequeueBlocked:
		res.Disposition = webhook.DispositionBlocked
	default:
		res.Disposition = webhook.DispositionRequeued
		if s.wake != nil {
			s.wake()
		}
	}
	log.Info("webhook applied", "sync_record_id", rec.ID, "disposition", res.Disposition, "change_type", n.ChangeType)
	return res, nil
}

// normalize uses the vendor normalizer when the adapter has one.
func (s *WebhookService) normalize(systemID string, header http.Header, body []byte) (webhook.ChangeNotification, error) {
	if e, err := s.registry.Resolve(systemID); err == nil {
		if norm, ok := unwrapAdapter[adapter.WebhookNormalizer](e.Adapter); ok {
			return norm.NormalizeWebhook(header, body)
		}
	}
	return normalizeGeneric(header, body)
}

type genericPayload struct {
	ExternalID json.RawMessage    `json:"external_id"`
	ID         json.RawMessage    `json:"id"`
	ChangeType webhook.ChangeType `json:"change_type"`
	EntityType string             `json:"entity_type"`
	DeliveryID string             `json:"delivery_id"`
}

// normalizeGeneric accepts {"external_id"|"id", "change_type", "entity_type",
// "delivery_id"} with ids given as strings or numbers.
func normalizeGeneric(header http.Header, body []byte) (webhook.ChangeNotification, error) {
	var p genericPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return webhook.ChangeNotification{}, fmt.Errorf("%w: webhook payload is not a JSON object: %w", domain.ErrValidation, err)
	}
	id := rawID(p.ExternalID)
	if id == "" {
		id = rawID(p.ID)
	}
	n := webhook.ChangeNotification{
		ExternalID: id,
		ChangeType: p.ChangeType,
		EntityType: p.EntityType,
		DeliveryID: p.DeliveryID,
	}
	if n.DeliveryID == "" {
		n.DeliveryID = header.Get(HeaderDeliveryID)
	}
	return n, nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var f json.Number
	if json.Unmarshal(raw, &f) == nil {
		if i, err := f.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return f.String()
	}
	return ""
}
