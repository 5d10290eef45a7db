package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	sbotel "github.com/Strob0t/syncbridge/internal/adapter/otel"
	"github.com/Strob0t/syncbridge/internal/config"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/port/database"
	"github.com/Strob0t/syncbridge/internal/port/entitystore"
)

// Redactor removes secret values from text before it is persisted.
type Redactor interface {
	RedactString(s string) string
}

// PassResult summarizes one scheduling pass.
type PassResult struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
	Requeued  int `json:"requeued"`
	Lost      int `json:"lost"`
}

func (r *PassResult) add(a attemptResult) {
	switch a {
	case resultSuccess:
		r.Succeeded++
	case resultRetrying:
		r.Retrying++
	case resultFailed:
		r.Failed++
	case resultConflict:
		r.Conflicts++
	case resultRequeued:
		r.Requeued++
	default:
		r.Lost++
	}
}

// Orchestrator drives sync records through their state machine. Each pass
// claims due records and attempts them on a bounded worker pool; claims make
// sure no record is attempted twice at the same time, even across processes.
type Orchestrator struct {
	store    database.Store
	entities entitystore.Repository
	registry *adapter.Registry
	detector *conflict.Detector
	resolver *ConflictResolver
	cfg      config.Sync

	notify   *NotificationService
	events   *SyncEvents
	metrics  *sbotel.Metrics
	redactor Redactor
	now      func() time.Time

	wake chan struct{}

	// claimMu serializes claims so a record this process is still attempting
	// is never claimed again, even after its lease ran out.
	claimMu  sync.Mutex
	inFlight map[string]struct{}

	policyMu   sync.Mutex
	lastPolicy syncpolicy.SyncPolicy
}

// NewOrchestrator creates an orchestrator. cfg supplies the worker count,
// batch size, claim lease and the fallback policy used until the stored one
// can be read.
func NewOrchestrator(
	store database.Store,
	entities entitystore.Repository,
	registry *adapter.Registry,
	detector *conflict.Detector,
	cfg config.Sync,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		entities:   entities,
		registry:   registry,
		detector:   detector,
		resolver:   NewConflictResolver(entities),
		cfg:        cfg,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
		inFlight:   make(map[string]struct{}),
		lastPolicy: PolicyFromConfig(cfg),
	}
}

// SetNotifications sets the operator notification fan-out.
func (o *Orchestrator) SetNotifications(n *NotificationService) { o.notify = n }

// SetEvents sets the outbound sync event fan-out.
func (o *Orchestrator) SetEvents(e *SyncEvents) { o.events = e }

// SetMetrics sets the otel instruments.
func (o *Orchestrator) SetMetrics(m *sbotel.Metrics) { o.metrics = m }

// SetRedactor sets the redactor applied to stored error messages.
func (o *Orchestrator) SetRedactor(r Redactor) { o.redactor = r }

// Wake requests an early pass. It never blocks; wakes arriving while one is
// pending coalesce.
func (o *Orchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run schedules passes until ctx is done. The policy is re-read before every
// pass and the ticker follows its interval. Passes are skipped while auto
// sync is off; RunPass still works.
func (o *Orchestrator) Run(ctx context.Context) {
	pol := o.policy(ctx)
	ticker := time.NewTicker(passInterval(pol))
	defer ticker.Stop()

	slog.Info("sync orchestrator started", "interval", passInterval(pol), "workers", o.workers())
	var lastPass time.Time
	for {
		select {
		case <-ctx.Done():
			slog.Info("sync orchestrator stopped")
			return
		case <-ticker.C:
		case <-o.wake:
			if wait := o.cfg.WakeDebounce - time.Since(lastPass); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}

		pol = o.policy(ctx)
		if pol.AutoSync {
			if _, err := o.runPass(ctx, pol); err != nil {
				slog.Error("sync pass failed", "error", err)
			}
			lastPass = time.Now()
		}
		ticker.Reset(passInterval(pol))
	}
}

// RunPass runs one pass immediately, regardless of the auto sync flag.
func (o *Orchestrator) RunPass(ctx context.Context) (PassResult, error) {
	return o.runPass(ctx, o.policy(ctx))
}

func (o *Orchestrator) runPass(ctx context.Context, pol syncpolicy.SyncPolicy) (res PassResult, err error) {
	ctx, span := sbotel.StartPassSpan(ctx)
	defer func() { sbotel.EndSpan(span, err) }()

	systems := o.registry.ActiveSystemIDs()
	if len(systems) == 0 || len(pol.EnabledEntityTypes) == 0 {
		return res, nil
	}

	recs, err := o.claim(ctx, pol, systems)
	if err != nil {
		return res, err
	}
	o.metrics.RecordPass(ctx, len(recs))
	res.Claimed = len(recs)
	if len(recs) == 0 {
		return res, nil
	}

	deadline := time.Now().Add(o.attemptTimeout())
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.workers())
	for i := range recs {
		rec := recs[i]
		g.Go(func() error {
			defer o.release(rec.ID)
			r := o.attempt(ctx, pol, rec, deadline)
			mu.Lock()
			res.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("sync pass completed",
		"claimed", res.Claimed,
		"succeeded", res.Succeeded,
		"retrying", res.Retrying,
		"failed", res.Failed,
		"conflicts", res.Conflicts,
		"requeued", res.Requeued,
	)
	return res, nil
}

// claim takes due records, skipping those still being attempted here, and
// marks the claimed ones in flight until release.
func (o *Orchestrator) claim(ctx context.Context, pol syncpolicy.SyncPolicy, systems []string) ([]syncrecord.Record, error) {
	o.claimMu.Lock()
	defer o.claimMu.Unlock()

	exclude := make([]string, 0, len(o.inFlight))
	for id := range o.inFlight {
		exclude = append(exclude, id)
	}
	recs, err := o.store.ClaimDueSyncRecords(ctx, database.ClaimParams{
		EntityTypes: pol.EnabledEntityTypes,
		SystemIDs:   systems,
		Limit:       o.cfg.BatchSize,
		Lease:       o.cfg.ClaimLease,
		Now:         o.now(),
		Exclude:     exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("claim due sync records: %w", err)
	}
	for i := range recs {
		o.inFlight[recs[i].ID] = struct{}{}
	}
	return recs, nil
}

func (o *Orchestrator) release(id string) {
	o.claimMu.Lock()
	delete(o.inFlight, id)
	o.claimMu.Unlock()
}

// attemptTimeout bounds one attempt so its outcome is written before the
// claim lease lets another process take the record over.
func (o *Orchestrator) attemptTimeout() time.Duration {
	if d := o.cfg.ClaimLease - config.LeaseMargin; d > 0 {
		return d
	}
	return max(o.cfg.ClaimLease/2, time.Second)
}

// policy returns an immutable snapshot of the stored policy, falling back to
// the last one read when the store is unavailable.
func (o *Orchestrator) policy(ctx context.Context) syncpolicy.SyncPolicy {
	o.policyMu.Lock()
	defer o.policyMu.Unlock()

	p, err := o.store.GetSyncPolicy(ctx)
	if err != nil {
		slog.Warn("sync policy unavailable, using last known", "error", err)
		return o.lastPolicy.Snapshot()
	}
	o.lastPolicy = p.Snapshot()
	return o.lastPolicy.Snapshot()
}

func (o *Orchestrator) workers() int {
	return max(o.cfg.Workers, 1)
}

func (o *Orchestrator) redact(s string) string {
	if o.redactor == nil {
		return s
	}
	return o.redactor.RedactString(s)
}

func passInterval(p syncpolicy.SyncPolicy) time.Duration {
	return max(p.Interval(), time.Second)
}
