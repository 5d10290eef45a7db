package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	sbotel "github.com/Strob0t/syncbridge/internal/adapter/otel"
	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/logger"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/port/broadcast"
	"github.com/Strob0t/syncbridge/internal/port/notifier"
)

type attemptResult string

const (
	resultSuccess  attemptResult = "success"
	resultRetrying attemptResult = "retrying"
	resultFailed   attemptResult = "failed"
	resultConflict attemptResult = "conflict"
	resultRequeued attemptResult = "requeued" // re-sync was requested mid-attempt
	resultLost     attemptResult = "lost"     // claim expired or completion failed
)

// failureKind classifies an attempt error for retry purposes.
type failureKind string

const (
	failureTransient     failureKind = "transient"
	failurePermanent     failureKind = "permanent"
	failureConfiguration failureKind = "configuration"
)

// classifyFailure maps an attempt error onto the retry taxonomy. A deleted
// local entity and a misconfigured system are never retried; anything the
// adapter did not mark permanent is.
func classifyFailure(err error) failureKind {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return failureConfiguration
	case errors.Is(err, domain.ErrNotFound), adapter.IsPermanent(err):
		return failurePermanent
	default:
		return failureTransient
	}
}

// completeTimeout bounds writing an outcome after the pass context ended.
const completeTimeout = 10 * time.Second

// attempt synchronizes one claimed record and persists the outcome. Adapter
// and entity calls must finish by deadline; writing the outcome may not. It
// never panics and never returns an error: every failure ends up on the record.
func (o *Orchestrator) attempt(ctx context.Context, pol syncpolicy.SyncPolicy, rec syncrecord.Record, deadline time.Time) (result attemptResult) {
	ctx = logger.WithSyncRecordID(ctx, rec.ID)
	ctx, span := sbotel.StartAttemptSpan(ctx, rec.ID, rec.EntityType, rec.EntityID, rec.ExternalSystemID)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "sync attempt panic", "panic", r)
			result = o.fail(ctx, pol, rec, adapter.Permanent(fmt.Errorf("sync attempt panic: %v", r)))
		}
		o.metrics.RecordAttempt(ctx, rec.EntityType, rec.ExternalSystemID, string(result), time.Since(start))
		span.End()
	}()

	actx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	res, fields, err := o.sync(actx, pol, rec)
	if err != nil {
		span.RecordError(err)
		return o.fail(ctx, pol, rec, err)
	}

	now := o.now()
	out := syncrecord.Outcome{Status: res.Status, ExternalID: res.ExternalID}
	if res.Status == syncrecord.StatusSuccess {
		out.LastSyncAt = &now
	}
	updated, ok := o.complete(ctx, rec, out, res.Conflict, fields)
	if !ok {
		return resultLost
	}

	switch {
	case updated.Status == syncrecord.StatusConflict:
		o.conflictOpened(ctx, updated, res.Conflict)
		return resultConflict
	case updated.Status == syncrecord.StatusPending:
		return resultRequeued
	default:
		slog.DebugContext(ctx, "sync attempt succeeded", "external_id", updated.ExternalID)
		return resultSuccess
	}
}

// sync performs the adapter round trip for rec and decides the outcome.
func (o *Orchestrator) sync(ctx context.Context, pol syncpolicy.SyncPolicy, rec syncrecord.Record) (ResolveResult, []string, error) {
	entry, err := o.registry.ResolveActive(rec.ExternalSystemID)
	if err != nil {
		return ResolveResult{}, nil, err
	}

	local, err := o.entities.Get(ctx, rec.EntityType, rec.EntityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ResolveResult{}, nil, fmt.Errorf("local %s was deleted: %w", rec.Ref(), err)
		}
		return ResolveResult{}, nil, fmt.Errorf("load local %s: %w", rec.Ref(), err)
	}

	if rec.ResolutionID != "" {
		resolved, err := o.store.GetConflict(ctx, rec.ResolutionID)
		switch {
		case err == nil && !resolved.Open():
			res, err := o.resolver.Apply(ctx, rec, entry.Adapter, resolved)
			return res, nil, err
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return ResolveResult{}, nil, fmt.Errorf("load resolution %s: %w", rec.ResolutionID, err)
		}
		slog.WarnContext(ctx, "resolution not applicable, syncing normally", "conflict_id", rec.ResolutionID)
	}

	if rec.ExternalID == "" {
		pushed, err := entry.Adapter.Push(ctx, adapter.PushRequest{
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			Data:       local,
		})
		if err != nil {
			return ResolveResult{}, nil, fmt.Errorf("push %s: %w", rec.Ref(), err)
		}
		if pushed.ExternalID == "" {
			return ResolveResult{}, nil, adapter.Permanent(fmt.Errorf("push %s: adapter returned no external id", rec.Ref()))
		}
		return ResolveResult{Status: syncrecord.StatusSuccess, ExternalID: pushed.ExternalID}, nil, nil
	}

	external, err := entry.Adapter.Pull(ctx, adapter.PullRequest{EntityType: rec.EntityType, ExternalID: rec.ExternalID})
	if err != nil {
		return ResolveResult{}, nil, fmt.Errorf("pull %s: %w", rec.ExternalID, err)
	}
	fields := o.detector.Detect(rec.EntityType, local, external)
	if len(fields) == 0 {
		return ResolveResult{Status: syncrecord.StatusSuccess, ExternalID: rec.ExternalID}, nil, nil
	}

	slog.InfoContext(ctx, "divergence detected", "fields", fields, "policy", pol.ConflictResolution)
	res, err := o.resolver.Resolve(ctx, ResolveInput{
		Policy:   pol.ConflictResolution,
		Record:   rec,
		Adapter:  entry.Adapter,
		Local:    local,
		External: external,
		Fields:   fields,
	})
	return res, fields, err
}

// fail records an attempt error: transient failures are rescheduled until
// the retry budget is spent, everything else is terminal at once.
func (o *Orchestrator) fail(ctx context.Context, pol syncpolicy.SyncPolicy, rec syncrecord.Record, err error) attemptResult {
	kind := classifyFailure(err)
	out := syncrecord.Outcome{
		Status:         syncrecord.StatusFailed,
		ErrorMessage:   o.redact(err.Error()),
		KeepResolution: true,
	}
	terminal := true
	if kind == failureTransient {
		next, count, ok := NewRetrySchedule(pol, o.cfg.RetryJitter).Next(o.now(), rec.RetryCount, pol.MaxRetries)
		out.RetryCount = count
		if ok {
			out.NextRetryAt = &next
			terminal = false
		}
	} else {
		out.RetryCount = pol.MaxRetries + 1
	}

	o.metrics.RecordFailure(ctx, rec.ExternalSystemID, string(kind))
	slog.WarnContext(ctx, "sync attempt failed",
		"kind", kind,
		"retry_count", out.RetryCount,
		"terminal", terminal,
		"error", out.ErrorMessage,
	)

	updated, ok := o.complete(ctx, rec, out, nil, nil)
	if !ok {
		return resultLost
	}
	if updated.Status == syncrecord.StatusPending {
		return resultRequeued
	}
	if !terminal {
		return resultRetrying
	}

	source, title := notifier.EventSyncFailed, "Sync failed"
	if kind == failureConfiguration {
		source, title = notifier.EventSyncConfigError, "Sync configuration error"
	}
	o.notify.Notify(context.WithoutCancel(ctx), notifier.Notification{
		Title:   fmt.Sprintf("%s: %s", title, rec.Ref()),
		Message: out.ErrorMessage,
		Level:   "error",
		Source:  source,
		Fields:  recordFields(updated),
	})
	return resultFailed
}

// complete persists out if the claim still holds. A lost claim is logged and
// reported as not ok; the record then belongs to whoever holds it now.
func (o *Orchestrator) complete(ctx context.Context, rec syncrecord.Record, out syncrecord.Outcome, open *conflict.Conflict, fields []string) (*syncrecord.Record, bool) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()

	updated, err := o.store.CompleteSyncRecord(wctx, rec.ID, rec.ClaimToken, out, open)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.InfoContext(ctx, "sync claim lost, outcome discarded", "status", out.Status)
		} else {
			slog.ErrorContext(ctx, "complete sync record failed", "status", out.Status, "error", err)
		}
		return nil, false
	}
	o.events.RecordChanged(wctx, updated, fields)
	return updated, true
}

func (o *Orchestrator) conflictOpened(ctx context.Context, rec *syncrecord.Record, c *conflict.Conflict) {
	o.metrics.RecordConflict(ctx, rec.EntityType, rec.ExternalSystemID)
	if c != nil {
		o.events.Broadcast(ctx, broadcast.EventConflictOpened, c)
	}

	fields := recordFields(rec)
	if c != nil {
		fields["conflict_fields"] = fmt.Sprint(c.ConflictFields)
	}
	o.notify.Notify(context.WithoutCancel(ctx), notifier.Notification{
		Title:   fmt.Sprintf("Sync conflict: %s", rec.Ref()),
		Message: "The external copy diverged and awaits operator resolution.",
		Level:   "warning",
		Source:  notifier.EventSyncConflict,
		Fields:  fields,
	})
}

func recordFields(rec *syncrecord.Record) map[string]string {
	f := map[string]string{
		"sync_record_id":     rec.ID,
		"entity":             rec.Ref().String(),
		"external_system_id": rec.ExternalSystemID,
		"retry_count":        strconv.Itoa(rec.RetryCount),
	}
	if rec.ExternalID != "" {
		f["external_id"] = rec.ExternalID
	}
	if rec.ConflictID != "" {
		f["conflict_id"] = rec.ConflictID
	}
	return f
}
