package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sbotel "github.com/Strob0t/syncbridge/internal/adapter/otel"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
	"github.com/Strob0t/syncbridge/internal/domain/system"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/resilience"
)

// AdapterGuard decorates vendor adapters with a per-call timeout, the
// system's circuit breaker, tracing and panic recovery. Its Wrap method is
// installed as the registry's adapter.Wrapper.
type AdapterGuard struct {
	breakers *resilience.BreakerSet
	timeout  time.Duration
	metrics  *sbotel.Metrics
}

// NewAdapterGuard creates a guard. metrics may be nil.
func NewAdapterGuard(breakers *resilience.BreakerSet, timeout time.Duration, metrics *sbotel.Metrics) *AdapterGuard {
	return &AdapterGuard{breakers: breakers, timeout: timeout, metrics: metrics}
}

// NewSystemBreakers creates the per-system breaker set. Permanent adapter
// errors mean the remote answered, so they do not trip the circuit.
func NewSystemBreakers(maxFailures int, timeout time.Duration) *resilience.BreakerSet {
	return resilience.NewBreakerSet(maxFailures, timeout,
		resilience.WithFailurePredicate(func(err error) bool { return !adapter.IsPermanent(err) }))
}

// Wrap implements adapter.Wrapper.
func (g *AdapterGuard) Wrap(sys system.ExternalSystem, a adapter.Adapter) adapter.Adapter {
	return &guardedAdapter{guard: g, sys: sys, inner: a}
}

type guardedAdapter struct {
	guard *AdapterGuard
	sys   system.ExternalSystem
	inner adapter.Adapter
}

// Unwrap exposes the vendor adapter for optional capabilities such as
// webhook normalization.
func (a *guardedAdapter) Unwrap() adapter.Adapter { return a.inner }

func (a *guardedAdapter) Push(ctx context.Context, req adapter.PushRequest) (adapter.PushResult, error) {
	var res adapter.PushResult
	err := a.call(ctx, "push", func(ctx context.Context) error {
		var err error
		res, err = a.inner.Push(ctx, req)
		return err
	})
	return res, err
}

func (a *guardedAdapter) Pull(ctx context.Context, req adapter.PullRequest) (entity.Snapshot, error) {
	var snap entity.Snapshot
	err := a.call(ctx, "pull", func(ctx context.Context) error {
		var err error
		snap, err = a.inner.Pull(ctx, req)
		return err
	})
	return snap, err
}

// TestConnection bypasses the breaker so operators can probe a system whose
// circuit is open.
func (a *guardedAdapter) TestConnection(ctx context.Context) (ok bool) {
	ctx, cancel := context.WithTimeout(ctx, a.guard.timeout)
	defer cancel()
	ctx, span := sbotel.StartAdapterSpan(ctx, a.sys.ID, a.sys.Type, "test_connection")
	defer func() {
		if r := recover(); r != nil {
			slog.Error("adapter panic", "external_system_id", a.sys.ID, "op", "test_connection", "panic", r)
			ok = false
		}
		span.End()
	}()
	return a.inner.TestConnection(ctx)
}

func (a *guardedAdapter) call(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, a.guard.timeout)
	defer cancel()
	ctx, span := sbotel.StartAdapterSpan(ctx, a.sys.ID, a.sys.Type, op)
	start := time.Now()
	defer func() {
		a.guard.metrics.RecordAdapterCall(ctx, a.sys.ID, op, time.Since(start), err)
		sbotel.EndSpan(span, err)
	}()

	return a.guard.breakers.Get(a.sys.ID).Execute(func() (callErr error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("adapter panic", "external_system_id", a.sys.ID, "op", op, "panic", r)
				callErr = &adapter.Error{Kind: adapter.KindPermanent, Op: op, Err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		return fn(ctx)
	})
}

// unwrapAdapter walks decorator chains looking for a capability.
func unwrapAdapter[T any](a adapter.Adapter) (T, bool) {
	for a != nil {
		if c, ok := a.(T); ok {
			return c, true
		}
		u, ok := a.(interface{ Unwrap() adapter.Adapter })
		if !ok {
			break
		}
		a = u.Unwrap()
	}
	var zero T
	return zero, false
}
