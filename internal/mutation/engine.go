// Package mutation applies user-initiated changes optimistically: snapshot
// the affected cache keys, update them before the network call, then
// reconcile with the server's answer or restore the snapshots.
package mutation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"boardsync/internal/cache"
	"boardsync/internal/models"
	"boardsync/internal/observability"
	"boardsync/internal/remote"

	"go.opentelemetry.io/otel/attribute"
)

// Engine runs mutations against a cache and a remote port. Mutations on the
// same entity are not serialized.
type Engine struct {
	store   *cache.Store
	port    remote.Port
	toaster Toaster
	logger  *observability.MutationLogger
	now     func() time.Time
	tempID  atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

func WithToaster(t Toaster) Option {
	return func(e *Engine) { e.toaster = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = observability.NewMutationLogger(l) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store *cache.Store, port remote.Port, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		port:    port,
		toaster: discardToaster{},
		logger:  observability.NewMutationLogger(nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// mutation describes one run of the protocol.
type mutation struct {
	op     string
	fields map[string]interface{}
	// keys are snapshotted before apply and restored on failure.
	keys []cache.QueryKey
	// apply performs the optimistic cache writes.
	apply func()
	// commit performs the network call and reconciles the cache with its
	// result. It must re-read the cache rather than rely on captured values.
	commit func(ctx context.Context) error
	// invalidate lists secondary keys (prefixes) marked stale on success.
	invalidate []cache.QueryKey
}

func (e *Engine) run(ctx context.Context, m mutation) error {
	span, ctx := observability.NewSpan(ctx, "mutation."+m.op, attribute.String("mutation.operation", m.op))
	defer span.End()

	snaps := make([]cache.Snapshot, len(m.keys))
	for i, k := range m.keys {
		snaps[i] = e.store.Snapshot(k)
	}

	if m.apply != nil {
		m.apply()
	}
	e.logger.LogApply(ctx, m.op, m.fields)

	if err := m.commit(ctx); err != nil {
		for i := len(snaps) - 1; i >= 0; i-- {
			e.store.Restore(snaps[i])
		}
		span.SetError(err)

		code := models.CodeOf(err)
		if code == "" {
			code = models.CodeServerFault
		}
		observability.MutationRollbacks.WithLabelValues(m.op, code).Inc()
		observability.MutationsTotal.WithLabelValues(m.op, "rolled_back").Inc()
		e.logger.LogRollback(ctx, m.op, err, m.fields)

		// The session layer handles Unauthorized through the port's signal.
		if !models.IsUnauthorized(err) {
			e.toaster.Toast(toastFor(m.op, err))
		}
		return err
	}

	for _, k := range m.invalidate {
		e.store.Invalidate(k)
	}
	observability.MutationsTotal.WithLabelValues(m.op, "committed").Inc()
	e.logger.LogCommit(ctx, m.op, m.fields)
	return nil
}

// reject surfaces a locally detected validation failure without touching
// the cache or the network.
func (e *Engine) reject(op, message string) error {
	err := models.NewValidationError(message)
	observability.MutationsTotal.WithLabelValues(op, "rejected").Inc()
	e.toaster.Toast(toastFor(op, err))
	return err
}

func (e *Engine) nextTempID() int64 {
	return e.tempID.Add(-1)
}

func adjustCount(n int, up bool) int {
	if up {
		return n + 1
	}
	if n > 0 {
		return n - 1
	}
	return 0
}
