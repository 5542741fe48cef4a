// Package resolver implements find-or-create for each remote entity type.
// Every operation looks the entity up by its natural key before creating
// it, and serializes work on the same key within the process.
package resolver

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/b2b-sync/internal/remote"
	"github.com/sells-group/b2b-sync/internal/resilience"
)

// DefaultFirstLocationKey is the location key that adopts a company's
// auto-created default location.
const DefaultFirstLocationKey = "1"

// Resolver resolves sheet data onto remote entities.
type Resolver struct {
	store            remote.Store
	firstLocationKey string
	retry            resilience.RetryConfig
	breaker          *resilience.CircuitBreaker

	locks *keyLocker
	roles singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFirstLocationKey sets the location key that adopts the default location.
func WithFirstLocationKey(key string) Option {
	return func(r *Resolver) {
		if key != "" {
			r.firstLocationKey = key
		}
	}
}

// WithRetry sets the retry policy applied to each find-or-create.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Resolver) { r.retry = cfg }
}

// WithBreaker routes every store call through cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Resolver) { r.breaker = cb }
}

// New creates a Resolver over store.
func New(store remote.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:            store,
		firstLocationKey: DefaultFirstLocationKey,
		retry:            resilience.DefaultRetryConfig(),
		locks:            newKeyLocker(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// FirstLocationKey returns the configured default-location key.
func (r *Resolver) FirstLocationKey() string {
	return r.firstLocationKey
}

// withRetry runs fn under the retry policy. fn must begin with its find
// call so a retried attempt never skips straight to create.
func withRetry[T any](ctx context.Context, r *Resolver, op string, fn func(context.Context) (T, error)) (T, error) {
	cfg := r.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(op)
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = retryable
	}
	return resilience.DoVal(ctx, cfg, fn)
}

// guard runs a single store call through the circuit breaker, if any.
func guard[T any](ctx context.Context, r *Resolver, fn func(context.Context) (T, error)) (T, error) {
	if r.breaker == nil {
		return fn(ctx)
	}
	return resilience.ExecuteVal(ctx, r.breaker, fn)
}

// retryable retries transient failures only. Conflicts are business
// outcomes and are never retried.
func retryable(err error) bool {
	if remote.Classify(err) == remote.ClassConflict {
		return false
	}
	return resilience.IsTransient(err)
}

func logger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.L()
}

type loggerKey struct{}

// WithLogger attaches a row-scoped logger that resolver debug output uses.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}
