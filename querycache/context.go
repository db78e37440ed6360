package querycache

import (
	"context"
	"time"
)

type callOptions struct {
	autoInvalidate *bool
	ttl            time.Duration
	bypass         bool
}

type callOptionsKey struct{}

func withCallOptions(ctx context.Context, update func(o *callOptions)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := callOptionsFromContext(ctx)
	update(&opts)
	return context.WithValue(ctx, callOptionsKey{}, opts)
}

func callOptionsFromContext(ctx context.Context) callOptions {
	if ctx == nil {
		return callOptions{}
	}
	if opts, ok := ctx.Value(callOptionsKey{}).(callOptions); ok {
		return opts
	}
	return callOptions{}
}

// WithAutoInvalidate decides precision invalidation for writes made with ctx,
// overriding Config.AutoInvalidate.
func WithAutoInvalidate(ctx context.Context, enabled bool) context.Context {
	return withCallOptions(ctx, func(o *callOptions) {
		o.autoInvalidate = &enabled
	})
}

// WithCacheTTL sets the TTL for results cached by reads made with ctx.
func WithCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return withCallOptions(ctx, func(o *callOptions) {
		o.ttl = ttl
	})
}

// WithoutCache makes reads with ctx go straight to the collection.
func WithoutCache(ctx context.Context) context.Context {
	return withCallOptions(ctx, func(o *callOptions) {
		o.bypass = true
	})
}
