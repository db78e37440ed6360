package cacheinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vextjs/monsqlize/cache"
	"go.uber.org/zap"
)

// GuardedRemote bounds every call to a remote adapter with a timeout and a
// circuit breaker. Failures, timeouts and open-breaker rejections all surface
// as cache.ErrRemoteUnavailable so callers can degrade to a miss.
type GuardedRemote struct {
	remote  cache.RemoteAdapter
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ cache.RemoteAdapter = (*GuardedRemote)(nil)

// NewGuardedRemote wraps remote. A zero timeout disables the deadline.
func NewGuardedRemote(remote cache.RemoteAdapter, timeout time.Duration, cfg cache.BreakerConfig, logger *zap.Logger) *GuardedRemote {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &GuardedRemote{
		remote:  remote,
		timeout: timeout,
		logger:  logger,
	}
	if !cfg.Disabled {
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "monsqlize-remote",
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.MinRequests {
					return false
				}
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("remote cache breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return g
}

// State reports the breaker state, or "disabled".
func (g *GuardedRemote) State() string {
	if g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}

type callResult struct {
	value any
	err   error
}

func (g *GuardedRemote) call(ctx context.Context, op, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	run := func() (any, error) {
		ch := make(chan callResult, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					ch <- callResult{err: fmt.Errorf("remote adapter panic: %v", r)}
				}
			}()
			v, err := fn(ctx)
			ch <- callResult{value: v, err: err}
		}()

		select {
		case res := <-ch:
			return res.value, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var (
		value any
		err   error
	)
	if g.breaker != nil {
		value, err = g.breaker.Execute(run)
	} else {
		value, err = run()
	}
	if err != nil {
		return nil, &cache.Error{Code: cache.CodeRemoteUnavailable, Op: op, Key: key, Err: err}
	}
	return value, nil
}

type getResult struct {
	item cache.RemoteItem
	ok   bool
}

// Get implements cache.RemoteAdapter.
func (g *GuardedRemote) Get(ctx context.Context, key string) (cache.RemoteItem, bool, error) {
	v, err := g.call(ctx, "get", key, func(ctx context.Context) (any, error) {
		item, ok, err := g.remote.Get(ctx, key)
		return getResult{item: item, ok: ok}, err
	})
	if err != nil {
		return cache.RemoteItem{}, false, err
	}
	res := v.(getResult)
	return res.item, res.ok, nil
}

// Set implements cache.RemoteAdapter.
func (g *GuardedRemote) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	_, err := g.call(ctx, "set", key, func(ctx context.Context) (any, error) {
		return nil, g.remote.Set(ctx, key, value, ttl)
	})
	return err
}

// Del implements cache.RemoteAdapter.
func (g *GuardedRemote) Del(ctx context.Context, key string) (bool, error) {
	v, err := g.call(ctx, "del", key, func(ctx context.Context) (any, error) {
		return g.remote.Del(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Exists implements cache.RemoteAdapter.
func (g *GuardedRemote) Exists(ctx context.Context, key string) (bool, error) {
	v, err := g.call(ctx, "exists", key, func(ctx context.Context) (any, error) {
		return g.remote.Exists(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// GetMany implements cache.RemoteAdapter.
func (g *GuardedRemote) GetMany(ctx context.Context, keys []string) (map[string]cache.RemoteItem, error) {
	v, err := g.call(ctx, "getMany", "", func(ctx context.Context) (any, error) {
		return g.remote.GetMany(ctx, keys)
	})
	if err != nil {
		return nil, err
	}
	items, _ := v.(map[string]cache.RemoteItem)
	return items, nil
}

// SetMany implements cache.RemoteAdapter.
func (g *GuardedRemote) SetMany(ctx context.Context, items map[string]any, ttl time.Duration) error {
	_, err := g.call(ctx, "setMany", "", func(ctx context.Context) (any, error) {
		return nil, g.remote.SetMany(ctx, items, ttl)
	})
	return err
}

// DelMany implements cache.RemoteAdapter.
func (g *GuardedRemote) DelMany(ctx context.Context, keys []string) (int, error) {
	v, err := g.call(ctx, "delMany", "", func(ctx context.Context) (any, error) {
		return g.remote.DelMany(ctx, keys)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// DelPattern implements cache.RemoteAdapter.
func (g *GuardedRemote) DelPattern(ctx context.Context, pattern string) (int, error) {
	v, err := g.call(ctx, "delPattern", pattern, func(ctx context.Context) (any, error) {
		return g.remote.DelPattern(ctx, pattern)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}
