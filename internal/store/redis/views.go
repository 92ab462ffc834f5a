// Package redis caches rendered read views (balance and stats responses) so
// dashboard traffic does not fan out into PostgreSQL on every request. Views
// are invalidated whenever a sync run mutates the underlying rows; a cache
// outage degrades reads to the database instead of failing them.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/funtreasury/treasury-sync/internal/metrics"
)

const (
	balancesViewKey = "views:balances"
	statsViewKey    = "views:stats"

	// Views self-expire as a backstop in case an invalidation is lost.
	defaultViewTTL = 10 * time.Minute
)

type Views struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

type ViewsOption func(*Views)

func WithViewTTL(ttl time.Duration) ViewsOption {
	return func(v *Views) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

func NewViews(url string, logger *slog.Logger, opts ...ViewsOption) (*Views, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(parsed)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	v := &Views{
		client: client,
		logger: logger.With("component", "redis_views"),
		ttl:    defaultViewTTL,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *Views) Close() error {
	if v == nil {
		return nil
	}
	return v.client.Close()
}

// GetBalances returns the cached balances view, or (nil, false) on a miss.
// Redis errors count as misses; the caller falls back to the database.
func (v *Views) GetBalances(ctx context.Context, out any) bool {
	return v.get(ctx, balancesViewKey, out)
}

func (v *Views) SetBalances(ctx context.Context, view any) {
	v.set(ctx, balancesViewKey, view)
}

func (v *Views) GetStats(ctx context.Context, out any) bool {
	return v.get(ctx, statsViewKey, out)
}

func (v *Views) SetStats(ctx context.Context, view any) {
	v.set(ctx, statsViewKey, view)
}

// Invalidate drops all cached views. Called after any sync run that changed
// balances or ingested transactions.
func (v *Views) Invalidate(ctx context.Context) {
	if v == nil {
		return
	}
	if err := v.client.Del(ctx, balancesViewKey, statsViewKey).Err(); err != nil {
		v.logger.Warn("view invalidation failed", "error", err)
		return
	}
	metrics.ViewInvalidations.WithLabelValues("balances").Inc()
	metrics.ViewInvalidations.WithLabelValues("stats").Inc()
}

func (v *Views) get(ctx context.Context, key string, out any) bool {
	if v == nil {
		return false
	}
	raw, err := v.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		v.logger.Warn("view read failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		v.logger.Warn("view decode failed", "key", key, "error", err)
		return false
	}
	return true
}

func (v *Views) set(ctx context.Context, key string, view any) {
	if v == nil {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		v.logger.Warn("view encode failed", "key", key, "error", err)
		return
	}
	if err := v.client.Set(ctx, key, raw, v.ttl).Err(); err != nil {
		v.logger.Warn("view write failed", "key", key, "error", err)
	}
}
