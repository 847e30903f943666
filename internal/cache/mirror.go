package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tgparkk/stockbot/internal/logging"
)

// Mirror is an optional shared-process replica of quote data, grounded on
// the teacher's internal/cache/cache_service.go degrade-on-failure pattern:
// if Redis is unreachable the mirror goes quiet instead of failing callers,
// since the in-process Cache remains the source of truth (spec.md §4.1
// never requires Redis — this is purely an operator-dashboard read
// replica and the candidate-discovery dedupe set, per SPEC_FULL.md §11).
type Mirror struct {
	client  *redis.Client
	healthy bool
	log     *logging.Logger
}

// NewMirror connects to addr. A connection failure is logged and the
// mirror is marked unhealthy rather than returning an error — mirroring is
// best-effort.
func NewMirror(addr string) *Mirror {
	log := logging.WithComponent("cache-mirror")
	if addr == "" {
		return &Mirror{healthy: false, log: log}
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthy := true
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis mirror unreachable, continuing without it", "error", err)
		healthy = false
	}

	return &Mirror{client: client, healthy: healthy, log: log}
}

// MirrorQuote publishes the latest quote for dashboards/discovery to read
// without contending on the in-process cache's sync.Map. Best-effort: a
// Redis failure here never surfaces to the hot path.
func (m *Mirror) MirrorQuote(ctx context.Context, q Quote) {
	if m == nil || !m.healthy || m.client == nil {
		return
	}
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := m.client.Set(ctx, "quote:"+q.Symbol, data, time.Minute).Err(); err != nil {
		m.log.Debug("mirror quote write failed", "symbol", q.Symbol, "error", err)
		m.healthy = false
	}
}

// MarkSeen adds symbol to today's discovery-dedupe set so the same
// candidate is not re-selected twice within a slot (used by
// internal/discovery). Returns true if this is the first time today.
func (m *Mirror) MarkSeen(ctx context.Context, slot, symbol string) bool {
	if m == nil || !m.healthy || m.client == nil {
		return true
	}
	key := "discovery:seen:" + slot
	added, err := m.client.SAdd(ctx, key, symbol).Result()
	if err != nil {
		m.healthy = false
		return true
	}
	m.client.Expire(ctx, key, 24*time.Hour)
	return added > 0
}

// ClearSeen drops slot's discovery-dedupe set, so a subsequent MarkSeen
// call for any symbol in the slot returns true again. Used by a forced
// re-discovery of the currently active slot, which must reproduce the
// same selected_stocks rows rather than have every candidate suppressed
// as already seen.
func (m *Mirror) ClearSeen(ctx context.Context, slot string) {
	if m == nil || !m.healthy || m.client == nil {
		return
	}
	if err := m.client.Del(ctx, "discovery:seen:"+slot).Err(); err != nil {
		m.healthy = false
	}
}

// Healthy reports whether the last Redis operation succeeded.
func (m *Mirror) Healthy() bool {
	return m != nil && m.healthy
}
