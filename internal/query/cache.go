package query

import (
	"VaultLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps the Postgres store with a Redis read-through cache for
// vault reads. The projection worker invalidates entries as it rewrites
// rows; the TTL bounds staleness if an invalidation is lost.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, metrics *observability.Metrics) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		metrics: metrics,
	}
}

// --- Read-through ---

func (s *CachedStore) GetVault(ctx context.Context, collateral string, vaultID uint64) (*VaultResponse, error) {
	key := vaultKey(collateral, vaultID)
	var v VaultResponse
	if s.lookup(ctx, "vault", key, &v) {
		return &v, nil
	}

	out, err := s.primary.GetVault(ctx, collateral, vaultID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, out)
	return out, nil
}

func (s *CachedStore) ListVaults(ctx context.Context, collateral string, limit int) ([]VaultResponse, error) {
	key := vaultsKey(collateral, clampLimit(limit))
	var vaults []VaultResponse
	if s.lookup(ctx, "vaults", key, &vaults) {
		return vaults, nil
	}

	vaults, err := s.primary.ListVaults(ctx, collateral, limit)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, vaults)
	return vaults, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Watermark(ctx context.Context) (int64, error) {
	return s.primary.Watermark(ctx)
}

func (s *CachedStore) GetLiquidations(ctx context.Context, collateral, status string, limit int) ([]LiquidationResponse, error) {
	return s.primary.GetLiquidations(ctx, collateral, status, limit)
}

// --- Invalidation ---

// Invalidate drops the vault and every cached list for its collateral.
func (s *CachedStore) Invalidate(ctx context.Context, collateral string, vaultID uint64) {
	keys := []string{vaultKey(collateral, vaultID)}
	iter := s.rdb.Scan(ctx, 0, vaultsPattern(collateral), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	s.rdb.Del(ctx, keys...)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, cache, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == redis.Nil:
		s.count(cache, "miss")
		return false
	case err != nil:
		s.count(cache, "error")
		return false
	}
	if json.Unmarshal(data, dst) != nil {
		s.count(cache, "error")
		return false
	}
	s.count(cache, "hit")
	return true
}

func (s *CachedStore) store(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) count(cache, result string) {
	if s.metrics != nil {
		s.metrics.CacheLookups.WithLabelValues(cache, result).Inc()
	}
}

func vaultKey(collateral string, id uint64) string {
	return fmt.Sprintf("vault:%s:%d", collateral, id)
}

func vaultsKey(collateral string, limit int) string {
	return fmt.Sprintf("vaults:%s:%d", collateral, limit)
}

func vaultsPattern(collateral string) string {
	return fmt.Sprintf("vaults:%s:*", collateral)
}
