// Package redisstore wraps a primary PositionsCacheStore with a Redis
// read-through cache. Position snapshots are the hottest read in the
// system (every listing create checks a balance) and already tolerate
// TTL-bounded staleness, which makes them the one store worth fronting
// with Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

// PositionsCacheStore is a read-through Redis layer over a primary store.
// Writes go to the primary and refresh Redis; reads check Redis first.
type PositionsCacheStore struct {
	primary storage.PositionsCacheStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewPositionsCacheStore creates the cached wrapper.
func NewPositionsCacheStore(primary storage.PositionsCacheStore, rdb *redis.Client, ttl time.Duration) *PositionsCacheStore {
	return &PositionsCacheStore{primary: primary, rdb: rdb, ttl: ttl}
}

var _ storage.PositionsCacheStore = (*PositionsCacheStore)(nil)

func snapshotKey(assetPk string) string { return fmt.Sprintf("positions:%s", assetPk) }

// Get checks Redis first and falls back to the primary, repopulating the
// cache on a miss.
func (s *PositionsCacheStore) Get(ctx context.Context, assetPk string) (*domain.PositionSnapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(assetPk)).Bytes()
	if err == nil {
		var snap domain.PositionSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.Get(ctx, assetPk)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, snap)
	return snap, nil
}

// Put writes through to the primary and refreshes Redis.
func (s *PositionsCacheStore) Put(ctx context.Context, snap *domain.PositionSnapshot) error {
	if err := s.primary.Put(ctx, snap); err != nil {
		return err
	}
	s.cache(ctx, snap)
	return nil
}

// Delete drops the snapshot everywhere.
func (s *PositionsCacheStore) Delete(ctx context.Context, assetPk string) error {
	if err := s.primary.Delete(ctx, assetPk); err != nil {
		return err
	}
	s.rdb.Del(ctx, snapshotKey(assetPk))
	return nil
}

func (s *PositionsCacheStore) cache(ctx context.Context, snap *domain.PositionSnapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, snapshotKey(snap.AssetPk), data, s.ttl)
	}
}
