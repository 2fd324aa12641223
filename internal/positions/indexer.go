// Package positions is the single source of truth for who holds how many
// fractional units of each asset. Balances are reconstructed from the
// ledger's token-account state; client-supplied balances are never trusted.
//
// The cache is a derived, replaceable artifact. Reads within the TTL are
// served directly; an expired snapshot is still served while a background
// refresh runs, so hot paths never block on a ledger scan.
package positions

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/ledger"
	"invoice-market/internal/observability"
	"invoice-market/internal/solana"
	"invoice-market/internal/storage"
)

// Config tunes the indexer loops.
type Config struct {
	// SweepInterval is the period of the full sweep over fractionalized
	// assets. Default 30s.
	SweepInterval time.Duration
	// CacheTTL bounds how old a served snapshot may be before a refresh is
	// kicked. Default 30s.
	CacheTTL time.Duration
	// Debounce coalesces ledger change notifications per mint. Default 2s.
	Debounce time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	return c
}

// Indexer recomputes per-asset ownership on a fixed sweep and on ledger
// change notifications.
type Indexer struct {
	gw      *ledger.Gateway
	assets  storage.AssetStore
	cache   storage.PositionsCacheStore
	history storage.PositionHistoryStore
	ws      solana.WSClient // nil disables the live trigger
	cfg     Config
	logger  *log.Logger

	now func() int64 // unix ms

	mu         sync.Mutex
	subscribed map[string]bool       // shares mint -> live subscription active
	debounce   map[string]*time.Timer // asset pk -> pending recompute
	refreshing map[string]bool       // asset pk -> async refresh in flight
}

// New creates an Indexer. ws may be nil; the periodic sweep then remains
// the only trigger.
func New(gw *ledger.Gateway, assets storage.AssetStore, cache storage.PositionsCacheStore, history storage.PositionHistoryStore, ws solana.WSClient, cfg Config) *Indexer {
	return &Indexer{
		gw:         gw,
		assets:     assets,
		cache:      cache,
		history:    history,
		ws:         ws,
		cfg:        cfg.withDefaults(),
		logger:     log.New(log.Writer(), "[positions] ", log.LstdFlags),
		now:        func() int64 { return time.Now().UnixMilli() },
		subscribed: make(map[string]bool),
		debounce:   make(map[string]*time.Timer),
		refreshing: make(map[string]bool),
	}
}

// Run drives the sweep loop until ctx is canceled. An immediate sweep runs
// before the first tick so a fresh process serves positions right away.
func (i *Indexer) Run(ctx context.Context) {
	i.logger.Printf("starting, sweep every %s, ttl %s", i.cfg.SweepInterval, i.cfg.CacheTTL)
	i.sweep(ctx)

	ticker := time.NewTicker(i.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			i.logger.Printf("stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			i.sweep(ctx)
		}
	}
}

// sweep recomputes every fractionalized asset. A failing asset is logged
// and skipped; its stale snapshot stays authoritative until the next
// successful scan.
func (i *Indexer) sweep(ctx context.Context) {
	observability.RecordSweep()

	assets, err := i.assets.ListFractionalized(ctx)
	if err != nil {
		i.logger.Printf("sweep: list assets: %v", err)
		return
	}

	failed := 0
	for _, a := range assets {
		if ctx.Err() != nil {
			return
		}
		if _, err := i.Refresh(ctx, a.AssetPk); err != nil {
			failed++
			observability.RecordSweepAssetError()
			i.logger.Printf("sweep: asset %s: %v", a.AssetPk, err)
			continue
		}
		i.ensureSubscribed(ctx, a)
	}
	if failed == 0 {
		observability.DefaultMetrics.LastSuccessfulSweep.Set(float64(time.Now().Unix()))
	}
}

// ensureSubscribed opens a live log subscription for the asset's shares
// mint once. Notifications trigger a debounced recompute.
func (i *Indexer) ensureSubscribed(ctx context.Context, a *domain.AssetRecord) {
	if i.ws == nil || !a.Fractionalized() {
		return
	}
	mint := *a.SharesMint

	i.mu.Lock()
	if i.subscribed[mint] {
		i.mu.Unlock()
		return
	}
	i.subscribed[mint] = true
	i.mu.Unlock()

	ch, err := i.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{mint}})
	if err != nil {
		i.mu.Lock()
		delete(i.subscribed, mint)
		i.mu.Unlock()
		i.logger.Printf("subscribe mint %s: %v", mint, err)
		return
	}

	assetPk := a.AssetPk
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					i.mu.Lock()
					delete(i.subscribed, mint)
					i.mu.Unlock()
					return
				}
				i.scheduleRecompute(ctx, assetPk)
			}
		}
	}()
}

// scheduleRecompute coalesces change notifications into one recompute per
// asset per debounce window.
func (i *Indexer) scheduleRecompute(ctx context.Context, assetPk string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if t, ok := i.debounce[assetPk]; ok {
		t.Reset(i.cfg.Debounce)
		return
	}
	i.debounce[assetPk] = time.AfterFunc(i.cfg.Debounce, func() {
		i.mu.Lock()
		delete(i.debounce, assetPk)
		i.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if _, err := i.Refresh(ctx, assetPk); err != nil {
			i.logger.Printf("live recompute asset %s: %v", assetPk, err)
		}
	})
}

// Refresh recomputes one asset's snapshot from the ledger, emits a diff
// record per changed wallet and replaces the cache. It also refreshes the
// local echo of the asset record itself.
func (i *Indexer) Refresh(ctx context.Context, assetPk string) (*domain.PositionSnapshot, error) {
	record, err := i.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		return nil, err
	}

	now := i.now()
	record.UpdatedAt = now
	if prev, err := i.assets.GetByPk(ctx, assetPk); err == nil {
		record.CreatedAt = prev.CreatedAt
		record.LastSig = prev.LastSig
	} else {
		record.CreatedAt = now
	}
	if err := i.assets.Upsert(ctx, record); err != nil {
		return nil, err
	}

	if !record.Fractionalized() {
		// Nothing to scan; whole-asset ownership is the investor field.
		return &domain.PositionSnapshot{AssetPk: assetPk, UpdatedAt: now}, nil
	}

	current, err := i.gw.GetTokenBalances(ctx, *record.SharesMint)
	if err != nil {
		return nil, err
	}

	prev, err := i.cache.Get(ctx, assetPk)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}

	diffs := diffSnapshots(prev, current, assetPk, now)

	// Cache first. The history is append-only with no dedup, so the diff
	// baseline has to advance before any rows land: a failed append then
	// loses those rows instead of double-writing them on the next sweep.
	snap := &domain.PositionSnapshot{AssetPk: assetPk, Positions: current, UpdatedAt: now}
	if err := i.cache.Put(ctx, snap); err != nil {
		return nil, err
	}
	if len(diffs) > 0 {
		if err := i.history.Append(ctx, diffs); err != nil {
			i.logger.Printf("append %d diffs asset=%s: %v", len(diffs), assetPk, err)
		}
	}
	observability.RecordSnapshotRefresh(len(diffs))
	return snap, nil
}

// diffSnapshots emits one record per wallet whose balance changed between
// snapshots, including wallets that dropped to zero. Output sorts by wallet.
func diffSnapshots(prev *domain.PositionSnapshot, current []domain.Position, assetPk string, ts int64) []*domain.PositionDiff {
	old := make(map[string]uint64)
	if prev != nil {
		for _, p := range prev.Positions {
			old[p.Wallet] = p.Amount
		}
	}

	var diffs []*domain.PositionDiff
	seen := make(map[string]bool, len(current))
	for _, p := range current {
		seen[p.Wallet] = true
		before := old[p.Wallet]
		if p.Amount == before {
			continue
		}
		diffs = append(diffs, &domain.PositionDiff{
			AssetPk:   assetPk,
			Wallet:    p.Wallet,
			Delta:     int64(p.Amount) - int64(before),
			NewAmount: p.Amount,
			Ts:        ts,
		})
	}
	for wallet, before := range old {
		if seen[wallet] || before == 0 {
			continue
		}
		diffs = append(diffs, &domain.PositionDiff{
			AssetPk:   assetPk,
			Wallet:    wallet,
			Delta:     -int64(before),
			NewAmount: 0,
			Ts:        ts,
		})
	}

	sort.Slice(diffs, func(a, b int) bool { return diffs[a].Wallet < diffs[b].Wallet })
	return diffs
}

// Positions returns the asset's ownership snapshot. A fresh cache entry is
// served directly; an expired one is served stale while a background
// refresh runs; a missing one forces a synchronous recompute.
func (i *Indexer) Positions(ctx context.Context, assetPk string) (*domain.PositionSnapshot, error) {
	snap, err := i.cache.Get(ctx, assetPk)
	if err == storage.ErrNotFound {
		return i.Refresh(ctx, assetPk)
	}
	if err != nil {
		return nil, err
	}

	age := time.Duration(i.now()-snap.UpdatedAt) * time.Millisecond
	if age > i.cfg.CacheTTL {
		observability.RecordStaleServe()
		i.refreshAsync(assetPk)
	}
	return snap, nil
}

// refreshAsync kicks a single background refresh per asset.
func (i *Indexer) refreshAsync(assetPk string) {
	i.mu.Lock()
	if i.refreshing[assetPk] {
		i.mu.Unlock()
		return
	}
	i.refreshing[assetPk] = true
	i.mu.Unlock()

	go func() {
		defer func() {
			i.mu.Lock()
			delete(i.refreshing, assetPk)
			i.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := i.Refresh(ctx, assetPk); err != nil {
			i.logger.Printf("async refresh asset %s: %v", assetPk, err)
		}
	}()
}

// WalletBalance returns one wallet's current balance for an asset. Feeds
// the marketplace's no-over-listing check.
func (i *Indexer) WalletBalance(ctx context.Context, assetPk, wallet string) (uint64, error) {
	snap, err := i.Positions(ctx, assetPk)
	if err != nil {
		return 0, err
	}
	return snap.Balance(wallet), nil
}

// History returns the newest diff records for an asset.
func (i *Indexer) History(ctx context.Context, assetPk string, limit int) ([]*domain.PositionDiff, error) {
	return i.history.ListByAsset(ctx, assetPk, limit)
}
