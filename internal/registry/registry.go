// Package registry keeps the last observed state of every asset and pool the
// launchpad has touched, keyed by entity id and guarded by ledger versions.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/pkg/kv"
)

var (
	ErrNotFound     = errors.New("registry entry not found")
	ErrStaleVersion = errors.New("registry entry version is older than stored")
	ErrUnavailable  = errors.New("registry unavailable")
	// ErrContention means the compare-and-swap kept losing to other writers.
	ErrContention = errors.New("registry write contention")
)

const maxSwapAttempts = 8

const keyPrefix = "lp:"

type Kind string

const (
	KindAsset Kind = "asset"
	KindPool  Kind = "pool"
)

// Entry is one versioned record. Version is the ledger object version the
// state was read at, so re-recording the same read is a no-op.
type Entry struct {
	Key       string          `json:"key"`
	Kind      Kind            `json:"kind"`
	Version   uint64          `json:"version"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Order selects the creation-time ordering of listings.
type Order int

const (
	Ascending Order = iota
	Descending
)

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc":
		return Ascending, nil
	case "desc":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown order %q (must be asc or desc)", s)
	}
}

func AssetKey(address string) string { return keyPrefix + "asset:" + address }
func PoolKey(id string) string       { return keyPrefix + "pool:" + id }

func assetPoolsKey(asset string) string      { return keyPrefix + "asset-pools:" + asset }
func creatorAssetsKey(creator string) string { return keyPrefix + "creator-assets:" + creator }

// indexMember sorts lexicographically by creation time.
func indexMember(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d|%s", createdAt.UnixNano(), id))
}

type Registry struct {
	store  kv.Store
	now    func() time.Time
	logger *zap.SugaredLogger
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Registry) { r.logger = logger }
}

func New(store kv.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		now:    time.Now,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Put writes e unless a newer version is stored. Writing the stored version
// again is a no-op. Concurrent writers are serialized by compare-and-swap.
func (r *Registry) Put(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return fmt.Errorf("registry entry key is required")
	}
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		raw, err := r.store.Get(ctx, e.Key)
		var prev []byte
		switch {
		case errors.Is(err, kv.ErrNotFound):
		case err != nil:
			return unavailable(err)
		default:
			var stored Entry
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("decode stored entry %s: %w", e.Key, err)
			}
			if e.Version < stored.Version {
				return fmt.Errorf("%w: %s has version %d, got %d", ErrStaleVersion, e.Key, stored.Version, e.Version)
			}
			if e.Version == stored.Version {
				return nil
			}
			prev = raw
		}

		e.UpdatedAt = r.now().UTC()
		next, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.Key, err)
		}
		swapped, err := r.store.CompareAndSwap(ctx, e.Key, prev, next)
		if err != nil {
			return unavailable(err)
		}
		if swapped {
			return nil
		}
		r.logger.Debugw("Registry write lost compare-and-swap, retrying",
			"key", e.Key,
			"version", e.Version,
			"attempt", attempt+1,
		)
	}
	return fmt.Errorf("%w: %s", ErrContention, e.Key)
}

func (r *Registry) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return &e, nil
}

func (r *Registry) PutAsset(ctx context.Context, asset *domain.Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("encode asset %s: %w", asset.Address, err)
	}
	if err := r.Put(ctx, Entry{Key: AssetKey(asset.Address), Kind: KindAsset, Version: asset.Version, Data: data}); err != nil {
		return err
	}
	if asset.Creator != "" {
		if _, err := r.store.SAdd(ctx, creatorAssetsKey(asset.Creator), indexMember(asset.CreatedAt, asset.Address)); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (r *Registry) Asset(ctx context.Context, address string) (*domain.Asset, error) {
	e, err := r.Get(ctx, AssetKey(address))
	if err != nil {
		return nil, err
	}
	var a domain.Asset
	if err := json.Unmarshal(e.Data, &a); err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", address, err)
	}
	return &a, nil
}

func (r *Registry) PutPool(ctx context.Context, pool *domain.LiquidityPool) error {
	data, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("encode pool %s: %w", pool.ID, err)
	}
	if err := r.Put(ctx, Entry{Key: PoolKey(pool.ID), Kind: KindPool, Version: pool.Version, Data: data}); err != nil {
		return err
	}
	member := indexMember(pool.CreatedAt, pool.ID)
	for _, asset := range []string{pool.BaseAsset, pool.QuoteAsset} {
		if _, err := r.store.SAdd(ctx, assetPoolsKey(asset), member); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (r *Registry) Pool(ctx context.Context, id string) (*domain.LiquidityPool, error) {
	e, err := r.Get(ctx, PoolKey(id))
	if err != nil {
		return nil, err
	}
	var p domain.LiquidityPool
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("decode pool %s: %w", id, err)
	}
	return &p, nil
}

// PoolsForAsset lists every recorded pool with asset on either side, by
// creation time. The sequence is lazy: each pool is loaded as it is yielded,
// and ranging over it again starts a fresh listing.
func (r *Registry) PoolsForAsset(ctx context.Context, asset string, order Order) iter.Seq2[*domain.LiquidityPool, error] {
	return func(yield func(*domain.LiquidityPool, error) bool) {
		ids, err := r.indexed(ctx, assetPoolsKey(asset), order)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			p, err := r.Pool(ctx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !p.Involves(asset) {
				continue
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// AssetsByCreator lists the recorded assets created by creator, oldest first.
func (r *Registry) AssetsByCreator(ctx context.Context, creator string) iter.Seq2[*domain.Asset, error] {
	return func(yield func(*domain.Asset, error) bool) {
		ids, err := r.indexed(ctx, creatorAssetsKey(creator), Ascending)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			a, err := r.Asset(ctx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(a, nil) {
				return
			}
		}
	}
}

func (r *Registry) indexed(ctx context.Context, key string, order Order) ([]string, error) {
	members, err := r.store.SMembers(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	sort.Slice(members, func(i, j int) bool {
		if order == Descending {
			return bytes.Compare(members[i], members[j]) > 0
		}
		return bytes.Compare(members[i], members[j]) < 0
	})
	ids := make([]string, 0, len(members))
	for _, m := range members {
		_, id, ok := strings.Cut(string(m), "|")
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Ping checks that the backing store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}
