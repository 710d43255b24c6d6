package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"TradeAlchemist/internal/domain/models"
	domrepo "TradeAlchemist/internal/domain/repository"
	pkgcache "TradeAlchemist/pkg/cache"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisStore keeps live prices and the regime singleton in Redis.
// Each live price is one JSON value; a set indexes the instrument keys.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) priceKey(key string) string {
	return pkgcache.JoinKey(s.prefix, "prices", "live", key)
}

func (s *RedisStore) indexKey() string {
	return pkgcache.JoinKey(s.prefix, "prices", "index")
}

func (s *RedisStore) regimeKey() string {
	return pkgcache.JoinKey(s.prefix, "market", "state")
}

type redisPrice struct {
	Symbol     string          `json:"symbol"`
	Exchange   string          `json:"exchange"`
	Price      decimal.Decimal `json:"price"`
	LastUpdate time.Time       `json:"last_update"`
	Source     string          `json:"source"`
}

func (s *RedisStore) GetAllInstruments(ctx context.Context) ([]models.LivePrice, error) {
	members, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	sort.Strings(members)

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.priceKey(m)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load live prices: %w", err)
	}

	out := make([]models.LivePrice, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// indexed but value gone; skip rather than fail the whole tick
			continue
		}
		var rp redisPrice
		if err := json.Unmarshal([]byte(str), &rp); err != nil {
			return nil, fmt.Errorf("decode %s: %w", members[i], err)
		}
		out = append(out, rp.live())
	}
	return out, nil
}

func (s *RedisStore) UpdatePrice(ctx context.Context, key models.InstrumentKey, price decimal.Decimal, ts time.Time, source models.PriceSource) error {
	data, err := json.Marshal(toRedisPrice(models.LivePrice{Key: key, Price: price, LastUpdate: ts, Source: source}))
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetXX(ctx, s.priceKey(key.String()), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, domrepo.ErrNotFound)
	}
	return nil
}

func (s *RedisStore) Seed(ctx context.Context, prices []models.LivePrice) error {
	old, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range old {
			pipe.Del(ctx, s.priceKey(m))
		}
		pipe.Del(ctx, s.indexKey())
		for _, p := range prices {
			data, err := json.Marshal(toRedisPrice(p))
			if err != nil {
				return err
			}
			pipe.Set(ctx, s.priceKey(p.Key.String()), data, 0)
			pipe.SAdd(ctx, s.indexKey(), p.Key.String())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed live prices: %w", err)
	}
	return nil
}

func (s *RedisStore) GetRegime(ctx context.Context) (models.RegimeState, error) {
	data, err := s.rdb.Get(ctx, s.regimeKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RegimeState{}, domrepo.ErrNotFound
	}
	if err != nil {
		return models.RegimeState{}, fmt.Errorf("get regime: %w", err)
	}
	var st models.RegimeState
	if err := json.Unmarshal(data, &st); err != nil {
		return models.RegimeState{}, fmt.Errorf("decode regime: %w", err)
	}
	return st, nil
}

func (s *RedisStore) SetRegime(ctx context.Context, st models.RegimeState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.regimeKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("set regime: %w", err)
	}
	return nil
}

func toRedisPrice(p models.LivePrice) redisPrice {
	return redisPrice{
		Symbol:     p.Key.Symbol,
		Exchange:   p.Key.Exchange,
		Price:      p.Price,
		LastUpdate: p.LastUpdate.UTC(),
		Source:     string(p.Source),
	}
}

func (r redisPrice) live() models.LivePrice {
	return models.LivePrice{
		Key:        models.InstrumentKey{Symbol: r.Symbol, Exchange: r.Exchange},
		Price:      r.Price,
		LastUpdate: r.LastUpdate,
		Source:     models.PriceSource(r.Source),
	}
}

// CacheTickLock adapts a cache lock to TickLock.
type CacheTickLock struct {
	c   pkgcache.Service
	key string
	ttl time.Duration
}

func NewCacheTickLock(c pkgcache.Service, key string, ttl time.Duration) *CacheTickLock {
	return &CacheTickLock{c: c, key: key, ttl: ttl}
}

func (l *CacheTickLock) TryLock(ctx context.Context) (bool, error) {
	return l.c.TryLock(ctx, l.key, l.ttl)
}

func (l *CacheTickLock) Unlock(ctx context.Context) error {
	return l.c.Unlock(ctx, l.key)
}

var (
	_ domrepo.LivePriceStore = (*RedisStore)(nil)
	_ domrepo.RegimeStore    = (*RedisStore)(nil)
	_ domrepo.TickLock       = (*CacheTickLock)(nil)
)
