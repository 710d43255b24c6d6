package repository

import (
	"context"
	"errors"
	"time"

	"TradeAlchemist/internal/domain/models"
	domrepo "TradeAlchemist/internal/domain/repository"
	pkgcache "TradeAlchemist/pkg/cache"
	applogger "TradeAlchemist/pkg/logger"
)

// CachedVolatilityProvider memoizes lookups, including misses, for ttl.
type CachedVolatilityProvider struct {
	next  domrepo.VolatilityProvider
	cache pkgcache.Service
	ttl   time.Duration
	l     *applogger.Logger
}

func NewCachedVolatilityProvider(next domrepo.VolatilityProvider, c pkgcache.Service, ttl time.Duration, l *applogger.Logger) *CachedVolatilityProvider {
	return &CachedVolatilityProvider{next: next, cache: c, ttl: ttl, l: l}
}

type volEntry struct {
	Value float64 `json:"v"`
	Found bool    `json:"f"`
}

func (p *CachedVolatilityProvider) GetVolatility(ctx context.Context, key models.InstrumentKey) (float64, bool, error) {
	ck := pkgcache.JoinKey("vol", key.String())

	var e volEntry
	err := p.cache.Get(ctx, ck, &e)
	if err == nil {
		return e.Value, e.Found, nil
	}
	if !errors.Is(err, pkgcache.ErrCacheMiss) {
		p.l.Warn("volatility cache read failed", applogger.String("key", ck), applogger.Error(err))
	}

	v, found, err := p.next.GetVolatility(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if err := p.cache.Set(ctx, ck, volEntry{Value: v, Found: found}, p.ttl); err != nil {
		p.l.Warn("volatility cache write failed", applogger.String("key", ck), applogger.Error(err))
	}
	return v, found, nil
}
