package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"TradeAlchemist/internal/domain/models"
	domrepo "TradeAlchemist/internal/domain/repository"
	pkgch "TradeAlchemist/pkg/clickhouse"
	"TradeAlchemist/pkg/config"
	applogger "TradeAlchemist/pkg/logger"

	"github.com/shopspring/decimal"
)

const historyDDL = `
CREATE TABLE IF NOT EXISTS %s (
    ts       DateTime64(6, 'UTC'),
    symbol   LowCardinality(String),
    exchange LowCardinality(String),
    open     Float64,
    high     Float64,
    low      Float64,
    close    Float64,
    volume   UInt64
) ENGINE = MergeTree
ORDER BY (symbol, exchange, ts)`

const volatilityDDL = `
CREATE TABLE IF NOT EXISTS %s (
    symbol     LowCardinality(String),
    exchange   LowCardinality(String),
    volatility Float64,
    updated_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (symbol, exchange)`

// ClickHouseSchema returns the DDL for the history and volatility tables.
func ClickHouseSchema(historyTable, volatilityTable string) []string {
	return []string{
		fmt.Sprintf(historyDDL, historyTable),
		fmt.Sprintf(volatilityDDL, volatilityTable),
	}
}

// CHHistoryLog implements HistoryLog backed by a ClickHouse MergeTree.
type CHHistoryLog struct {
	ch    *pkgch.Client
	table string
	l     *applogger.Logger
}

func NewCHHistoryLog(ch *pkgch.Client, table string, l *applogger.Logger) *CHHistoryLog {
	return &CHHistoryLog{ch: ch, table: table, l: l}
}

func (s *CHHistoryLog) AppendBar(ctx context.Context, bar models.Bar) error {
	return s.AppendBars(ctx, []models.Bar{bar})
}

func (s *CHHistoryLog) AppendBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []any{
			b.Timestamp.UTC(),
			b.Key.Symbol,
			b.Key.Exchange,
			b.Open.InexactFloat64(),
			b.High.InexactFloat64(),
			b.Low.InexactFloat64(),
			b.Close.InexactFloat64(),
			b.Volume,
		})
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, exchange, open, high, low, close, volume)", s.table)
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		s.l.Error("clickhouse append bars failed", applogger.Int("bars", len(bars)), applogger.Error(err))
		return fmt.Errorf("append bars: %w", err)
	}
	return nil
}

func (s *CHHistoryLog) History(ctx context.Context, symbol, exchange string, limit int) ([]models.Bar, error) {
	q := fmt.Sprintf("SELECT ts, symbol, exchange, open, high, low, close, volume FROM %s WHERE symbol = ?", s.table)
	args := []any{symbol}
	if exchange != "" {
		q += " AND exchange = ?"
		args = append(args, exchange)
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.ch.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	return scanBars(rows, func(r *sql.Rows, b *barRow) error {
		return r.Scan(&b.ts, &b.symbol, &b.exchange, &b.open, &b.high, &b.low, &b.close, &b.volume)
	})
}

func (s *CHHistoryLog) LatestBars(ctx context.Context) ([]models.Bar, error) {
	q := fmt.Sprintf(`
        SELECT symbol, exchange, max(ts),
               argMax(open, ts), argMax(high, ts), argMax(low, ts), argMax(close, ts), argMax(volume, ts)
        FROM %s
        GROUP BY symbol, exchange
        ORDER BY symbol, exchange`, s.table)

	rows, err := s.ch.DB().QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query latest bars: %w", err)
	}
	defer rows.Close()
	return scanBars(rows, func(r *sql.Rows, b *barRow) error {
		return r.Scan(&b.symbol, &b.exchange, &b.ts, &b.open, &b.high, &b.low, &b.close, &b.volume)
	})
}

type barRow struct {
	ts                     time.Time
	symbol, exchange       string
	open, high, low, close float64
	volume                 uint64
}

func (r barRow) bar() models.Bar {
	return models.Bar{
		Key:       models.InstrumentKey{Symbol: r.symbol, Exchange: r.exchange},
		Timestamp: r.ts.UTC(),
		Open:      decimal.NewFromFloat(r.open).Round(2),
		High:      decimal.NewFromFloat(r.high).Round(2),
		Low:       decimal.NewFromFloat(r.low).Round(2),
		Close:     decimal.NewFromFloat(r.close).Round(2),
		Volume:    r.volume,
	}
}

func scanBars(rows *sql.Rows, scan func(*sql.Rows, *barRow) error) ([]models.Bar, error) {
	var out []models.Bar
	for rows.Next() {
		var r barRow
		if err := scan(rows, &r); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, r.bar())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// CHVolatilityProvider reads volatility scalars from a ReplacingMergeTree.
type CHVolatilityProvider struct {
	ch    *pkgch.Client
	table string
}

func NewCHVolatilityProvider(ch *pkgch.Client, table string) *CHVolatilityProvider {
	return &CHVolatilityProvider{ch: ch, table: table}
}

func (p *CHVolatilityProvider) GetVolatility(ctx context.Context, key models.InstrumentKey) (float64, bool, error) {
	q := fmt.Sprintf("SELECT volatility FROM %s FINAL WHERE symbol = ? AND exchange = ? LIMIT 1", p.table)
	var v float64
	err := p.ch.DB().QueryRowContext(ctx, q, key.Symbol, key.Exchange).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query volatility %s: %w", key, err)
	}
	return v, true, nil
}

// SetVolatility upserts one scalar. Later rows replace earlier ones on merge.
func (p *CHVolatilityProvider) SetVolatility(ctx context.Context, key models.InstrumentKey, v float64, at time.Time) error {
	q := fmt.Sprintf("INSERT INTO %s (symbol, exchange, volatility, updated_at)", p.table)
	return p.ch.InsertBatch(ctx, q, [][]any{{key.Symbol, key.Exchange, v, at.UTC()}})
}

// SeedInstruments writes one seed bar, and the volatility when positive, for every
// configured instrument that has no history yet.
func (s *CHHistoryLog) SeedInstruments(ctx context.Context, vols *CHVolatilityProvider, seeds []config.Instrument, now time.Time) (int, error) {
	latest, err := s.LatestBars(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[models.InstrumentKey]struct{}, len(latest))
	for _, b := range latest {
		known[b.Key] = struct{}{}
	}

	var bars []models.Bar
	for _, in := range seeds {
		key := models.InstrumentKey{Symbol: in.Symbol, Exchange: in.Exchange}
		if _, ok := known[key]; ok {
			continue
		}
		price, err := decimal.NewFromString(in.Price)
		if err != nil {
			return 0, fmt.Errorf("instrument %s: %w", key, err)
		}
		price = price.Round(2)
		bars = append(bars, models.NewBar(key, now, price, price, 0))
		if in.Volatility > 0 {
			if err := vols.SetVolatility(ctx, key, in.Volatility, now); err != nil {
				return 0, fmt.Errorf("seed volatility %s: %w", key, err)
			}
		}
	}
	if len(bars) == 0 {
		return 0, nil
	}
	if err := s.AppendBars(ctx, bars); err != nil {
		return 0, err
	}
	s.l.Info("seeded instrument history", applogger.Int("instruments", len(bars)))
	return len(bars), nil
}

var (
	_ domrepo.HistoryLog         = (*CHHistoryLog)(nil)
	_ domrepo.VolatilityProvider = (*CHVolatilityProvider)(nil)
)
