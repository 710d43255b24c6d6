package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"TradeAlchemist/internal/domain/models"
	domrepo "TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/pkg/config"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type livePriceRecord struct {
	Symbol     string          `gorm:"primaryKey;size:32"`
	Exchange   string          `gorm:"primaryKey;size:16"`
	Price      decimal.Decimal `gorm:"type:text;not null"`
	LastUpdate time.Time
	Source     string `gorm:"size:64"`
}

func (livePriceRecord) TableName() string { return "live_prices" }

type barRecord struct {
	ID       uint            `gorm:"primaryKey"`
	Symbol   string          `gorm:"size:32;index:idx_history_key_ts,priority:1"`
	Exchange string          `gorm:"size:16;index:idx_history_key_ts,priority:2"`
	TsMicros int64           `gorm:"column:ts_us;index:idx_history_key_ts,priority:3"`
	Open     decimal.Decimal `gorm:"type:text"`
	High     decimal.Decimal `gorm:"type:text"`
	Low      decimal.Decimal `gorm:"type:text"`
	Close    decimal.Decimal `gorm:"type:text"`
	Volume   uint64
}

func (barRecord) TableName() string { return "price_history" }

type volatilityRecord struct {
	Symbol     string `gorm:"primaryKey;size:32"`
	Exchange   string `gorm:"primaryKey;size:16"`
	Volatility float64
}

func (volatilityRecord) TableName() string { return "instrument_volatility" }

// Singleton row, ID is always 1.
type regimeRecord struct {
	ID             uint `gorm:"primaryKey"`
	Regime         string
	RemainingTicks int
	StartedAt      time.Time
}

func (regimeRecord) TableName() string { return "market_state" }

// SQLiteStore is the embedded single-node backend. It implements LivePriceStore,
// HistoryLog, VolatilityProvider and RegimeStore on one database file.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&livePriceRecord{}, &barRecord{}, &volatilityRecord{}, &regimeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SeedInstruments gives each configured instrument that has no history one seed bar at now,
// and records its volatility when positive. It returns how many instruments were seeded.
func (s *SQLiteStore) SeedInstruments(ctx context.Context, seeds []config.Instrument, now time.Time) (int, error) {
	seeded := 0
	for _, in := range seeds {
		price, err := decimal.NewFromString(in.Price)
		if err != nil {
			return seeded, fmt.Errorf("instrument %s.%s: %w", in.Symbol, in.Exchange, err)
		}
		key := models.InstrumentKey{Symbol: in.Symbol, Exchange: in.Exchange}

		var n int64
		err = s.db.WithContext(ctx).Model(&barRecord{}).
			Where("symbol = ? AND exchange = ?", key.Symbol, key.Exchange).
			Count(&n).Error
		if err != nil {
			return seeded, fmt.Errorf("count history %s: %w", key, err)
		}
		if n > 0 {
			continue
		}

		price = price.Round(2)
		if err := s.AppendBar(ctx, models.NewBar(key, now, price, price, 0)); err != nil {
			return seeded, err
		}
		if in.Volatility > 0 {
			if err := s.SetVolatility(ctx, key, in.Volatility); err != nil {
				return seeded, fmt.Errorf("seed volatility %s: %w", key, err)
			}
		}
		seeded++
	}
	return seeded, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) GetAllInstruments(ctx context.Context) ([]models.LivePrice, error) {
	var rows []livePriceRecord
	if err := s.db.WithContext(ctx).Order("symbol, exchange").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list live prices: %w", err)
	}
	out := make([]models.LivePrice, len(rows))
	for i, r := range rows {
		out[i] = models.LivePrice{
			Key:        models.InstrumentKey{Symbol: r.Symbol, Exchange: r.Exchange},
			Price:      r.Price,
			LastUpdate: r.LastUpdate.UTC(),
			Source:     models.PriceSource(r.Source),
		}
	}
	return out, nil
}

func (s *SQLiteStore) UpdatePrice(ctx context.Context, key models.InstrumentKey, price decimal.Decimal, ts time.Time, source models.PriceSource) error {
	res := s.db.WithContext(ctx).Model(&livePriceRecord{}).
		Where("symbol = ? AND exchange = ?", key.Symbol, key.Exchange).
		Updates(map[string]any{"price": price, "last_update": ts.UTC(), "source": string(source)})
	if res.Error != nil {
		return fmt.Errorf("update %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", key, domrepo.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Seed(ctx context.Context, prices []models.LivePrice) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&livePriceRecord{}).Error; err != nil {
			return fmt.Errorf("clear live prices: %w", err)
		}
		if len(prices) == 0 {
			return nil
		}
		rows := make([]livePriceRecord, len(prices))
		for i, p := range prices {
			rows[i] = livePriceRecord{
				Symbol:     p.Key.Symbol,
				Exchange:   p.Key.Exchange,
				Price:      p.Price,
				LastUpdate: p.LastUpdate.UTC(),
				Source:     string(p.Source),
			}
		}
		return tx.CreateInBatches(rows, 500).Error
	})
}

func (s *SQLiteStore) AppendBar(ctx context.Context, bar models.Bar) error {
	return s.AppendBars(ctx, []models.Bar{bar})
}

func (s *SQLiteStore) AppendBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]barRecord, len(bars))
	for i, b := range bars {
		rows[i] = barRecord{
			Symbol:   b.Key.Symbol,
			Exchange: b.Key.Exchange,
			TsMicros: b.Timestamp.UnixMicro(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("append bars: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, symbol, exchange string, limit int) ([]models.Bar, error) {
	q := s.db.WithContext(ctx).Where("symbol = ?", symbol)
	if exchange != "" {
		q = q.Where("exchange = ?", exchange)
	}
	var rows []barRecord
	if err := q.Order("ts_us DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return barsFromRecords(rows), nil
}

func (s *SQLiteStore) LatestBars(ctx context.Context) ([]models.Bar, error) {
	var rows []barRecord
	err := s.db.WithContext(ctx).Raw(`
        SELECT h.* FROM price_history h
        WHERE h.id = (
            SELECT h2.id FROM price_history h2
            WHERE h2.symbol = h.symbol AND h2.exchange = h.exchange
            ORDER BY h2.ts_us DESC, h2.id DESC LIMIT 1
        )
        ORDER BY h.symbol, h.exchange`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query latest bars: %w", err)
	}
	return barsFromRecords(rows), nil
}

func barsFromRecords(rows []barRecord) []models.Bar {
	out := make([]models.Bar, len(rows))
	for i, r := range rows {
		out[i] = models.Bar{
			Key:       models.InstrumentKey{Symbol: r.Symbol, Exchange: r.Exchange},
			Timestamp: time.UnixMicro(r.TsMicros).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}
	return out
}

func (s *SQLiteStore) GetVolatility(ctx context.Context, key models.InstrumentKey) (float64, bool, error) {
	var r volatilityRecord
	err := s.db.WithContext(ctx).First(&r, "symbol = ? AND exchange = ?", key.Symbol, key.Exchange).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query volatility %s: %w", key, err)
	}
	return r.Volatility, true, nil
}

func (s *SQLiteStore) SetVolatility(ctx context.Context, key models.InstrumentKey, v float64) error {
	return s.db.WithContext(ctx).Save(&volatilityRecord{Symbol: key.Symbol, Exchange: key.Exchange, Volatility: v}).Error
}

func (s *SQLiteStore) GetRegime(ctx context.Context) (models.RegimeState, error) {
	var r regimeRecord
	err := s.db.WithContext(ctx).First(&r, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RegimeState{}, domrepo.ErrNotFound
	}
	if err != nil {
		return models.RegimeState{}, fmt.Errorf("get regime: %w", err)
	}
	return models.RegimeState{
		Regime:         models.Regime(r.Regime),
		RemainingTicks: r.RemainingTicks,
		StartedAt:      r.StartedAt.UTC(),
	}, nil
}

func (s *SQLiteStore) SetRegime(ctx context.Context, st models.RegimeState) error {
	err := s.db.WithContext(ctx).Save(&regimeRecord{
		ID:             1,
		Regime:         string(st.Regime),
		RemainingTicks: st.RemainingTicks,
		StartedAt:      st.StartedAt.UTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("set regime: %w", err)
	}
	return nil
}

var (
	_ domrepo.LivePriceStore     = (*SQLiteStore)(nil)
	_ domrepo.HistoryLog         = (*SQLiteStore)(nil)
	_ domrepo.VolatilityProvider = (*SQLiteStore)(nil)
	_ domrepo.RegimeStore        = (*SQLiteStore)(nil)
)
