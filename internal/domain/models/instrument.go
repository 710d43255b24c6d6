package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentKey uniquely identifies a tradable instrument.
type InstrumentKey struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// String renders the key as SYMBOL.EXCHANGE.
func (k InstrumentKey) String() string {
	return fmt.Sprintf("%s.%s", k.Symbol, k.Exchange)
}

// Less orders keys by symbol, then exchange.
func (k InstrumentKey) Less(o InstrumentKey) bool {
	if k.Symbol != o.Symbol {
		return k.Symbol < o.Symbol
	}
	return k.Exchange < o.Exchange
}

// ParseInstrumentKey parses SYMBOL.EXCHANGE. The exchange is everything after the last dot.
func ParseInstrumentKey(s string) (InstrumentKey, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return InstrumentKey{}, fmt.Errorf("invalid instrument key %q", s)
	}
	return InstrumentKey{Symbol: s[:i], Exchange: s[i+1:]}, nil
}

// PriceSource tags which generator produced a live price.
type PriceSource string

// SourceHistoricalInit marks live prices seeded from the latest historical bar.
const SourceHistoricalInit PriceSource = "historical_init"

// LivePrice is the current price snapshot of one instrument.
type LivePrice struct {
	Key        InstrumentKey   `json:"key"`
	Price      decimal.Decimal `json:"price"`
	LastUpdate time.Time       `json:"last_update"`
	Source     PriceSource     `json:"source"`
}

// Bar is the OHLCV record of one instrument for one tick.
type Bar struct {
	Key       InstrumentKey   `json:"key"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    uint64          `json:"volume"`
}

// NewBar builds a bar whose high/low are derived from open and close.
func NewBar(key InstrumentKey, ts time.Time, open, close decimal.Decimal, volume uint64) Bar {
	return Bar{
		Key:       key,
		Timestamp: ts,
		Open:      open,
		High:      decimal.Max(open, close),
		Low:       decimal.Min(open, close),
		Close:     close,
		Volume:    volume,
	}
}

// DefaultVolatility is used when an instrument has no volatility record.
const DefaultVolatility = 1.0
