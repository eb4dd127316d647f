// Package market unifies the two quote providers — the realtime broker and
// the historical bulk API — behind one Source interface. Transport failures
// surface as ErrNotAvailable; the evaluator skips the ticker and retries on
// the next tick.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tripledash/internal/models"
)

// ErrNotAvailable is the only recoverable quote outcome.
var ErrNotAvailable = errors.New("quote not available")

// Quote is the transient per-tick market view. Never persisted.
type Quote struct {
	Ticker    string
	Price     decimal.Decimal
	PrevClose decimal.Decimal
	DayHigh   decimal.Decimal
	ChangePct decimal.Decimal
	Exchange  string
	FetchedAt time.Time
}

// Source is what the evaluator consumes: the latest trade plus a stitched
// candle series per interval.
type Source interface {
	LatestQuote(ctx context.Context, ticker string) (Quote, error)
	Candles(ctx context.Context, ticker, interval string, lookback int) ([]models.Candle, error)
}
