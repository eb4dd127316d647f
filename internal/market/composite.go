package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tripledash/internal/indicator"
	"tripledash/internal/models"
	"tripledash/internal/repository"
)

// CompositeSource implements Source by stitching the history vendor's bulk
// series with the broker's realtime tail. Fetched history is persisted so a
// restart does not replay the whole backfill; realtime rows win on overlap.
type CompositeSource struct {
	Broker  *BrokerClient
	History *HistoryClient
	Repo    repository.Repository
	Logger  *zap.Logger

	// RealtimeTail is how many recent broker bars overlay the history series.
	RealtimeTail int
}

// LatestQuote prefers the realtime broker. When every venue is down the last
// daily history bar stands in, so an outage degrades the signal instead of
// blinding the evaluator.
func (s *CompositeSource) LatestQuote(ctx context.Context, ticker string) (Quote, error) {
	if s == nil {
		return Quote{}, ErrNotAvailable
	}
	if s.Broker != nil {
		q, err := s.Broker.LatestQuote(ctx, ticker)
		if err == nil {
			if q.PrevClose.IsZero() && s.History != nil {
				if prev, herr := s.History.LastDailyClose(ctx, ticker); herr == nil {
					q.PrevClose = prev
				}
			}
			return q, nil
		}
		if s.Logger != nil {
			s.Logger.Warn("realtime quote unavailable, falling back to daily history",
				zap.String("ticker", ticker), zap.Error(err))
		}
	}
	return s.dailyFallbackQuote(ctx, ticker)
}

// dailyFallbackQuote synthesizes a quote from the last two daily bars. The
// bar timestamp stays as FetchedAt so a stale close never overlays fresher
// intraday candles.
func (s *CompositeSource) dailyFallbackQuote(ctx context.Context, ticker string) (Quote, error) {
	if s.History == nil {
		return Quote{}, ErrNotAvailable
	}
	bars, err := s.History.Candles(ctx, ticker, models.Interval1d, 2)
	if err != nil || len(bars) == 0 {
		return Quote{}, ErrNotAvailable
	}
	last := bars[len(bars)-1]
	q := Quote{
		Ticker:    ticker,
		Price:     decimal.NewFromFloat(last.Close),
		DayHigh:   decimal.NewFromFloat(last.High),
		FetchedAt: last.TS,
	}
	if len(bars) > 1 {
		q.PrevClose = decimal.NewFromFloat(bars[0].Close)
	}
	return q, nil
}

// Candles returns an ascending series of lookback bars: stored history topped
// up from the bulk vendor when stale, overlaid with the broker's live tail.
func (s *CompositeSource) Candles(ctx context.Context, ticker, interval string, lookback int) ([]models.Candle, error) {
	if s == nil || s.Repo == nil {
		return nil, ErrNotAvailable
	}
	stored, err := s.Repo.LoadCandles(ctx, ticker, interval, lookback)
	if err != nil {
		return nil, err
	}
	if s.staleOrShort(ctx, ticker, interval, lookback, stored) {
		if fresh := s.backfill(ctx, ticker, interval, lookback); len(fresh) > 0 {
			stored = fresh
		}
	}

	tail := s.realtimeTail(ctx, ticker, interval)
	out := indicator.Stitch(stored, tail)
	if len(tail) > 0 {
		if err := s.Repo.UpsertCandles(ctx, tail); err != nil && s.Logger != nil {
			s.Logger.Warn("realtime candle upsert failed", zap.String("ticker", ticker), zap.Error(err))
		}
	}
	if len(out) > lookback {
		out = out[len(out)-lookback:]
	}
	return out, nil
}

func (s *CompositeSource) staleOrShort(ctx context.Context, ticker, interval string, lookback int, stored []models.Candle) bool {
	if len(stored) < lookback {
		return true
	}
	last, err := s.Repo.LastCandleTS(ctx, ticker, interval)
	if err != nil || last == nil {
		return true
	}
	return time.Since(*last) > staleness(interval)
}

func (s *CompositeSource) backfill(ctx context.Context, ticker, interval string, lookback int) []models.Candle {
	if s.History == nil {
		return nil
	}
	fresh, err := s.History.Candles(ctx, ticker, interval, lookback)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("history backfill failed", zap.String("ticker", ticker), zap.String("interval", interval), zap.Error(err))
		}
		return nil
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := s.Repo.UpsertCandles(ctx, fresh); err != nil && s.Logger != nil {
		s.Logger.Warn("history candle upsert failed", zap.String("ticker", ticker), zap.Error(err))
	}
	return fresh
}

func (s *CompositeSource) realtimeTail(ctx context.Context, ticker, interval string) []models.Candle {
	if s.Broker == nil || interval == models.Interval1d {
		return nil
	}
	count := s.RealtimeTail
	if count <= 0 {
		count = 12
	}
	minutes := 5
	if interval == models.Interval30m {
		minutes = 30
	}
	tail, err := s.Broker.MinuteBars(ctx, ticker, minutes, count)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("realtime bars unavailable", zap.String("ticker", ticker), zap.String("interval", interval), zap.Error(err))
		}
		return nil
	}
	return tail
}

// staleness is the age past which the stored series needs a vendor refresh.
func staleness(interval string) time.Duration {
	switch interval {
	case models.Interval30m:
		return 45 * time.Minute
	case models.Interval1d:
		return 36 * time.Hour
	default:
		return 10 * time.Minute
	}
}
