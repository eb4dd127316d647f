package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tripledash/internal/models"
)

// HistoryClient pulls bulk candle series from the historical data vendor.
// Calls are slow and generous with their timeout; the composite source only
// hits it when the local candle store has a gap.
type HistoryClient struct {
	HTTP   *http.Client
	Logger *zap.Logger

	BaseURL string
	APIKey  string
}

type historyBarsResponse struct {
	Symbol string `json:"symbol"`
	Bars   []struct {
		Time   int64   `json:"t"`
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
	} `json:"bars"`
}

// Candles fetches up to lookback bars for the interval, ascending by time.
func (h *HistoryClient) Candles(ctx context.Context, ticker, interval string, lookback int) ([]models.Candle, error) {
	if h == nil || strings.TrimSpace(h.BaseURL) == "" {
		return nil, ErrNotAvailable
	}
	endpoint := fmt.Sprintf("%s/v2/bars?symbol=%s&interval=%s&limit=%d",
		strings.TrimRight(h.BaseURL, "/"), url.QueryEscape(ticker), url.QueryEscape(interval), lookback)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if h.APIKey != "" {
		req.Header.Set("X-Api-Key", h.APIKey)
	}
	resp, err := h.httpClient().Do(req)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("history fetch failed", zap.String("ticker", ticker), zap.String("interval", interval), zap.Error(err))
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("history http %d", resp.StatusCode)
	}
	var parsed historyBarsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([]models.Candle, 0, len(parsed.Bars))
	for _, bar := range parsed.Bars {
		out = append(out, models.Candle{
			Ticker:   ticker,
			Interval: interval,
			TS:       time.Unix(bar.Time, 0).UTC(),
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			Volume:   bar.Volume,
			Source:   models.CandleSourceHistory,
		})
	}
	return out, nil
}

// LastDailyClose returns the most recent completed daily close. Used as the
// previous-close fallback when the broker omits it.
func (h *HistoryClient) LastDailyClose(ctx context.Context, ticker string) (decimal.Decimal, error) {
	bars, err := h.Candles(ctx, ticker, models.Interval1d, 2)
	if err != nil {
		return decimal.Zero, err
	}
	if len(bars) == 0 {
		return decimal.Zero, ErrNotAvailable
	}
	return decimal.NewFromFloat(bars[len(bars)-1].Close), nil
}

func (h *HistoryClient) httpClient() *http.Client {
	if h.HTTP != nil {
		return h.HTTP
	}
	return &http.Client{Timeout: 20 * time.Second}
}
