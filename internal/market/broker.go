package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tripledash/internal/models"
)

// BrokerClient talks to the realtime brokerage REST API. Quote calls carry a
// tight timeout (the evaluator runs every 10 seconds); the bearer token is
// refreshed by a cron job and shared under a mutex.
type BrokerClient struct {
	HTTP   *http.Client
	Logger *zap.Logger

	BaseURL   string
	AppKey    string
	AppSecret string

	// Exchange codes tried in order: regular venue, overnight venue, alternate.
	Exchanges []string

	mu       sync.RWMutex
	token    string
	tokenExp time.Time
}

type brokerQuoteResponse struct {
	Price     string `json:"last"`
	PrevClose string `json:"base"`
	DayHigh   string `json:"high"`
	ChangePct string `json:"rate"`
	Exchange  string `json:"excd"`
}

type brokerBarResponse struct {
	Bars []struct {
		Time   string `json:"xymd"`
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Close  string `json:"clos"`
		Volume string `json:"tvol"`
	} `json:"bars"`
}

// LatestQuote tries each configured exchange code and returns the first
// response with a positive price. All transport errors map to ErrNotAvailable.
func (b *BrokerClient) LatestQuote(ctx context.Context, ticker string) (Quote, error) {
	if b == nil || strings.TrimSpace(b.BaseURL) == "" {
		return Quote{}, ErrNotAvailable
	}
	exchanges := b.Exchanges
	if len(exchanges) == 0 {
		exchanges = []string{"NAS"}
	}
	for _, exch := range exchanges {
		q, err := b.fetchQuote(ctx, ticker, exch)
		if err != nil {
			if b.Logger != nil {
				b.Logger.Warn("broker quote failed",
					zap.String("ticker", ticker),
					zap.String("exchange", exch),
					zap.Error(err),
				)
			}
			continue
		}
		if q.Price.IsPositive() {
			return q, nil
		}
	}
	return Quote{}, ErrNotAvailable
}

func (b *BrokerClient) fetchQuote(ctx context.Context, ticker, exch string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/v1/overseas-price/quote?symb=%s&excd=%s",
		strings.TrimRight(b.BaseURL, "/"), url.QueryEscape(ticker), url.QueryEscape(exch))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	b.authorize(req)
	resp, err := b.httpClient().Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Quote{}, fmt.Errorf("http %d", resp.StatusCode)
	}
	var parsed brokerQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Quote{}, err
	}
	price, err := decimal.NewFromString(strings.TrimSpace(parsed.Price))
	if err != nil {
		return Quote{}, fmt.Errorf("invalid price %q", parsed.Price)
	}
	prev, _ := decimal.NewFromString(strings.TrimSpace(parsed.PrevClose))
	high, _ := decimal.NewFromString(strings.TrimSpace(parsed.DayHigh))
	rate, _ := decimal.NewFromString(strings.TrimSpace(parsed.ChangePct))
	exchange := strings.TrimSpace(parsed.Exchange)
	if exchange == "" {
		exchange = exch
	}
	return Quote{
		Ticker:    ticker,
		Price:     price,
		PrevClose: prev,
		DayHigh:   high,
		ChangePct: rate,
		Exchange:  exchange,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// MinuteBars fetches the realtime tail used for stitching. interval is the
// bar width in minutes (5 or 30).
func (b *BrokerClient) MinuteBars(ctx context.Context, ticker string, intervalMin, count int) ([]models.Candle, error) {
	if b == nil || strings.TrimSpace(b.BaseURL) == "" {
		return nil, ErrNotAvailable
	}
	endpoint := fmt.Sprintf("%s/v1/overseas-price/minute-bars?symb=%s&nmin=%d&cnt=%d",
		strings.TrimRight(b.BaseURL, "/"), url.QueryEscape(ticker), intervalMin, count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	b.authorize(req)
	resp, err := b.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	var parsed brokerBarResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	interval := models.Interval5m
	if intervalMin == 30 {
		interval = models.Interval30m
	}
	out := make([]models.Candle, 0, len(parsed.Bars))
	for _, bar := range parsed.Bars {
		ts, err := time.Parse(time.RFC3339, bar.Time)
		if err != nil {
			continue
		}
		out = append(out, models.Candle{
			Ticker:   ticker,
			Interval: interval,
			TS:       ts.UTC(),
			Open:     atof(bar.Open),
			High:     atof(bar.High),
			Low:      atof(bar.Low),
			Close:    atof(bar.Close),
			Volume:   atof(bar.Volume),
			Source:   models.CandleSourceRealtime,
		})
	}
	return out, nil
}

// RefreshToken obtains a new bearer token. Called from a 10-minute cron.
func (b *BrokerClient) RefreshToken(ctx context.Context) error {
	if b == nil || strings.TrimSpace(b.BaseURL) == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     b.AppKey,
		"appsecret":  b.AppSecret,
	})
	endpoint := strings.TrimRight(b.BaseURL, "/") + "/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("token http %d", resp.StatusCode)
	}
	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return err
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return fmt.Errorf("empty access token")
	}
	b.mu.Lock()
	b.token = parsed.AccessToken
	b.tokenExp = time.Now().UTC().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	b.mu.Unlock()
	return nil
}

func (b *BrokerClient) authorize(req *http.Request) {
	b.mu.RLock()
	token := b.token
	b.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("appkey", b.AppKey)
	req.Header.Set("appsecret", b.AppSecret)
}

func (b *BrokerClient) httpClient() *http.Client {
	if b.HTTP != nil {
		return b.HTTP
	}
	return &http.Client{Timeout: 1500 * time.Millisecond}
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
