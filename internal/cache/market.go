// Package cache holds the per-tick market snapshot the HTTP handlers read.
// It is write-through: every evaluator tick stores the latest view in redis
// (for cross-process readers) and in a local map (so the API keeps answering
// when redis is down or unconfigured).
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketInfo is the snapshot for one ticker as of the last completed tick.
type MarketInfo struct {
	Ticker     string          `json:"ticker"`
	Price      decimal.Decimal `json:"price"`
	PrevClose  decimal.Decimal `json:"prev_close"`
	ChangePct  decimal.Decimal `json:"change_pct"`
	DayHigh    decimal.Decimal `json:"day_high"`
	SMA5m      float64         `json:"sma_5m"`
	SMA30m     float64         `json:"sma_30m"`
	SMA5mOK    bool            `json:"sma_5m_ok"`
	SMA30mOK   bool            `json:"sma_30m_ok"`
	Exchange   string          `json:"exchange"`
	CycleState string          `json:"cycle_state"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Market caches MarketInfo by ticker.
type Market struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	local map[string]MarketInfo
}

// NewMarket builds the cache. addr may be empty; the cache then runs
// local-only. A failed ping also degrades to local-only rather than failing
// startup.
func NewMarket(addr, password string, ttl time.Duration, logger *zap.Logger) *Market {
	m := &Market{
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]MarketInfo),
	}
	if addr == "" {
		return m
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warn("redis unreachable, market cache is local-only", zap.String("addr", addr), zap.Error(err))
		}
		return m
	}
	m.rdb = rdb
	return m
}

func marketKey(ticker string) string {
	return "tripledash:market:" + ticker
}

// Put stores the snapshot. The local map is updated unconditionally; a redis
// write failure is logged and otherwise ignored.
func (m *Market) Put(ctx context.Context, info MarketInfo) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.local[info.Ticker] = info
	m.mu.Unlock()

	if m.rdb == nil {
		return
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := m.rdb.Set(ctx, marketKey(info.Ticker), payload, m.ttl).Err(); err != nil && m.logger != nil {
		m.logger.Warn("market cache write failed", zap.String("ticker", info.Ticker), zap.Error(err))
	}
}

// Get returns the freshest snapshot for ticker, preferring redis so that a
// second process sees writes from the engine process.
func (m *Market) Get(ctx context.Context, ticker string) (MarketInfo, bool) {
	if m == nil {
		return MarketInfo{}, false
	}
	if m.rdb != nil {
		raw, err := m.rdb.Get(ctx, marketKey(ticker)).Result()
		if err == nil {
			var info MarketInfo
			if jerr := json.Unmarshal([]byte(raw), &info); jerr == nil {
				return info, true
			}
		}
	}
	m.mu.RLock()
	info, ok := m.local[ticker]
	m.mu.RUnlock()
	return info, ok
}

// Close releases the redis connection if one was opened.
func (m *Market) Close() error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Close()
}
