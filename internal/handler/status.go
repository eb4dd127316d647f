package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tripledash/internal/cache"
	"tripledash/internal/models"
	"tripledash/internal/repository"
	"tripledash/internal/signal"
)

// StatusHandler serves the read side of the dashboard. It reads the record
// store and the market cache only; the evaluator is the single writer and no
// predicate is ever recomputed here.
type StatusHandler struct {
	Repo    repository.Repository
	Cache   *cache.Market
	Tickers []string
}

func (h *StatusHandler) Register(r *gin.Engine) {
	r.GET("/status/:ticker", h.status)
	r.GET("/snapshot", h.snapshot)
}

type tickerStatus struct {
	Ticker     string             `json:"ticker"`
	Buy        *models.BuyRecord  `json:"buy"`
	Sell       *models.SellRecord `json:"sell"`
	MarketInfo *cache.MarketInfo  `json:"market_info"`
	CycleState string             `json:"cycle_state"`
}

func (h *StatusHandler) load(c *gin.Context, ticker string) (tickerStatus, bool) {
	ctx := c.Request.Context()
	buy, err := h.Repo.GetOpenBuy(ctx, ticker)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return tickerStatus{}, false
	}
	sell, err := h.Repo.GetOpenSell(ctx, ticker)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return tickerStatus{}, false
	}
	out := tickerStatus{
		Ticker:     ticker,
		Buy:        buy,
		Sell:       sell,
		CycleState: signal.DeriveCycleState(buy, sell),
	}
	if h.Cache != nil {
		if info, ok := h.Cache.Get(ctx, ticker); ok {
			out.MarketInfo = &info
		}
	}
	return out, true
}

func (h *StatusHandler) status(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	if !h.known(ticker) {
		Error(c, http.StatusNotFound, "unknown ticker", nil)
		return
	}
	out, ok := h.load(c, ticker)
	if !ok {
		return
	}
	Ok(c, out, nil)
}

// snapshot returns every ticker's status plus the one-shot sound codes. The
// codes are consumed on read: the dashboard plays them once and they are gone.
func (h *StatusHandler) snapshot(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	statuses := make([]tickerStatus, 0, len(h.Tickers))
	for _, ticker := range h.Tickers {
		out, ok := h.load(c, ticker)
		if !ok {
			return
		}
		statuses = append(statuses, out)
	}
	triggered, err := h.Repo.ConsumeTriggeredAlerts(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	pending := make([]string, 0, len(triggered))
	for i := range triggered {
		pending = append(pending, triggered[i].SoundCode())
	}
	Ok(c, gin.H{
		"tickers":        statuses,
		"pending_alerts": pending,
	}, nil)
}

func (h *StatusHandler) known(ticker string) bool {
	for _, t := range h.Tickers {
		if t == ticker {
			return true
		}
	}
	return false
}
