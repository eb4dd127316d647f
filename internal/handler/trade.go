package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tripledash/internal/repository"
	"tripledash/internal/signal"
)

// TradeHandler carries the write side: confirm-buy, confirm-sell and the
// manual step overrides. These are the only writers besides the evaluator.
type TradeHandler struct {
	Repo   repository.Repository
	Cycles *signal.CycleManager
	Zone   *time.Location
	Logger *zap.Logger
}

func (h *TradeHandler) Register(r *gin.Engine) {
	r.POST("/confirm-buy", h.confirmBuy)
	r.POST("/confirm-sell", h.confirmSell)
	r.POST("/manual-signal", h.manualSignal)
}

type confirmBuyRequest struct {
	Ticker string          `json:"ticker" binding:"required"`
	Price  decimal.Decimal `json:"price" binding:"required"`
	Qty    decimal.Decimal `json:"qty" binding:"required"`
}

func (h *TradeHandler) confirmBuy(c *gin.Context) {
	if h.Cycles == nil {
		Error(c, http.StatusInternalServerError, "cycle manager unavailable", nil)
		return
	}
	var req confirmBuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" || !req.Price.IsPositive() || !req.Qty.IsPositive() {
		Error(c, http.StatusBadRequest, "ticker, price and qty are required", nil)
		return
	}
	buy, err := h.Cycles.ConfirmBuy(c.Request.Context(), ticker, req.Price, req.Qty)
	if err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("buy confirmed",
			zap.String("ticker", ticker),
			zap.String("price", req.Price.String()),
			zap.String("qty", req.Qty.String()),
		)
	}
	Ok(c, buy, nil)
}

type confirmSellRequest struct {
	Ticker string          `json:"ticker" binding:"required"`
	Price  decimal.Decimal `json:"price" binding:"required"`
	Qty    decimal.Decimal `json:"qty" binding:"required"`
	IsEnd  bool            `json:"is_end"`
}

func (h *TradeHandler) confirmSell(c *gin.Context) {
	if h.Cycles == nil {
		Error(c, http.StatusInternalServerError, "cycle manager unavailable", nil)
		return
	}
	var req confirmSellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" || !req.Price.IsPositive() || !req.Qty.IsPositive() {
		Error(c, http.StatusBadRequest, "ticker, price and qty are required", nil)
		return
	}
	sell, err := h.Cycles.ConfirmSell(c.Request.Context(), ticker, req.Price, req.Qty, req.IsEnd)
	if err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("sell confirmed",
			zap.String("ticker", ticker),
			zap.String("price", req.Price.String()),
			zap.Bool("is_end", req.IsEnd),
		)
	}
	Ok(c, sell, nil)
}

type manualSignalRequest struct {
	Ticker string          `json:"ticker" binding:"required"`
	Key    string          `json:"key" binding:"required"`
	Price  decimal.Decimal `json:"price"`
	Status string          `json:"status" binding:"required"`
	Qty    decimal.Decimal `json:"qty"`
}

// manualSignal handles the Y / N / SET_TARGET overrides. Y latches the step
// with the manual flag set; N clears both; SET_TARGET stores the target price
// without touching the on/off state.
func (h *TradeHandler) manualSignal(c *gin.Context) {
	if h.Repo == nil || h.Cycles == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	var req manualSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	kind, step, ok := parseSignalKey(req.Key)
	if ticker == "" || !ok {
		Error(c, http.StatusBadRequest, "invalid ticker or key", nil)
		return
	}
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	ctx := c.Request.Context()
	now := time.Now()

	switch kind {
	case repository.KindBuy:
		buy, err := h.Cycles.EnsureBuy(ctx, ticker, now.In(h.zone()).Format("2006-01-02"))
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		switch status {
		case "Y", "N":
			manual := status == "Y"
			upd := repository.StepUpdate{
				Kind:     repository.KindBuy,
				RecordID: buy.ID,
				Step:     step,
				On:       status == "Y",
				Price:    req.Price,
				At:       now,
				Manual:   &manual,
			}
			if err := h.Repo.UpdateBuyStep(ctx, upd); err != nil {
				Error(c, http.StatusBadGateway, err.Error(), nil)
				return
			}
		case "SET_TARGET":
			if step != 2 {
				Error(c, http.StatusBadRequest, "only buy step 2 takes a target", nil)
				return
			}
			price := req.Price
			if err := h.Repo.SetBuyStep2Target(ctx, buy.ID, &price); err != nil {
				Error(c, http.StatusBadGateway, err.Error(), nil)
				return
			}
		default:
			Error(c, http.StatusBadRequest, "status must be Y, N or SET_TARGET", nil)
			return
		}
		next, _ := h.Repo.GetOpenBuy(ctx, ticker)
		Ok(c, next, nil)

	case repository.KindSell:
		sell, err := h.Repo.GetOpenSell(ctx, ticker)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		if sell == nil {
			Error(c, http.StatusConflict, "no open sell record", nil)
			return
		}
		switch status {
		case "Y", "N":
			manual := status == "Y"
			upd := repository.StepUpdate{
				Kind:     repository.KindSell,
				RecordID: sell.ID,
				Step:     step,
				On:       status == "Y",
				Price:    req.Price,
				At:       now,
				Manual:   &manual,
			}
			if err := h.Repo.UpdateSellStep(ctx, upd); err != nil {
				Error(c, http.StatusBadGateway, err.Error(), nil)
				return
			}
		case "SET_TARGET":
			price := req.Price
			if err := h.Repo.SetSellTarget(ctx, sell.ID, step, &price); err != nil {
				Error(c, http.StatusBadGateway, err.Error(), nil)
				return
			}
		default:
			Error(c, http.StatusBadRequest, "status must be Y, N or SET_TARGET", nil)
			return
		}
		next, _ := h.Repo.GetOpenSell(ctx, ticker)
		Ok(c, next, nil)
	}
}

func (h *TradeHandler) zone() *time.Location {
	if h.Zone != nil {
		return h.Zone
	}
	return time.UTC
}

// parseSignalKey maps buy1..buy3 / sell1..sell3 to a record kind and step.
func parseSignalKey(key string) (string, int, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	switch key {
	case "buy1", "buy2", "buy3":
		return repository.KindBuy, int(key[3] - '0'), true
	case "sell1", "sell2", "sell3":
		return repository.KindSell, int(key[4] - '0'), true
	}
	return "", 0, false
}
