package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tripledash/internal/models"
	"tripledash/internal/repository"
)

// AlertsHandler manages the price-level sound alerts, independent of the
// buy/sell records.
type AlertsHandler struct {
	Repo repository.Repository
}

func (h *AlertsHandler) Register(r *gin.Engine) {
	r.POST("/alerts/update", h.update)
	r.GET("/alerts/:ticker", h.list)
}

type updateAlertRequest struct {
	Ticker   string          `json:"ticker" binding:"required"`
	Kind     string          `json:"kind" binding:"required"`
	Stage    int             `json:"stage" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
	IsActive bool            `json:"is_active"`
}

func (h *AlertsHandler) update(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	kind := strings.ToUpper(strings.TrimSpace(req.Kind))
	if kind != models.AlertKindBuy && kind != models.AlertKindSell {
		Error(c, http.StatusBadRequest, "kind must be BUY or SELL", nil)
		return
	}
	if req.Stage < 1 || req.Stage > 3 {
		Error(c, http.StatusBadRequest, "stage must be 1..3", nil)
		return
	}
	item := &models.PriceAlert{
		Ticker:    ticker,
		Kind:      kind,
		Stage:     req.Stage,
		Price:     req.Price,
		IsActive:  req.IsActive,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.Repo.UpsertPriceAlert(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *AlertsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	items, err := h.Repo.ListPriceAlerts(c.Request.Context(), ticker, true)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
