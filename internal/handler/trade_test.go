package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tripledash/internal/models"
	"tripledash/internal/repository"
	"tripledash/internal/signal"
)

// fakeRepo overrides only the repository methods the handlers exercise.
// Anything else panics, which is what a test reaching it deserves.
type fakeRepo struct {
	repository.Repository
	buy   *models.BuyRecord
	sell  *models.SellRecord
	fired []models.PriceAlert
}

func (f *fakeRepo) GetOpenBuy(_ context.Context, _ string) (*models.BuyRecord, error) {
	if f.buy != nil && f.buy.Closed {
		return nil, nil
	}
	return f.buy, nil
}

func (f *fakeRepo) CountOpenBuy(_ context.Context, _ string) (int64, error) {
	if f.buy != nil && !f.buy.Closed {
		return 1, nil
	}
	return 0, nil
}

func (f *fakeRepo) CreateBuy(_ context.Context, item *models.BuyRecord) error {
	item.ID = 1
	f.buy = item
	return nil
}

func (f *fakeRepo) UpdateBuyStep(_ context.Context, upd repository.StepUpdate) error {
	at := upd.At
	switch upd.Step {
	case 2:
		f.buy.Step2On = upd.On
		f.buy.Step2Price = upd.Price
		if upd.On {
			f.buy.Step2Time = &at
		}
		if upd.Manual != nil {
			f.buy.Step2Manual = *upd.Manual
		}
	}
	f.buy.FinalOn = f.buy.Step1On && f.buy.Step2On && f.buy.Step3On || f.buy.RealBought
	return nil
}

func (f *fakeRepo) SetBuyStep2Target(_ context.Context, _ uint64, price *decimal.Decimal) error {
	f.buy.Step2Target = price
	return nil
}

func (f *fakeRepo) ConfirmBuy(_ context.Context, _ uint64, price, qty decimal.Decimal) error {
	f.buy.RealBought = true
	f.buy.RealPrice = price
	f.buy.RealQty = qty
	f.buy.FinalOn = true
	return nil
}

func (f *fakeRepo) GetOpenSell(_ context.Context, _ string) (*models.SellRecord, error) {
	if f.sell != nil && f.sell.Closed {
		return nil, nil
	}
	return f.sell, nil
}

func (f *fakeRepo) CreateSell(_ context.Context, item *models.SellRecord) error {
	item.ID = 2
	f.sell = item
	return nil
}

func (f *fakeRepo) ConfirmSell(_ context.Context, _ uint64, price, qty decimal.Decimal, isEnd bool) error {
	f.sell.RealPrice = price
	f.sell.RealQty = qty
	if isEnd {
		f.sell.Closed = true
	}
	return nil
}

func (f *fakeRepo) ArchiveBuy(_ context.Context, _ uint64) error {
	f.buy.Closed = true
	return nil
}

func (f *fakeRepo) ConsumeTriggeredAlerts(_ context.Context) ([]models.PriceAlert, error) {
	out := f.fired
	f.fired = nil
	return out, nil
}

func newTradeRouter(repo *fakeRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &TradeHandler{
		Repo:   repo,
		Cycles: &signal.CycleManager{Repo: repo},
		Zone:   time.UTC,
	}
	h.Register(r)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManualSignalY(t *testing.T) {
	repo := &fakeRepo{buy: &models.BuyRecord{ID: 1, Ticker: "SOXL"}}
	r := newTradeRouter(repo)

	w := postJSON(t, r, "/manual-signal", gin.H{
		"ticker": "soxl", "key": "buy2", "price": 48.5, "status": "Y",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !repo.buy.Step2On || !repo.buy.Step2Manual {
		t.Fatal("Y must latch the step with the manual flag")
	}
	if repo.buy.Step2Time == nil {
		t.Fatal("latched step must carry a timestamp")
	}
}

func TestManualSignalNClearsManual(t *testing.T) {
	repo := &fakeRepo{buy: &models.BuyRecord{ID: 1, Ticker: "SOXL", Step2On: true, Step2Manual: true}}
	r := newTradeRouter(repo)

	w := postJSON(t, r, "/manual-signal", gin.H{
		"ticker": "SOXL", "key": "buy2", "price": 48.5, "status": "N",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if repo.buy.Step2On || repo.buy.Step2Manual {
		t.Fatal("N must clear both the step and the manual flag")
	}
}

func TestManualSignalSetTargetLeavesStepUntouched(t *testing.T) {
	repo := &fakeRepo{buy: &models.BuyRecord{ID: 1, Ticker: "SOXL"}}
	r := newTradeRouter(repo)

	w := postJSON(t, r, "/manual-signal", gin.H{
		"ticker": "SOXL", "key": "buy2", "price": 49.0, "status": "SET_TARGET",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if repo.buy.Step2Target == nil || !repo.buy.Step2Target.Equal(decimal.NewFromInt(49)) {
		t.Fatal("SET_TARGET must store the target")
	}
	if repo.buy.Step2On {
		t.Fatal("SET_TARGET must not latch the step")
	}
}

func TestManualSignalCreatesBuyRecord(t *testing.T) {
	repo := &fakeRepo{}
	r := newTradeRouter(repo)

	w := postJSON(t, r, "/manual-signal", gin.H{
		"ticker": "SOXL", "key": "buy2", "price": 48.5, "status": "Y",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if repo.buy == nil {
		t.Fatal("a manual override on an idle ticker must open a buy record")
	}
}

func TestManualSignalRejectsBadKey(t *testing.T) {
	repo := &fakeRepo{buy: &models.BuyRecord{ID: 1, Ticker: "SOXL"}}
	r := newTradeRouter(repo)

	w := postJSON(t, r, "/manual-signal", gin.H{
		"ticker": "SOXL", "key": "buy9", "price": 1, "status": "Y",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", w.Code)
	}
}

func TestManualSignalSellRequiresOpenSell(t *testing.T) {
	repo := &fakeRepo{buy: &models.BuyRecord{ID: 1, Ticker: "SOXL"}}
	r := newTradeRouter(repo)

	w := postJSON(t, r, "/manual-signal", gin.H{
		"ticker": "SOXL", "key": "sell1", "price": 48.5, "status": "Y",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d want 409", w.Code)
	}
}

func TestConfirmBuyEndpoint(t *testing.T) {
	repo := &fakeRepo{buy: &models.BuyRecord{ID: 1, Ticker: "SOXL", DayHigh: decimal.NewFromInt(52), DayHighDate: "2026-08-28"}}
	r := newTradeRouter(repo)

	w := postJSON(t, r, "/confirm-buy", gin.H{
		"ticker": "SOXL", "price": 50.10, "qty": 100,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !repo.buy.RealBought || !repo.buy.RealPrice.Equal(decimal.NewFromFloat(50.10)) {
		t.Fatal("confirm-buy must book the real purchase")
	}
	if repo.sell == nil || !repo.sell.EntryPrice.Equal(decimal.NewFromFloat(50.10)) {
		t.Fatal("confirm-buy must open the sell record with the entry price")
	}
	if !repo.sell.DayHigh.Equal(decimal.NewFromInt(52)) {
		t.Fatal("sell record must mirror the day high")
	}
}

func TestConfirmSellEndToEnd(t *testing.T) {
	repo := &fakeRepo{
		buy:  &models.BuyRecord{ID: 1, Ticker: "SOXL", RealBought: true, RealPrice: decimal.NewFromInt(50)},
		sell: &models.SellRecord{ID: 2, Ticker: "SOXL", BuyRecordID: 1, EntryPrice: decimal.NewFromInt(50)},
	}
	r := newTradeRouter(repo)

	w := postJSON(t, r, "/confirm-sell", gin.H{
		"ticker": "SOXL", "price": 54.0, "qty": 100, "is_end": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !repo.sell.Closed {
		t.Fatal("is_end must close the sell record")
	}
	if !repo.buy.Closed {
		t.Fatal("cycle close must archive the buy record")
	}
}

func TestConfirmBuyWithoutRecordConflicts(t *testing.T) {
	repo := &fakeRepo{}
	r := newTradeRouter(repo)

	w := postJSON(t, r, "/confirm-buy", gin.H{
		"ticker": "SOXL", "price": 50.10, "qty": 100,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d want 409", w.Code)
	}
}
