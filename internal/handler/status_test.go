package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tripledash/internal/models"
)

func newStatusRouter(repo *fakeRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &StatusHandler{Repo: repo, Tickers: []string{"SOXL", "SOXS", "UPRO"}}
	h.Register(r)
	return r
}

func getJSON(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v body=%s", err, w.Body.String())
	}
	return w, body
}

func TestStatusReturnsRecordPair(t *testing.T) {
	repo := &fakeRepo{
		buy: &models.BuyRecord{ID: 1, Ticker: "SOXL", Step1On: true},
	}
	r := newStatusRouter(repo)

	w, body := getJSON(t, r, "/status/SOXL")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]any)
	if data["cycle_state"] != "ARMING" {
		t.Fatalf("cycle_state=%v want ARMING", data["cycle_state"])
	}
	if data["buy"] == nil {
		t.Fatal("buy record missing from status")
	}
}

func TestStatusUnknownTicker(t *testing.T) {
	r := newStatusRouter(&fakeRepo{})
	w, _ := getJSON(t, r, "/status/TSLA")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", w.Code)
	}
}

func TestSnapshotConsumesPendingAlerts(t *testing.T) {
	repo := &fakeRepo{
		fired: []models.PriceAlert{
			{ID: 9, Ticker: "SOXL", Kind: models.AlertKindBuy, Stage: 2, Price: decimal.NewFromInt(49)},
		},
	}
	r := newStatusRouter(repo)

	w, body := getJSON(t, r, "/snapshot")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]any)
	pending := data["pending_alerts"].([]any)
	if len(pending) != 1 || pending[0] != "SOXL:buy:2" {
		t.Fatalf("pending=%v want [SOXL:buy:2]", pending)
	}

	// Second read: the codes were consumed.
	_, body = getJSON(t, r, "/snapshot")
	data = body["data"].(map[string]any)
	pending = data["pending_alerts"].([]any)
	if len(pending) != 0 {
		t.Fatalf("pending=%v want empty on second read", pending)
	}
}
