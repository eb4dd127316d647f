package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompositeQuoteFallsBackToDailyClose(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "outage", http.StatusBadGateway)
	}))
	defer down.Close()
	hist := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"SOXL","bars":[
			{"t":1756252800,"o":47.0,"h":48.2,"l":46.8,"c":48.0,"v":90000},
			{"t":1756339200,"o":48.1,"h":49.0,"l":47.9,"c":48.6,"v":88000}
		]}`)
	}))
	defer hist.Close()

	src := &CompositeSource{
		Broker:  &BrokerClient{BaseURL: down.URL, Exchanges: []string{"NAS", "OVS"}},
		History: &HistoryClient{BaseURL: hist.URL},
	}
	q, err := src.LatestQuote(context.Background(), "SOXL")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Price.String() != "48.6" {
		t.Fatalf("price=%s want last daily close 48.6", q.Price)
	}
	if q.PrevClose.String() != "48" {
		t.Fatalf("prev=%s want prior daily close 48", q.PrevClose)
	}
	if q.DayHigh.String() != "49" {
		t.Fatalf("high=%s want 49", q.DayHigh)
	}
}

func TestCompositeQuoteNotAvailableWhenHistoryDownToo(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "outage", http.StatusBadGateway)
	}))
	defer down.Close()

	src := &CompositeSource{
		Broker:  &BrokerClient{BaseURL: down.URL, Exchanges: []string{"NAS"}},
		History: &HistoryClient{BaseURL: down.URL},
	}
	if _, err := src.LatestQuote(context.Background(), "SOXL"); err != ErrNotAvailable {
		t.Fatalf("err=%v want ErrNotAvailable", err)
	}
}
