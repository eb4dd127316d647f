// Package signal is the heart of the engine: the 10-second evaluator that
// latches the three buy steps and three sell steps per ticker, and the cycle
// manager that moves a ticker through IDLE, ARMING, ARMED, HOLDING and
// EXITING. The cycle state is always derived from the record pair, never
// stored.
package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tripledash/internal/models"
	"tripledash/internal/repository"
)

const (
	StateIdle    = "IDLE"
	StateArming  = "ARMING"
	StateArmed   = "ARMED"
	StateHolding = "HOLDING"
	StateExiting = "EXITING"
)

// DeriveCycleState maps the open record pair to exactly one lifecycle state.
func DeriveCycleState(buy *models.BuyRecord, sell *models.SellRecord) string {
	if buy == nil || buy.Closed {
		return StateIdle
	}
	if buy.RealBought {
		if sell != nil && (sell.Step1On || sell.Step2On || sell.Step3On) {
			return StateExiting
		}
		return StateHolding
	}
	if buy.FinalOn {
		return StateArmed
	}
	return StateArming
}

// CycleManager owns record creation and the confirm-buy / confirm-sell
// transitions. The evaluator calls EnsureBuy and EnsureSell; the HTTP write
// endpoints call ConfirmBuy and ConfirmSell.
type CycleManager struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// EnsureBuy returns the open buy record for ticker, creating one for the
// session if none exists.
func (m *CycleManager) EnsureBuy(ctx context.Context, ticker, sessionDate string) (*models.BuyRecord, error) {
	if m == nil || m.Repo == nil {
		return nil, fmt.Errorf("cycle manager not wired")
	}
	existing, err := m.Repo.GetOpenBuy(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	item := &models.BuyRecord{
		Ticker:      ticker,
		SessionDate: sessionDate,
		DayHighDate: sessionDate,
	}
	if err := m.Repo.CreateBuy(ctx, item); err != nil {
		return nil, err
	}
	if m.Logger != nil {
		m.Logger.Info("buy record opened", zap.String("ticker", ticker), zap.String("session", sessionDate))
	}
	return item, nil
}

// EnsureSell returns the open sell record for the holding buy, creating one
// with the entry price and mirrored day high if none exists.
func (m *CycleManager) EnsureSell(ctx context.Context, buy *models.BuyRecord) (*models.SellRecord, error) {
	if m == nil || m.Repo == nil || buy == nil {
		return nil, fmt.Errorf("cycle manager not wired")
	}
	if !buy.RealBought {
		return nil, fmt.Errorf("sell record requires a confirmed buy for %s", buy.Ticker)
	}
	existing, err := m.Repo.GetOpenSell(ctx, buy.Ticker)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	item := &models.SellRecord{
		Ticker:      buy.Ticker,
		BuyRecordID: buy.ID,
		EntryPrice:  buy.RealPrice,
		DayHigh:     buy.DayHigh,
		DayHighDate: buy.DayHighDate,
	}
	if err := m.Repo.CreateSell(ctx, item); err != nil {
		return nil, err
	}
	if m.Logger != nil {
		m.Logger.Info("sell record opened",
			zap.String("ticker", buy.Ticker),
			zap.Uint64("buy_record_id", buy.ID),
			zap.String("entry_price", buy.RealPrice.String()),
		)
	}
	return item, nil
}

// ConfirmBuy marks the open buy record as really bought and opens the sibling
// sell record. final_on is forced on even when not all steps latched.
func (m *CycleManager) ConfirmBuy(ctx context.Context, ticker string, price, qty decimal.Decimal) (*models.BuyRecord, error) {
	if m == nil || m.Repo == nil {
		return nil, fmt.Errorf("cycle manager not wired")
	}
	buy, err := m.Repo.GetOpenBuy(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if buy == nil {
		return nil, fmt.Errorf("no open buy record for %s", ticker)
	}
	if err := m.Repo.ConfirmBuy(ctx, buy.ID, price, qty); err != nil {
		return nil, err
	}
	buy.RealBought = true
	buy.RealPrice = price
	buy.RealQty = qty
	buy.FinalOn = true
	if _, err := m.EnsureSell(ctx, buy); err != nil {
		return nil, err
	}
	return buy, nil
}

// ConfirmSell books the exit on the open sell record. With isEnd the cycle
// terminates: the sell closes and the buy record is archived, so the next
// tick may open a fresh cycle.
func (m *CycleManager) ConfirmSell(ctx context.Context, ticker string, price, qty decimal.Decimal, isEnd bool) (*models.SellRecord, error) {
	if m == nil || m.Repo == nil {
		return nil, fmt.Errorf("cycle manager not wired")
	}
	sell, err := m.Repo.GetOpenSell(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if sell == nil {
		return nil, fmt.Errorf("no open sell record for %s", ticker)
	}
	if err := m.Repo.ConfirmSell(ctx, sell.ID, price, qty, isEnd); err != nil {
		return nil, err
	}
	sell.RealPrice = price
	sell.RealQty = qty
	if isEnd {
		sell.Closed = true
		if err := m.Repo.ArchiveBuy(ctx, sell.BuyRecordID); err != nil {
			return nil, err
		}
		if m.Logger != nil {
			m.Logger.Info("cycle closed", zap.String("ticker", ticker), zap.Uint64("sell_record_id", sell.ID))
		}
	}
	return sell, nil
}

// sessionDate formats t in the exchange zone as YYYY-MM-DD.
func sessionDate(t time.Time, zone *time.Location) string {
	if zone == nil {
		zone = time.UTC
	}
	return t.In(zone).Format("2006-01-02")
}
