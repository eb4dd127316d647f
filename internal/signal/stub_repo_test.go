package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tripledash/internal/market"
	"tripledash/internal/models"
	"tripledash/internal/repository"
)

// stubRepo is an in-memory Repository that mirrors the SQL semantics of the
// gorm store, including the in-statement final_on recompute.
type stubRepo struct {
	candles  []models.Candle
	buys     []*models.BuyRecord
	sells    []*models.SellRecord
	alerts   []*models.PriceAlert
	smsLogs  []*models.SMSLog
	settings map[string]*models.SystemSetting
	nextID   uint64

	failOp string
}

func newStubRepo() *stubRepo {
	return &stubRepo{settings: map[string]*models.SystemSetting{}}
}

func (r *stubRepo) fail(op string) error {
	if r.failOp == op {
		return fmt.Errorf("injected failure: %s", op)
	}
	return nil
}

func (r *stubRepo) id() uint64 {
	r.nextID++
	return r.nextID
}

func (r *stubRepo) UpsertCandles(_ context.Context, items []models.Candle) error {
	r.candles = append(r.candles, items...)
	return nil
}

func (r *stubRepo) LoadCandles(_ context.Context, ticker, interval string, limit int) ([]models.Candle, error) {
	var out []models.Candle
	for _, c := range r.candles {
		if c.Ticker == ticker && c.Interval == interval {
			out = append(out, c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *stubRepo) LastCandleTS(_ context.Context, ticker, interval string) (*time.Time, error) {
	var last *time.Time
	for _, c := range r.candles {
		if c.Ticker == ticker && c.Interval == interval {
			ts := c.TS
			if last == nil || ts.After(*last) {
				last = &ts
			}
		}
	}
	return last, nil
}

func (r *stubRepo) GetOpenBuy(_ context.Context, ticker string) (*models.BuyRecord, error) {
	if err := r.fail("GetOpenBuy"); err != nil {
		return nil, err
	}
	for i := len(r.buys) - 1; i >= 0; i-- {
		if r.buys[i].Ticker == ticker && !r.buys[i].Closed {
			return r.buys[i], nil
		}
	}
	return nil, nil
}

func (r *stubRepo) CountOpenBuy(_ context.Context, ticker string) (int64, error) {
	var n int64
	for _, b := range r.buys {
		if b.Ticker == ticker && !b.Closed {
			n++
		}
	}
	return n, nil
}

func (r *stubRepo) CreateBuy(_ context.Context, item *models.BuyRecord) error {
	if err := r.fail("CreateBuy"); err != nil {
		return err
	}
	item.ID = r.id()
	r.buys = append(r.buys, item)
	return nil
}

func (r *stubRepo) findBuy(id uint64) *models.BuyRecord {
	for _, b := range r.buys {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (r *stubRepo) UpdateBuyStep(_ context.Context, upd repository.StepUpdate) error {
	if err := r.fail("UpdateBuyStep"); err != nil {
		return err
	}
	b := r.findBuy(upd.RecordID)
	if b == nil {
		return fmt.Errorf("buy %d not found", upd.RecordID)
	}
	applyStubBuyStep(b, upd)
	return nil
}

func applyStubBuyStep(b *models.BuyRecord, upd repository.StepUpdate) {
	at := upd.At
	switch upd.Step {
	case 1:
		b.Step1On = upd.On
		b.Step1Price = upd.Price
		if upd.On {
			b.Step1Time = &at
		}
		if upd.Manual != nil {
			b.Step1Manual = *upd.Manual
		}
	case 2:
		b.Step2On = upd.On
		b.Step2Price = upd.Price
		if upd.On {
			b.Step2Time = &at
		}
		if upd.Manual != nil {
			b.Step2Manual = *upd.Manual
		}
	case 3:
		b.Step3On = upd.On
		b.Step3Price = upd.Price
		if upd.On {
			b.Step3Time = &at
		}
		if upd.Manual != nil {
			b.Step3Manual = *upd.Manual
		}
	}
	b.FinalOn = (b.Step1On && b.Step2On && b.Step3On) || b.RealBought
	b.UpdatedAt = time.Now().UTC()
}

func (r *stubRepo) SetBuyFinal(_ context.Context, id uint64, on bool) error {
	if b := r.findBuy(id); b != nil {
		b.FinalOn = on
	}
	return nil
}

func (r *stubRepo) SetBuyStep2Target(_ context.Context, id uint64, price *decimal.Decimal) error {
	if b := r.findBuy(id); b != nil {
		b.Step2Target = price
	}
	return nil
}

func (r *stubRepo) ConfirmBuy(_ context.Context, id uint64, price, qty decimal.Decimal) error {
	b := r.findBuy(id)
	if b == nil {
		return fmt.Errorf("buy %d not found", id)
	}
	b.RealBought = true
	b.RealPrice = price
	b.RealQty = qty
	b.FinalOn = true
	return nil
}

func (r *stubRepo) SaveBuyDayHigh(_ context.Context, id uint64, high decimal.Decimal, sessionDate string) error {
	if err := r.fail("SaveBuyDayHigh"); err != nil {
		return err
	}
	if b := r.findBuy(id); b != nil {
		b.DayHigh = high
		b.DayHighDate = sessionDate
	}
	return nil
}

func (r *stubRepo) ArchiveBuy(_ context.Context, id uint64) error {
	if b := r.findBuy(id); b != nil {
		b.Closed = true
	}
	return nil
}

func (r *stubRepo) GetOpenSell(_ context.Context, ticker string) (*models.SellRecord, error) {
	for i := len(r.sells) - 1; i >= 0; i-- {
		if r.sells[i].Ticker == ticker && !r.sells[i].Closed {
			return r.sells[i], nil
		}
	}
	return nil, nil
}

func (r *stubRepo) CreateSell(_ context.Context, item *models.SellRecord) error {
	item.ID = r.id()
	r.sells = append(r.sells, item)
	return nil
}

func (r *stubRepo) findSell(id uint64) *models.SellRecord {
	for _, s := range r.sells {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (r *stubRepo) UpdateSellStep(_ context.Context, upd repository.StepUpdate) error {
	if err := r.fail("UpdateSellStep"); err != nil {
		return err
	}
	s := r.findSell(upd.RecordID)
	if s == nil {
		return fmt.Errorf("sell %d not found", upd.RecordID)
	}
	at := upd.At
	switch upd.Step {
	case 1:
		s.Step1On = upd.On
		s.Step1Price = upd.Price
		if upd.On {
			s.Step1Time = &at
		}
		if upd.Manual != nil {
			s.Step1Manual = *upd.Manual
		}
	case 2:
		s.Step2On = upd.On
		s.Step2Price = upd.Price
		if upd.On {
			s.Step2Time = &at
		}
		if upd.Manual != nil {
			s.Step2Manual = *upd.Manual
		}
	case 3:
		s.Step3On = upd.On
		s.Step3Price = upd.Price
		if upd.On {
			s.Step3Time = &at
		}
		if upd.Manual != nil {
			s.Step3Manual = *upd.Manual
		}
	}
	s.FinalOn = s.Step1On && s.Step2On && s.Step3On
	return nil
}

func (r *stubRepo) SetSellTarget(_ context.Context, id uint64, step int, price *decimal.Decimal) error {
	s := r.findSell(id)
	if s == nil {
		return fmt.Errorf("sell %d not found", id)
	}
	switch step {
	case 1:
		s.Step1Target = price
	case 2:
		s.Step2Target = price
	case 3:
		s.Step3Target = price
	}
	return nil
}

func (r *stubRepo) ConfirmSell(_ context.Context, id uint64, price, qty decimal.Decimal, isEnd bool) error {
	s := r.findSell(id)
	if s == nil {
		return fmt.Errorf("sell %d not found", id)
	}
	s.RealPrice = price
	s.RealQty = qty
	if isEnd {
		s.Closed = true
	}
	return nil
}

func (r *stubRepo) SaveSellDayHigh(_ context.Context, id uint64, high decimal.Decimal, sessionDate string) error {
	if s := r.findSell(id); s != nil {
		s.DayHigh = high
		s.DayHighDate = sessionDate
	}
	return nil
}

func (r *stubRepo) UpsertPriceAlert(_ context.Context, item *models.PriceAlert) error {
	for _, a := range r.alerts {
		if a.Ticker == item.Ticker && a.Kind == item.Kind && a.Stage == item.Stage {
			a.Price = item.Price
			a.IsActive = item.IsActive
			a.Triggered = item.Triggered
			a.TriggeredAt = item.TriggeredAt
			return nil
		}
	}
	item.ID = r.id()
	r.alerts = append(r.alerts, item)
	return nil
}

func (r *stubRepo) ListPriceAlerts(_ context.Context, ticker string, activeOnly bool) ([]models.PriceAlert, error) {
	var out []models.PriceAlert
	for _, a := range r.alerts {
		if ticker != "" && a.Ticker != ticker {
			continue
		}
		if activeOnly && !a.IsActive {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (r *stubRepo) MarkAlertTriggered(_ context.Context, id uint64, at time.Time) error {
	for _, a := range r.alerts {
		if a.ID == id {
			a.Triggered = true
			a.TriggeredAt = &at
		}
	}
	return nil
}

func (r *stubRepo) ConsumeTriggeredAlerts(_ context.Context) ([]models.PriceAlert, error) {
	var out []models.PriceAlert
	for _, a := range r.alerts {
		if a.Triggered {
			out = append(out, *a)
			a.Triggered = false
			a.IsActive = false
		}
	}
	return out, nil
}

func (r *stubRepo) AppendSMSLog(_ context.Context, item *models.SMSLog) error {
	item.ID = r.id()
	r.smsLogs = append(r.smsLogs, item)
	return nil
}

func (r *stubRepo) LastSMSSentAt(_ context.Context, ticker, kind string) (*time.Time, error) {
	var last *time.Time
	for _, l := range r.smsLogs {
		if l.Ticker == ticker && l.Kind == kind {
			at := l.SentAt
			if last == nil || at.After(*last) {
				last = &at
			}
		}
	}
	return last, nil
}

func (r *stubRepo) ListSMSLogs(_ context.Context, _ repository.ListSMSLogsParams) ([]models.SMSLog, error) {
	var out []models.SMSLog
	for _, l := range r.smsLogs {
		out = append(out, *l)
	}
	return out, nil
}

func (r *stubRepo) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	r.settings[item.Key] = item
	return nil
}

func (r *stubRepo) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	return r.settings[key], nil
}

func (r *stubRepo) ListSystemSettings(_ context.Context, _ repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	var out []models.SystemSetting
	for _, s := range r.settings {
		out = append(out, *s)
	}
	return out, nil
}

// stubSource serves canned quotes and candles.
type stubSource struct {
	quote    market.Quote
	quoteErr error
	c5       []models.Candle
	c30      []models.Candle
}

func (s *stubSource) LatestQuote(_ context.Context, _ string) (market.Quote, error) {
	if s.quoteErr != nil {
		return market.Quote{}, s.quoteErr
	}
	return s.quote, nil
}

func (s *stubSource) Candles(_ context.Context, _, interval string, _ int) ([]models.Candle, error) {
	if interval == models.Interval30m {
		return append([]models.Candle(nil), s.c30...), nil
	}
	return append([]models.Candle(nil), s.c5...), nil
}

// stubSink records emissions in order.
type stubSink struct {
	kinds   []string
	reasons []string
}

func (s *stubSink) Emit(_ context.Context, _, kind string, _ decimal.Decimal, reason string) (bool, error) {
	s.kinds = append(s.kinds, kind)
	s.reasons = append(s.reasons, reason)
	return true, nil
}
