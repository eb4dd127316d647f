package signal

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tripledash/internal/alert"
	"tripledash/internal/cache"
	"tripledash/internal/indicator"
	"tripledash/internal/market"
	"tripledash/internal/metrics"
	"tripledash/internal/models"
	"tripledash/internal/repository"
	"tripledash/internal/service"
)

// minBars is the shortest series the SMA(30) predicates accept. Below this
// the affected predicates are held false and the tick proceeds.
const minBars = 31

// Emitter is the alert sink surface the evaluator needs.
type Emitter interface {
	Emit(ctx context.Context, ticker, kind string, price decimal.Decimal, reason string) (bool, error)
}

// Evaluator runs the per-ticker signal pass every tick. It is the sole
// automatic writer of buy/sell records; manual overrides and confirms come in
// through the HTTP handlers between ticks.
type Evaluator struct {
	Source   market.Source
	Repo     repository.Repository
	Cycles   *CycleManager
	Sink     Emitter
	Settings *service.SystemSettingsService
	Cache    *cache.Market
	Logger   *zap.Logger

	BreakoutPct float64
	TrailingPct float64
	Lookback    int
	Zone        *time.Location
	Tickers     []string

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// transition is one latched step waiting for the sink. Alerts for a ticker go
// out in step order within the tick.
type transition struct {
	kind   string
	reason string
}

func (e *Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Tick evaluates every configured ticker in order. Errors are contained per
// ticker; the scheduler never sees them.
func (e *Evaluator) Tick(ctx context.Context) {
	if e == nil {
		return
	}
	timer := prometheus.NewTimer(metrics.TickDuration)
	defer timer.ObserveDuration()

	if e.Settings != nil && !e.Settings.IsEnabled(ctx, service.FeatureEvaluator, true) {
		return
	}
	for _, ticker := range e.Tickers {
		e.evaluateTicker(ctx, ticker)
	}
}

func (e *Evaluator) evaluateTicker(ctx context.Context, ticker string) {
	now := e.now()
	sess := sessionDate(now, e.Zone)

	quote, err := e.Source.LatestQuote(ctx, ticker)
	if err != nil {
		metrics.QuoteFailures.WithLabelValues(ticker).Inc()
		if e.Logger != nil {
			e.Logger.Debug("quote unavailable, ticker skipped", zap.String("ticker", ticker), zap.Error(err))
		}
		return
	}
	price := quote.Price

	lookback := e.Lookback
	if lookback <= 0 {
		lookback = 120
	}
	c5, err := e.Source.Candles(ctx, ticker, models.Interval5m, lookback)
	if err != nil {
		metrics.QuoteFailures.WithLabelValues(ticker).Inc()
		if e.Logger != nil {
			e.Logger.Warn("5m candles unavailable, ticker skipped", zap.String("ticker", ticker), zap.Error(err))
		}
		return
	}
	c30, err := e.Source.Candles(ctx, ticker, models.Interval30m, lookback)
	if err != nil || len(c30) == 0 {
		c30 = indicator.Resample5mTo30m(c5)
	}

	overlayQuote(c5, quote)
	overlayQuote(c30, quote)

	sma5a, ok5a := indicator.SMA(c5, 10)
	sma5b, ok5b := indicator.SMA(c5, 30)
	ok5 := len(c5) >= minBars && ok5a && ok5b
	sma30a, ok30a := indicator.SMA(c30, 10)
	sma30b, ok30b := indicator.SMA(c30, 30)
	ok30 := len(c30) >= minBars && ok30a && ok30b

	buy, err := e.Repo.GetOpenBuy(ctx, ticker)
	if err != nil {
		e.storeFailed(ticker, "load buy record", err)
		return
	}
	if n, cerr := e.Repo.CountOpenBuy(ctx, ticker); cerr != nil {
		e.storeFailed(ticker, "count buy records", cerr)
		return
	} else if n > 1 {
		if e.Logger != nil {
			e.Logger.Error("invariant violation: multiple open buy records, evaluation refused",
				zap.String("ticker", ticker), zap.Int64("open", n))
		}
		return
	}

	prevClose := effectivePrevClose(quote)

	var events []transition
	var sell *models.SellRecord

	if buy == nil || !buy.RealBought {
		buy, events, err = e.evaluateBuy(ctx, ticker, buy, buyInputs{
			price:      price,
			prevClose:  prevClose,
			trendShort: ok5 && sma5a > sma5b,
			trendMed:   ok30 && sma30a > sma30b,
			sess:       sess,
			now:        now,
			quote:      quote,
			c5:         c5,
		})
		if err != nil {
			return
		}
	}

	if buy != nil && buy.RealBought {
		sell, events, err = e.evaluateSell(ctx, buy, sellInputs{
			price:     price,
			downtrend: ok5 && sma5a < sma5b,
			sess:      sess,
			now:       now,
			quote:     quote,
			c5:        c5,
		})
		if err != nil {
			return
		}
	}

	e.checkPriceAlerts(ctx, ticker, price, now, &events)

	if e.Cache != nil {
		e.Cache.Put(ctx, cache.MarketInfo{
			Ticker:     ticker,
			Price:      price,
			PrevClose:  prevClose,
			ChangePct:  quote.ChangePct,
			DayHigh:    quote.DayHigh,
			SMA5m:      sma5a,
			SMA30m:     sma30a,
			SMA5mOK:    ok5,
			SMA30mOK:   ok30,
			Exchange:   quote.Exchange,
			CycleState: DeriveCycleState(buy, sell),
			UpdatedAt:  now.UTC(),
		})
	}

	e.emit(ctx, ticker, price, events)
}

type buyInputs struct {
	price      decimal.Decimal
	prevClose  decimal.Decimal
	trendShort bool
	trendMed   bool
	sess       string
	now        time.Time
	quote      market.Quote
	c5         []models.Candle
}

// evaluateBuy applies the independent latching rule to the three buy steps.
// Returns the (possibly created) record and the ordered transitions.
func (e *Evaluator) evaluateBuy(ctx context.Context, ticker string, buy *models.BuyRecord, in buyInputs) (*models.BuyRecord, []transition, error) {
	breakout := e.breakoutPredicate(buy, in.price, in.prevClose)
	preds := [3]bool{in.trendShort, breakout, in.trendMed}
	reasons := [3]string{"short-term trend up", "breakout", "medium-term trend up"}

	if buy == nil {
		if !preds[0] && !preds[1] && !preds[2] {
			return nil, nil, nil
		}
		created, err := e.Cycles.EnsureBuy(ctx, ticker, in.sess)
		if err != nil {
			e.storeFailed(ticker, "create buy record", err)
			return nil, nil, err
		}
		buy = created
	}

	if err := e.persistBuyDayHigh(ctx, buy, in.quote, in.c5, in.sess); err != nil {
		return buy, nil, err
	}

	prevFinal := buy.FinalOn
	wrote := false
	var events []transition
	for step := 1; step <= 3; step++ {
		pred := preds[step-1]
		on := buy.StepOn(step)
		if buy.StepManual(step) {
			continue
		}
		switch {
		case pred && !on:
			upd := repository.StepUpdate{
				Kind:     repository.KindBuy,
				RecordID: buy.ID,
				Step:     step,
				On:       true,
				Price:    in.price,
				At:       in.now,
			}
			if err := e.Repo.UpdateBuyStep(ctx, upd); err != nil {
				e.storeFailed(ticker, "latch buy step", err)
				return buy, nil, err
			}
			applyBuyStep(buy, step, true, in.price, in.now)
			wrote = true
			metrics.StepsLatched.WithLabelValues(ticker, repository.KindBuy, stepLabel(step)).Inc()
			events = append(events, transition{kind: buyStepKind(step), reason: reasons[step-1]})
		case !pred && on:
			upd := repository.StepUpdate{
				Kind:     repository.KindBuy,
				RecordID: buy.ID,
				Step:     step,
				On:       false,
				Price:    buy.StepPrice(step),
				At:       in.now,
			}
			if err := e.Repo.UpdateBuyStep(ctx, upd); err != nil {
				e.storeFailed(ticker, "clear buy step", err)
				return buy, nil, err
			}
			applyBuyStep(buy, step, false, buy.StepPrice(step), in.now)
			wrote = true
		}
	}

	final := buy.AllStepsOn() || buy.RealBought
	if final != prevFinal {
		// Step writes recompute final_on in-statement; only a tick with no
		// step write needs the explicit update.
		if !wrote {
			if err := e.Repo.SetBuyFinal(ctx, buy.ID, final); err != nil {
				e.storeFailed(ticker, "set buy final", err)
				return buy, events, err
			}
		}
		buy.FinalOn = final
		if final {
			events = append(events, transition{kind: alert.KindBuyFinal, reason: "all buy steps latched"})
		}
	}
	return buy, events, nil
}

// breakoutPredicate is buy step 2: manual target first, then step-1 anchor,
// then previous close. Held false when no anchor exists.
func (e *Evaluator) breakoutPredicate(buy *models.BuyRecord, price, prevClose decimal.Decimal) bool {
	factor := decimal.NewFromFloat(1 + e.BreakoutPct)
	if buy != nil && buy.Step2Target != nil {
		return price.GreaterThanOrEqual(*buy.Step2Target)
	}
	if buy != nil && buy.Step1Price.IsPositive() {
		return price.GreaterThanOrEqual(buy.Step1Price.Mul(factor))
	}
	if prevClose.IsPositive() {
		return price.GreaterThanOrEqual(prevClose.Mul(factor))
	}
	return false
}

type sellInputs struct {
	price     decimal.Decimal
	downtrend bool
	sess      string
	now       time.Time
	quote     market.Quote
	c5        []models.Candle
}

func (e *Evaluator) evaluateSell(ctx context.Context, buy *models.BuyRecord, in sellInputs) (*models.SellRecord, []transition, error) {
	// The buy record keeps tracking the session high while holding, so both
	// records carry the same value.
	if err := e.persistBuyDayHigh(ctx, buy, in.quote, in.c5, in.sess); err != nil {
		return nil, nil, err
	}

	sell, err := e.Cycles.EnsureSell(ctx, buy)
	if err != nil {
		e.storeFailed(buy.Ticker, "ensure sell record", err)
		return nil, nil, err
	}

	if err := e.persistSellDayHigh(ctx, sell, in.quote, in.c5, in.sess); err != nil {
		return sell, nil, err
	}

	preds := [3]bool{}
	reasons := [3]string{}
	// Step 1: manual target wins; otherwise the 5-minute downtrend.
	if t := sell.Step1Target; t != nil {
		preds[0] = in.price.LessThanOrEqual(*t)
		reasons[0] = "sell target hit"
	} else {
		preds[0] = in.downtrend
		reasons[0] = "short-term downtrend"
	}
	// Step 2: manual target wins; otherwise the trailing stop off day high.
	if t := sell.Step2Target; t != nil {
		preds[1] = in.price.LessThanOrEqual(*t)
		reasons[1] = "sell target hit"
	} else if sell.DayHigh.IsPositive() && sell.DayHighDate == in.sess {
		stop := sell.DayHigh.Mul(decimal.NewFromFloat(1 - e.TrailingPct))
		preds[1] = in.price.LessThanOrEqual(stop)
		reasons[1] = "trailing stop hit"
	}
	// Step 3 has no auto predicate.
	if t := sell.Step3Target; t != nil {
		preds[2] = in.price.LessThanOrEqual(*t)
		reasons[2] = "sell target hit"
	}

	var events []transition
	for step := 1; step <= 3; step++ {
		pred := preds[step-1]
		on := sell.StepOn(step)
		if sell.StepManual(step) {
			continue
		}
		switch {
		case pred && !on:
			upd := repository.StepUpdate{
				Kind:     repository.KindSell,
				RecordID: sell.ID,
				Step:     step,
				On:       true,
				Price:    in.price,
				At:       in.now,
			}
			if err := e.Repo.UpdateSellStep(ctx, upd); err != nil {
				e.storeFailed(buy.Ticker, "latch sell step", err)
				return sell, nil, err
			}
			applySellStep(sell, step, true, in.price, in.now)
			metrics.StepsLatched.WithLabelValues(buy.Ticker, repository.KindSell, stepLabel(step)).Inc()
			events = append(events, transition{kind: sellStepKind(step), reason: reasons[step-1]})
		case !pred && on:
			upd := repository.StepUpdate{
				Kind:     repository.KindSell,
				RecordID: sell.ID,
				Step:     step,
				On:       false,
				Price:    sell.StepPrice(step),
				At:       in.now,
			}
			if err := e.Repo.UpdateSellStep(ctx, upd); err != nil {
				e.storeFailed(buy.Ticker, "clear sell step", err)
				return sell, nil, err
			}
			applySellStep(sell, step, false, sell.StepPrice(step), in.now)
		}
	}
	sell.FinalOn = sell.AllStepsOn()
	return sell, events, nil
}

// checkPriceAlerts fires the independent price-level alerts. A BUY alert
// triggers on price rising to the level, a SELL alert on falling to it.
func (e *Evaluator) checkPriceAlerts(ctx context.Context, ticker string, price decimal.Decimal, now time.Time, events *[]transition) {
	alerts, err := e.Repo.ListPriceAlerts(ctx, ticker, true)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("price alert list failed", zap.String("ticker", ticker), zap.Error(err))
		}
		return
	}
	for i := range alerts {
		a := &alerts[i]
		if a.Triggered {
			continue
		}
		hit := false
		switch a.Kind {
		case models.AlertKindBuy:
			hit = price.GreaterThanOrEqual(a.Price)
		case models.AlertKindSell:
			hit = price.LessThanOrEqual(a.Price)
		}
		if !hit {
			continue
		}
		if err := e.Repo.MarkAlertTriggered(ctx, a.ID, now.UTC()); err != nil {
			e.storeFailed(ticker, "mark price alert", err)
			return
		}
		*events = append(*events, transition{kind: alert.KindPriceAlert, reason: a.SoundCode()})
	}
}

func (e *Evaluator) persistBuyDayHigh(ctx context.Context, buy *models.BuyRecord, q market.Quote, c5 []models.Candle, sess string) error {
	high := e.mergeDayHigh(q, c5, buy.DayHigh, buy.DayHighDate, sess)
	if high.Equal(buy.DayHigh) && buy.DayHighDate == sess {
		return nil
	}
	if err := e.Repo.SaveBuyDayHigh(ctx, buy.ID, high, sess); err != nil {
		e.storeFailed(buy.Ticker, "save buy day high", err)
		return err
	}
	buy.DayHigh = high
	buy.DayHighDate = sess
	return nil
}

func (e *Evaluator) persistSellDayHigh(ctx context.Context, sell *models.SellRecord, q market.Quote, c5 []models.Candle, sess string) error {
	high := e.mergeDayHigh(q, c5, sell.DayHigh, sell.DayHighDate, sess)
	if high.Equal(sell.DayHigh) && sell.DayHighDate == sess {
		return nil
	}
	if err := e.Repo.SaveSellDayHigh(ctx, sell.ID, high, sess); err != nil {
		e.storeFailed(sell.Ticker, "save sell day high", err)
		return err
	}
	sell.DayHigh = high
	sell.DayHighDate = sess
	return nil
}

// mergeDayHigh takes the max of the broker's reported high, today's 5m bars
// and the stored value. The stored value only participates while it belongs
// to the current session, which is what resets the high at the day boundary.
func (e *Evaluator) mergeDayHigh(q market.Quote, c5 []models.Candle, stored decimal.Decimal, storedDate, sess string) decimal.Decimal {
	best := q.DayHigh
	if barHigh, ok := indicator.DayHigh(c5, sess, e.Zone); ok {
		best = decMax(best, decimal.NewFromFloat(barHigh))
	}
	if storedDate == sess {
		best = decMax(best, stored)
	}
	return best
}

func (e *Evaluator) emit(ctx context.Context, ticker string, price decimal.Decimal, events []transition) {
	if e.Sink == nil {
		return
	}
	for _, ev := range events {
		if _, err := e.Sink.Emit(ctx, ticker, ev.kind, price, ev.reason); err != nil {
			if e.Logger != nil {
				e.Logger.Error("alert emit failed", zap.String("ticker", ticker), zap.String("kind", ev.kind), zap.Error(err))
			}
		}
	}
}

func (e *Evaluator) storeFailed(ticker, op string, err error) {
	metrics.StoreErrors.WithLabelValues(ticker).Inc()
	if e.Logger != nil {
		e.Logger.Error("store write failed, ticker tick aborted",
			zap.String("ticker", ticker), zap.String("op", op), zap.Error(err))
	}
}

// effectivePrevClose trusts the broker's reported change percentage: when it
// disagrees with (price-prev)/prev by more than 0.05pp the previous close is
// recomputed from price and the percentage.
func effectivePrevClose(q market.Quote) decimal.Decimal {
	prev := q.PrevClose
	if q.ChangePct.IsZero() {
		return prev
	}
	denom := decimal.NewFromInt(1).Add(q.ChangePct.Div(decimal.NewFromInt(100)))
	if !denom.IsPositive() {
		return prev
	}
	implied := q.Price.Div(denom)
	if !prev.IsPositive() {
		return implied
	}
	reported := q.ChangePct
	computed := q.Price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
	if computed.Sub(reported).Abs().GreaterThan(decimal.NewFromFloat(0.05)) {
		return implied
	}
	return prev
}

// overlayQuote folds a quote newer than the last bar into that bar's close.
func overlayQuote(candles []models.Candle, q market.Quote) {
	if len(candles) == 0 {
		return
	}
	last := &candles[len(candles)-1]
	if !q.FetchedAt.After(last.TS) {
		return
	}
	p, _ := q.Price.Float64()
	if p <= 0 {
		return
	}
	last.Close = p
	if p > last.High {
		last.High = p
	}
}

func applyBuyStep(buy *models.BuyRecord, step int, on bool, price decimal.Decimal, at time.Time) {
	t := at
	switch step {
	case 1:
		buy.Step1On = on
		buy.Step1Price = price
		if on {
			buy.Step1Time = &t
		}
	case 2:
		buy.Step2On = on
		buy.Step2Price = price
		if on {
			buy.Step2Time = &t
		}
	case 3:
		buy.Step3On = on
		buy.Step3Price = price
		if on {
			buy.Step3Time = &t
		}
	}
	buy.FinalOn = buy.AllStepsOn() || buy.RealBought
}

func applySellStep(sell *models.SellRecord, step int, on bool, price decimal.Decimal, at time.Time) {
	t := at
	switch step {
	case 1:
		sell.Step1On = on
		sell.Step1Price = price
		if on {
			sell.Step1Time = &t
		}
	case 2:
		sell.Step2On = on
		sell.Step2Price = price
		if on {
			sell.Step2Time = &t
		}
	case 3:
		sell.Step3On = on
		sell.Step3Price = price
		if on {
			sell.Step3Time = &t
		}
	}
	sell.FinalOn = sell.AllStepsOn()
}

func buyStepKind(step int) string {
	switch step {
	case 1:
		return alert.KindBuyStep1
	case 2:
		return alert.KindBuyStep2
	default:
		return alert.KindBuyStep3
	}
}

func sellStepKind(step int) string {
	switch step {
	case 1:
		return alert.KindSellStep1
	case 2:
		return alert.KindSellStep2
	default:
		return alert.KindSellStep3
	}
}

func stepLabel(step int) string {
	switch step {
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "3"
	}
}

func decMax(a, b decimal.Decimal) decimal.Decimal {
	if b.GreaterThan(a) {
		return b
	}
	return a
}
