// Package alert turns latched signal transitions into SMS messages. Every
// emission attempt lands as an sms_logs row; the suppression window is read
// from that table so a restarted process cannot double-send.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tripledash/internal/metrics"
	"tripledash/internal/models"
	"tripledash/internal/service"
)

// Alert kinds. One suppression window applies per (ticker, kind) pair.
const (
	KindBuyStep1   = "buy_step_1_on"
	KindBuyStep2   = "buy_step_2_on"
	KindBuyStep3   = "buy_step_3_on"
	KindBuyFinal   = "buy_final"
	KindSellStep1  = "sell_step_1_on"
	KindSellStep2  = "sell_step_2_on"
	KindSellStep3  = "sell_step_3_on"
	KindPriceAlert = "price_alert"
	KindHeartbeat  = "heartbeat"
)

// LogStore is the slice of the repository the sink needs.
type LogStore interface {
	AppendSMSLog(ctx context.Context, item *models.SMSLog) error
	LastSMSSentAt(ctx context.Context, ticker, kind string) (*time.Time, error)
}

// Sink emits alert messages with per-(ticker, kind) suppression.
type Sink struct {
	Repo     LogStore
	Sender   Sender
	Settings *service.SystemSettingsService
	Logger   *zap.Logger

	To          string
	Suppression time.Duration
}

// Emit sends one alert unless an identical (ticker, kind) message went out
// inside the suppression window. Returns whether a message was actually sent.
func (s *Sink) Emit(ctx context.Context, ticker, kind string, price decimal.Decimal, reason string) (bool, error) {
	if s == nil || s.Repo == nil {
		return false, nil
	}
	if s.Settings != nil && !s.Settings.IsEnabled(ctx, service.FeatureSMS, true) {
		return false, nil
	}
	if s.suppressed(ctx, ticker, kind) {
		if s.Logger != nil {
			s.Logger.Debug("alert suppressed", zap.String("ticker", ticker), zap.String("kind", kind))
		}
		return false, nil
	}

	body := fmt.Sprintf("[%s] [%s] [$%s] [%s]", ticker, kind, price.StringFixed(2), reason)
	status := models.SMSStatusSuccess
	var payload []byte
	var sendErr error
	if s.Sender != nil {
		payload, sendErr = s.Sender.Send(ctx, s.To, body)
		if sendErr != nil {
			status = models.SMSStatusFailed
		}
	}

	entry := &models.SMSLog{
		Ticker: ticker,
		Kind:   kind,
		Price:  price,
		Body:   body,
		Status: status,
		SentAt: time.Now().UTC(),
	}
	if len(payload) > 0 {
		entry.Payload = datatypes.JSON(payload)
	}
	if err := s.Repo.AppendSMSLog(ctx, entry); err != nil {
		return false, err
	}

	metrics.SMSSent.WithLabelValues(ticker, status).Inc()
	if sendErr != nil {
		if s.Logger != nil {
			s.Logger.Error("sms delivery failed", zap.String("ticker", ticker), zap.String("kind", kind), zap.Error(sendErr))
		}
		return false, nil
	}
	if s.Logger != nil {
		s.Logger.Info("alert sent", zap.String("ticker", ticker), zap.String("kind", kind), zap.String("body", body))
	}
	return true, nil
}

// suppressed reports whether any sms_logs row for (ticker, kind) falls inside
// the window. Failed attempts count too: a flapping gateway must not retry
// every 10 seconds.
func (s *Sink) suppressed(ctx context.Context, ticker, kind string) bool {
	if s.Suppression <= 0 {
		return false
	}
	last, err := s.Repo.LastSMSSentAt(ctx, ticker, kind)
	if err != nil || last == nil {
		return false
	}
	return time.Since(*last) < s.Suppression
}
