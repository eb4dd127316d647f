package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tripledash/internal/models"
	"tripledash/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Candle store -----------------------------------------------------------

func (s *Store) UpsertCandles(ctx context.Context, items []models.Candle) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	// Realtime rows replace whatever is stored; history rows never overwrite
	// a realtime row for the same bar.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticker"}, {Name: "interval"}, {Name: "ts"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"open", "high", "low", "close", "volume", "source",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{
				SQL:  "excluded.source = ? OR candles.source <> ?",
				Vars: []any{models.CandleSourceRealtime, models.CandleSourceRealtime},
			},
		}},
	}).CreateInBatches(items, 500).Error
}

func (s *Store) LoadCandles(ctx context.Context, ticker, interval string, limit int) ([]models.Candle, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Candle
	err := s.db.WithContext(ctx).
		Model(&models.Candle{}).
		Where("ticker = ? AND interval = ?", ticker, interval).
		Order("ts desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	// Newest-last.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *Store) LastCandleTS(ctx context.Context, ticker, interval string) (*time.Time, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Candle
	err := s.db.WithContext(ctx).
		Model(&models.Candle{}).
		Where("ticker = ? AND interval = ?", ticker, interval).
		Order("ts desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts := item.TS
	return &ts, nil
}

// --- Buy records ------------------------------------------------------------

func (s *Store) GetOpenBuy(ctx context.Context, ticker string) (*models.BuyRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.BuyRecord
	err := s.db.WithContext(ctx).
		Model(&models.BuyRecord{}).
		Where("ticker = ? AND closed = ?", ticker, false).
		Order("id desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CountOpenBuy(ctx context.Context, ticker string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.BuyRecord{}).
		Where("ticker = ? AND closed = ?", ticker, false).
		Count(&n).Error
	return n, err
}

func (s *Store) CreateBuy(ctx context.Context, item *models.BuyRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateBuyStep(ctx context.Context, upd repository.StepUpdate) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates, err := stepUpdates(upd, true)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&models.BuyRecord{}).
		Where("id = ?", upd.RecordID).
		Updates(updates).Error
}

func (s *Store) SetBuyFinal(ctx context.Context, id uint64, on bool) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.BuyRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"final_on": on, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) SetBuyStep2Target(ctx context.Context, id uint64, price *decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.BuyRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"step2_target": price, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) ConfirmBuy(ctx context.Context, id uint64, price, qty decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.BuyRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"real_bought": true,
			"real_price":  price,
			"real_qty":    qty,
			"final_on":    true,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (s *Store) SaveBuyDayHigh(ctx context.Context, id uint64, high decimal.Decimal, sessionDate string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.BuyRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"day_high":      high,
			"day_high_date": sessionDate,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (s *Store) ArchiveBuy(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.BuyRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"closed": true, "updated_at": time.Now().UTC()}).Error
}

// --- Sell records -----------------------------------------------------------

func (s *Store) GetOpenSell(ctx context.Context, ticker string) (*models.SellRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SellRecord
	err := s.db.WithContext(ctx).
		Model(&models.SellRecord{}).
		Where("ticker = ? AND closed = ?", ticker, false).
		Order("id desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateSell(ctx context.Context, item *models.SellRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateSellStep(ctx context.Context, upd repository.StepUpdate) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates, err := stepUpdates(upd, false)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&models.SellRecord{}).
		Where("id = ?", upd.RecordID).
		Updates(updates).Error
}

func (s *Store) SetSellTarget(ctx context.Context, id uint64, step int, price *decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	if step < 1 || step > 3 {
		return fmt.Errorf("invalid sell target step %d", step)
	}
	col := fmt.Sprintf("step%d_target", step)
	return s.db.WithContext(ctx).
		Model(&models.SellRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{col: price, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) ConfirmSell(ctx context.Context, id uint64, price, qty decimal.Decimal, isEnd bool) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"real_price": price,
		"real_qty":   qty,
		"updated_at": time.Now().UTC(),
	}
	if isEnd {
		updates["closed"] = true
	}
	return s.db.WithContext(ctx).
		Model(&models.SellRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) SaveSellDayHigh(ctx context.Context, id uint64, high decimal.Decimal, sessionDate string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.SellRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"day_high":      high,
			"day_high_date": sessionDate,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// --- Price-level alerts -----------------------------------------------------

func (s *Store) UpsertPriceAlert(ctx context.Context, item *models.PriceAlert) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticker"}, {Name: "kind"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price", "is_active", "triggered", "triggered_at", "updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListPriceAlerts(ctx context.Context, ticker string, activeOnly bool) ([]models.PriceAlert, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PriceAlert{})
	if strings.TrimSpace(ticker) != "" {
		query = query.Where("ticker = ?", ticker)
	}
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var items []models.PriceAlert
	if err := query.Order("ticker asc, kind asc, stage asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkAlertTriggered(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.PriceAlert{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"triggered":    true,
			"triggered_at": at,
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (s *Store) ConsumeTriggeredAlerts(ctx context.Context) ([]models.PriceAlert, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PriceAlert
	err := s.db.WithContext(ctx).
		Model(&models.PriceAlert{}).
		Where("triggered = ?", true).
		Order("triggered_at asc").
		Find(&items).Error
	if err != nil || len(items) == 0 {
		return nil, err
	}
	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	// One-shot: consuming a triggered alert also deactivates it so it does
	// not re-fire on the next tick.
	err = s.db.WithContext(ctx).
		Model(&models.PriceAlert{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"triggered":  false,
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- SMS log ----------------------------------------------------------------

func (s *Store) AppendSMSLog(ctx context.Context, item *models.SMSLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) LastSMSSentAt(ctx context.Context, ticker, kind string) (*time.Time, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SMSLog
	err := s.db.WithContext(ctx).
		Model(&models.SMSLog{}).
		Where("ticker = ? AND kind = ?", ticker, kind).
		Order("sent_at desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at := item.SentAt
	return &at, nil
}

func (s *Store) ListSMSLogs(ctx context.Context, params repository.ListSMSLogsParams) ([]models.SMSLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SMSLog{})
	if params.Ticker != nil && strings.TrimSpace(*params.Ticker) != "" {
		query = query.Where("ticker = ?", strings.TrimSpace(*params.Ticker))
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("sent_at >= ?", *params.Since)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.SMSLog
	if err := query.Order("sent_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "description", "updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Order("key asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

// stepUpdates builds the single-statement column map for one step write.
// final_on is recomputed inside the same UPDATE: postgres evaluates SET
// expressions against the old row, so the incoming value is substituted for
// the step being written.
func stepUpdates(upd repository.StepUpdate, buy bool) (map[string]any, error) {
	if upd.Step < 1 || upd.Step > 3 {
		return nil, fmt.Errorf("invalid step %d", upd.Step)
	}
	updates := map[string]any{
		fmt.Sprintf("step%d_on", upd.Step):    upd.On,
		fmt.Sprintf("step%d_price", upd.Step): upd.Price,
		"updated_at":                          time.Now().UTC(),
	}
	if upd.On {
		updates[fmt.Sprintf("step%d_time", upd.Step)] = upd.At
	}
	if upd.Manual != nil {
		updates[fmt.Sprintf("step%d_manual", upd.Step)] = *upd.Manual
	}

	var finalExpr string
	switch upd.Step {
	case 1:
		finalExpr = "(? AND step2_on AND step3_on)"
	case 2:
		finalExpr = "(step1_on AND ? AND step3_on)"
	case 3:
		finalExpr = "(step1_on AND step2_on AND ?)"
	}
	if buy {
		finalExpr += " OR real_bought"
	}
	updates["final_on"] = gorm.Expr(finalExpr, upd.On)
	return updates, nil
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
