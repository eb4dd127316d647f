package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tripledash/internal/models"
)

// RecordKind selects which checklist a step update targets.
const (
	KindBuy  = "buy"
	KindSell = "sell"
)

// StepUpdate is one atomic step write. On/Price/At land in the stepN_* columns;
// Manual is tri-state: nil leaves stepN_manual untouched (auto evaluation),
// non-nil sets it (user Y/N actions). final_on is recomputed in the same
// statement so a partial write can never leave the aggregate stale.
type StepUpdate struct {
	Kind     string
	RecordID uint64
	Step     int
	On       bool
	Price    decimal.Decimal
	At       time.Time
	Manual   *bool
}

// Repository is the persistence surface of the signal engine. All writes are
// single-row; no cross-ticker transactions exist.
type Repository interface {
	// Candle store.
	UpsertCandles(ctx context.Context, items []models.Candle) error
	LoadCandles(ctx context.Context, ticker, interval string, limit int) ([]models.Candle, error)
	LastCandleTS(ctx context.Context, ticker, interval string) (*time.Time, error)

	// Buy records.
	GetOpenBuy(ctx context.Context, ticker string) (*models.BuyRecord, error)
	CountOpenBuy(ctx context.Context, ticker string) (int64, error)
	CreateBuy(ctx context.Context, item *models.BuyRecord) error
	UpdateBuyStep(ctx context.Context, upd StepUpdate) error
	SetBuyFinal(ctx context.Context, id uint64, on bool) error
	SetBuyStep2Target(ctx context.Context, id uint64, price *decimal.Decimal) error
	ConfirmBuy(ctx context.Context, id uint64, price, qty decimal.Decimal) error
	SaveBuyDayHigh(ctx context.Context, id uint64, high decimal.Decimal, sessionDate string) error
	ArchiveBuy(ctx context.Context, id uint64) error

	// Sell records.
	GetOpenSell(ctx context.Context, ticker string) (*models.SellRecord, error)
	CreateSell(ctx context.Context, item *models.SellRecord) error
	UpdateSellStep(ctx context.Context, upd StepUpdate) error
	SetSellTarget(ctx context.Context, id uint64, step int, price *decimal.Decimal) error
	ConfirmSell(ctx context.Context, id uint64, price, qty decimal.Decimal, isEnd bool) error
	SaveSellDayHigh(ctx context.Context, id uint64, high decimal.Decimal, sessionDate string) error

	// Price-level alerts.
	UpsertPriceAlert(ctx context.Context, item *models.PriceAlert) error
	ListPriceAlerts(ctx context.Context, ticker string, activeOnly bool) ([]models.PriceAlert, error)
	MarkAlertTriggered(ctx context.Context, id uint64, at time.Time) error
	ConsumeTriggeredAlerts(ctx context.Context) ([]models.PriceAlert, error)

	// SMS log.
	AppendSMSLog(ctx context.Context, item *models.SMSLog) error
	LastSMSSentAt(ctx context.Context, ticker, kind string) (*time.Time, error)
	ListSMSLogs(ctx context.Context, params ListSMSLogsParams) ([]models.SMSLog, error)

	// System settings.
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

type ListSMSLogsParams struct {
	Limit  int
	Offset int
	Ticker *string
	Kind   *string
	Since  *time.Time
}

type ListSystemSettingsParams struct {
	Limit  int
	Offset int
	Prefix *string
}
