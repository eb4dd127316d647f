package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AlertKindBuy  = "BUY"
	AlertKindSell = "SELL"
)

// PriceAlert is a dashboard sound alert at a fixed price level, independent
// of the buy/sell records. A BUY alert triggers when the price rises to the
// level, a SELL alert when it falls to it. Triggered alerts are one-shot:
// the snapshot endpoint clears them on read.
type PriceAlert struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Ticker string `gorm:"type:varchar(10);not null;uniqueIndex:uniq_alert_level" json:"ticker"`
	Kind   string `gorm:"type:varchar(5);not null;uniqueIndex:uniq_alert_level" json:"kind"`
	Stage  int    `gorm:"not null;uniqueIndex:uniq_alert_level" json:"stage"`

	Price    decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"price"`
	IsActive bool            `gorm:"not null;default:true;index" json:"is_active"`

	Triggered   bool       `gorm:"not null;default:false;index" json:"triggered"`
	TriggeredAt *time.Time `gorm:"type:timestamptz" json:"triggered_at"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (PriceAlert) TableName() string {
	return "price_alerts"
}

// SoundCode is the one-shot code the dashboard plays for a triggered alert.
func (a *PriceAlert) SoundCode() string {
	kind := "buy"
	if a.Kind == AlertKindSell {
		kind = "sell"
	}
	return a.Ticker + ":" + kind + ":" + itoa(a.Stage)
}

func itoa(n int) string {
	switch n {
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	}
	return "0"
}
