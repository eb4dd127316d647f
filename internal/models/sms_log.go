package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	SMSStatusSuccess = "Success"
	SMSStatusFailed  = "Failed"
)

// SMSLog is the append-only record of alert messages. The sink's suppression
// window is a read against this table, so restarts cannot cause storms.
type SMSLog struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Ticker string `gorm:"type:varchar(10);not null;index:idx_sms_ticker_kind" json:"ticker"`
	Kind   string `gorm:"type:varchar(20);not null;index:idx_sms_ticker_kind" json:"kind"`

	Price  decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"price"`
	Body   string          `gorm:"type:text;not null" json:"body"`
	Status string          `gorm:"type:varchar(10);not null" json:"status"`

	// Raw vendor response, kept for debugging delivery issues.
	Payload datatypes.JSON `gorm:"type:jsonb" json:"payload"`

	SentAt time.Time `gorm:"type:timestamptz;not null;index" json:"sent_at"`
}

func (SMSLog) TableName() string {
	return "sms_logs"
}
