package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BuyRecord is the per-(ticker, cycle) entry checklist. Each step latches
// independently; a manual step is never auto-cleared. At most one record per
// ticker may have Closed = false.
type BuyRecord struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Ticker string `gorm:"type:varchar(10);not null;index" json:"ticker"`

	// Exchange-local trading day the record was opened on, YYYY-MM-DD.
	SessionDate string `gorm:"type:varchar(10);not null" json:"session_date"`

	Step1On     bool            `gorm:"not null;default:false" json:"step1_on"`
	Step1Time   *time.Time      `gorm:"type:timestamptz" json:"step1_time"`
	Step1Price  decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"step1_price"`
	Step1Manual bool            `gorm:"not null;default:false" json:"step1_manual"`

	Step2On     bool             `gorm:"not null;default:false" json:"step2_on"`
	Step2Time   *time.Time       `gorm:"type:timestamptz" json:"step2_time"`
	Step2Price  decimal.Decimal  `gorm:"type:numeric(20,8);not null;default:0" json:"step2_price"`
	Step2Manual bool             `gorm:"not null;default:false" json:"step2_manual"`
	Step2Target *decimal.Decimal `gorm:"type:numeric(20,8)" json:"step2_target"`

	Step3On     bool            `gorm:"not null;default:false" json:"step3_on"`
	Step3Time   *time.Time      `gorm:"type:timestamptz" json:"step3_time"`
	Step3Price  decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"step3_price"`
	Step3Manual bool            `gorm:"not null;default:false" json:"step3_manual"`

	FinalOn bool `gorm:"not null;default:false" json:"final_on"`

	RealBought bool            `gorm:"not null;default:false" json:"real_bought"`
	RealPrice  decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"real_price"`
	RealQty    decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"real_qty"`

	// Rolling intraday high, mirrored onto the sell record for the trailing
	// stop. DayHighDate marks the session it belongs to; a new session resets it.
	DayHigh     decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"day_high"`
	DayHighDate string          `gorm:"type:varchar(10);not null;default:''" json:"day_high_date"`

	Closed bool `gorm:"not null;default:false;index" json:"closed"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (BuyRecord) TableName() string {
	return "buy_records"
}

func (r *BuyRecord) StepOn(step int) bool {
	switch step {
	case 1:
		return r.Step1On
	case 2:
		return r.Step2On
	case 3:
		return r.Step3On
	}
	return false
}

func (r *BuyRecord) StepManual(step int) bool {
	switch step {
	case 1:
		return r.Step1Manual
	case 2:
		return r.Step2Manual
	case 3:
		return r.Step3Manual
	}
	return false
}

func (r *BuyRecord) StepPrice(step int) decimal.Decimal {
	switch step {
	case 1:
		return r.Step1Price
	case 2:
		return r.Step2Price
	case 3:
		return r.Step3Price
	}
	return decimal.Zero
}

func (r *BuyRecord) AllStepsOn() bool {
	return r.Step1On && r.Step2On && r.Step3On
}
