package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SellRecord is the per-(ticker, cycle) exit checklist, created when the
// sibling buy record is confirmed bought. Closed = true terminates the cycle.
type SellRecord struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Ticker      string `gorm:"type:varchar(10);not null;index" json:"ticker"`
	BuyRecordID uint64 `gorm:"not null;index" json:"buy_record_id"`

	EntryPrice decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"entry_price"`

	Step1On     bool             `gorm:"not null;default:false" json:"step1_on"`
	Step1Time   *time.Time       `gorm:"type:timestamptz" json:"step1_time"`
	Step1Price  decimal.Decimal  `gorm:"type:numeric(20,8);not null;default:0" json:"step1_price"`
	Step1Manual bool             `gorm:"not null;default:false" json:"step1_manual"`
	Step1Target *decimal.Decimal `gorm:"type:numeric(20,8)" json:"step1_target"`

	Step2On     bool             `gorm:"not null;default:false" json:"step2_on"`
	Step2Time   *time.Time       `gorm:"type:timestamptz" json:"step2_time"`
	Step2Price  decimal.Decimal  `gorm:"type:numeric(20,8);not null;default:0" json:"step2_price"`
	Step2Manual bool             `gorm:"not null;default:false" json:"step2_manual"`
	Step2Target *decimal.Decimal `gorm:"type:numeric(20,8)" json:"step2_target"`

	Step3On     bool             `gorm:"not null;default:false" json:"step3_on"`
	Step3Time   *time.Time       `gorm:"type:timestamptz" json:"step3_time"`
	Step3Price  decimal.Decimal  `gorm:"type:numeric(20,8);not null;default:0" json:"step3_price"`
	Step3Manual bool             `gorm:"not null;default:false" json:"step3_manual"`
	Step3Target *decimal.Decimal `gorm:"type:numeric(20,8)" json:"step3_target"`

	FinalOn bool `gorm:"not null;default:false" json:"final_on"`

	RealPrice decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"real_price"`
	RealQty   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"real_qty"`

	DayHigh     decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"day_high"`
	DayHighDate string          `gorm:"type:varchar(10);not null;default:''" json:"day_high_date"`

	Closed bool `gorm:"not null;default:false;index" json:"closed"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (SellRecord) TableName() string {
	return "sell_records"
}

func (r *SellRecord) StepOn(step int) bool {
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

func (r *SellRecord) StepManual(step int) bool {
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

func (r *SellRecord) StepPrice(step int) decimal.Decimal {
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

func (r *SellRecord) StepTarget(step int) *decimal.Decimal {
	switch step {
	case 1:
		return r.Step1Target
	case 2:
		return r.Step2Target
	case 3:
		return r.Step3Target
	}
	return nil
}

func (r *SellRecord) AllStepsOn() bool {
	return r.Step1On && r.Step2On && r.Step3On
}
