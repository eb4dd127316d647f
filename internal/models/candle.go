package models

import (
	"time"
)

const (
	Interval5m  = "5m"
	Interval30m = "30m"
	Interval1d  = "1d"
)

const (
	CandleSourceHistory  = "history"
	CandleSourceRealtime = "realtime"
)

// Candle is one OHLCV bar. The store is a cache that accelerates indicator
// computation; the composite quote source refreshes it every tick.
type Candle struct {
	Ticker   string    `gorm:"primaryKey;type:varchar(10)" json:"ticker"`
	Interval string    `gorm:"primaryKey;type:varchar(5)" json:"interval"`
	TS       time.Time `gorm:"primaryKey;type:timestamptz;column:ts" json:"ts"`

	Open   float64 `gorm:"not null" json:"open"`
	High   float64 `gorm:"not null" json:"high"`
	Low    float64 `gorm:"not null" json:"low"`
	Close  float64 `gorm:"not null" json:"close"`
	Volume float64 `gorm:"not null;default:0" json:"volume"`

	Source string `gorm:"type:varchar(10);not null;default:'history'" json:"source"`
}

func (Candle) TableName() string {
	return "candles"
}
