// Package indicator holds the pure candle math the evaluator consults:
// simple moving averages, 5m→30m resampling, intraday-high scans, and the
// stitching of realtime broker bars onto a bulk history series.
package indicator

import (
	"sort"
	"time"

	"tripledash/internal/models"
)

// SMA returns the simple moving average of the last n closes, and false when
// fewer than n bars are available.
func SMA(candles []models.Candle, n int) (float64, bool) {
	if n <= 0 || len(candles) < n {
		return 0, false
	}
	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.Close
	}
	return sum / float64(n), true
}

// Resample5mTo30m groups 5-minute bars by their 30-minute floor and
// aggregates first/max/min/last/sum. Buckets with no members are dropped.
// Input must be ascending; output is ascending.
func Resample5mTo30m(candles []models.Candle) []models.Candle {
	if len(candles) == 0 {
		return nil
	}
	var out []models.Candle
	for _, c := range candles {
		bucket := c.TS.Truncate(30 * time.Minute)
		if len(out) == 0 || !out[len(out)-1].TS.Equal(bucket) {
			agg := c
			agg.TS = bucket
			agg.Interval = models.Interval30m
			out = append(out, agg)
			continue
		}
		last := &out[len(out)-1]
		if c.High > last.High {
			last.High = c.High
		}
		if c.Low < last.Low {
			last.Low = c.Low
		}
		last.Close = c.Close
		last.Volume += c.Volume
		if c.Source == models.CandleSourceRealtime {
			last.Source = models.CandleSourceRealtime
		}
	}
	return out
}

// DayHigh scans candles for the highest high within sessionDate
// (exchange-local YYYY-MM-DD). Returns 0, false when no bar falls in the day.
func DayHigh(candles []models.Candle, sessionDate string, zone *time.Location) (float64, bool) {
	if zone == nil {
		zone = time.UTC
	}
	high := 0.0
	found := false
	for _, c := range candles {
		if c.TS.In(zone).Format("2006-01-02") != sessionDate {
			continue
		}
		if !found || c.High > high {
			high = c.High
			found = true
		}
	}
	return high, found
}

// Stitch overlays realtime bars onto a history series: where both carry the
// same timestamp the realtime row wins, and realtime timestamps newer than
// the history tail are appended. The result is ascending.
func Stitch(history, realtime []models.Candle) []models.Candle {
	if len(realtime) == 0 {
		return history
	}
	byTS := make(map[int64]models.Candle, len(realtime))
	for _, c := range realtime {
		c.Source = models.CandleSourceRealtime
		byTS[c.TS.Unix()] = c
	}
	out := make([]models.Candle, 0, len(history)+len(realtime))
	for _, c := range history {
		if r, ok := byTS[c.TS.Unix()]; ok {
			out = append(out, r)
			delete(byTS, c.TS.Unix())
			continue
		}
		out = append(out, c)
	}
	var lastHistory time.Time
	if len(history) > 0 {
		lastHistory = history[len(history)-1].TS
	}
	for _, c := range byTS {
		if len(history) == 0 || c.TS.After(lastHistory) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}
