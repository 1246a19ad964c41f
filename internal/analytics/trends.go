package analytics

import (
	"math"
	"time"
)

const dateKeyLayout = "2006-01-02"

// TrendPoint is one calendar day of execution activity.
type TrendPoint struct {
	Date          string  `json:"date"`
	Total         int     `json:"total"`
	Success       int     `json:"success"`
	Error         int     `json:"error"`
	SuccessRate   float64 `json:"successRate"`
	AvgDurationMs int     `json:"avgDurationMs"`
}

// GetTrends buckets executions by UTC calendar day and returns exactly
// `days` points ending today, oldest first. Days with no executions are
// present with zero stats; the series is dense, never sparse.
func GetTrends(executions []Execution, days int) []TrendPoint {
	return GetTrendsAt(executions, days, time.Now())
}

// GetTrendsAt is GetTrends with an explicit reference time for the final
// (most recent) day of the series.
func GetTrendsAt(executions []Execution, days int, now time.Time) []TrendPoint {
	buckets := make(map[string][]Execution)
	for _, e := range executions {
		key, ok := dateKey(e.StartedAt)
		if !ok {
			continue
		}
		buckets[key] = append(buckets[key], e)
	}

	today := now.UTC()
	points := make([]TrendPoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		key := today.AddDate(0, 0, -i).Format(dateKeyLayout)
		stats := GetStats(buckets[key])
		points = append(points, TrendPoint{
			Date:          key,
			Total:         stats.Total,
			Success:       stats.Success,
			Error:         stats.Error,
			SuccessRate:   stats.SuccessRate,
			AvgDurationMs: stats.AvgDurationMs,
		})
	}
	return points
}

func dateKey(startedAt string) (string, bool) {
	if startedAt == "" {
		return "", false
	}
	ts, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return "", false
	}
	return ts.UTC().Format(dateKeyLayout), true
}

// Anomaly flags a trend day whose error rate diverges from the baseline.
// Anomalies are derived on demand and never persisted.
type Anomaly struct {
	Date     string  `json:"date"`
	Metric   string  `json:"metric"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
	Severity string  `json:"severity"`
}

// DetectAnomalies compares the latest trend point's error rate against the
// mean error rate of all prior points. Series shorter than 3 points carry
// too little signal and yield nothing. At most one anomaly is produced:
// only the latest day is evaluated.
func DetectAnomalies(trends []TrendPoint) []Anomaly {
	if len(trends) < 3 {
		return nil
	}

	latest := trends[len(trends)-1]
	baseline := trends[:len(trends)-1]

	var sum float64
	for _, p := range baseline {
		sum += errorRate(p)
	}
	baselineRate := sum / float64(len(baseline))
	latestRate := errorRate(latest)

	severity := latestRate - baselineRate
	if severity < 10 {
		return nil
	}

	level := "low"
	switch {
	case severity > 25:
		level = "high"
	case severity > 15:
		level = "medium"
	}

	return []Anomaly{{
		Date:     latest.Date,
		Metric:   "error_rate",
		Expected: round2(baselineRate),
		Actual:   round2(latestRate),
		Severity: level,
	}}
}

func errorRate(p TrendPoint) float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Error) / float64(p.Total) * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
