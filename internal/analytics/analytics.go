// Package analytics derives aggregate metrics from execution records. All
// functions are pure and deterministic: same input, same output, no state.
package analytics

import (
	"math"
	"time"
)

// Execution is the minimal view of an execution record the engine needs.
type Execution struct {
	Status    string
	StartedAt string
	StoppedAt string
}

// FromPayload extracts the analytics view from a raw execution object.
func FromPayload(payload map[string]any) Execution {
	get := func(key string) string {
		s, _ := payload[key].(string)
		return s
	}
	return Execution{
		Status:    get("status"),
		StartedAt: get("startedAt"),
		StoppedAt: get("stoppedAt"),
	}
}

// FromPayloads extracts the analytics view from a list of raw executions.
func FromPayloads(payloads []map[string]any) []Execution {
	out := make([]Execution, len(payloads))
	for i, p := range payloads {
		out[i] = FromPayload(p)
	}
	return out
}

// Stats are aggregate counts over an execution list.
type Stats struct {
	Total         int     `json:"total"`
	Success       int     `json:"success"`
	Error         int     `json:"error"`
	Waiting       int     `json:"waiting"`
	SuccessRate   float64 `json:"successRate"`
	AvgDurationMs int     `json:"avgDurationMs"`
}

// GetStats computes aggregate stats. SuccessRate is a percentage with
// 2-decimal precision; AvgDurationMs averages only executions whose
// timestamps both parse, with negative durations clamped to zero.
func GetStats(executions []Execution) Stats {
	s := Stats{Total: len(executions)}

	var durationSum int64
	var durationCount int
	for _, e := range executions {
		switch e.Status {
		case "success":
			s.Success++
		case "error":
			s.Error++
		case "waiting":
			s.Waiting++
		}

		if d, ok := executionDuration(e); ok {
			durationSum += d
			durationCount++
		}
	}

	if durationCount > 0 {
		s.AvgDurationMs = int(math.Round(float64(durationSum) / float64(durationCount)))
	}
	if s.Total > 0 {
		s.SuccessRate = math.Round(float64(s.Success)/float64(s.Total)*10000) / 100
	}
	return s
}

// executionDuration returns the clamped duration in milliseconds, or false
// when either timestamp is absent or unparsable.
func executionDuration(e Execution) (int64, bool) {
	if e.StartedAt == "" || e.StoppedAt == "" {
		return 0, false
	}
	start, err := time.Parse(time.RFC3339, e.StartedAt)
	if err != nil {
		return 0, false
	}
	stop, err := time.Parse(time.RFC3339, e.StoppedAt)
	if err != nil {
		return 0, false
	}
	ms := stop.Sub(start).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return ms, true
}

// CostEstimate prices an execution list at a per-execution unit cost.
type CostEstimate struct {
	TotalExecutions int     `json:"totalExecutions"`
	UnitCost        float64 `json:"unitCost"`
	Cost            float64 `json:"cost"`
}

// GetCostEstimate computes total cost with 4-decimal precision.
func GetCostEstimate(executions []Execution, unitCost float64) CostEstimate {
	total := len(executions)
	return CostEstimate{
		TotalExecutions: total,
		UnitCost:        unitCost,
		Cost:            math.Round(float64(total)*unitCost*10000) / 10000,
	}
}
