package api

import (
	"net/http"
	"strconv"

	"github.com/workflowops/opsgate/internal/analytics"
)

const (
	defaultTrendDays = 7
	maxTrendDays     = 90
)

// analyticsExecutions resolves the execution set an analytics endpoint
// operates on, honoring the workflowId and refresh query parameters.
func (s *Server) analyticsExecutions(w http.ResponseWriter, r *http.Request) ([]analytics.Execution, bool) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return nil, false
	}

	q := r.URL.Query()
	payloads, _, err := s.loadExecutions(r, inst, q.Get("workflowId"), q.Get("refresh") == "true")
	if err != nil {
		s.writeUpstreamError(w, err)
		return nil, false
	}
	return analytics.FromPayloads(payloads), true
}

// handleStats handles GET /instances/{instanceID}/analytics/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	executions, ok := s.analyticsExecutions(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, analytics.GetStats(executions))
}

// handleTrends handles GET /instances/{instanceID}/analytics/trends?days=N.
func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	days, ok := s.trendDays(w, r)
	if !ok {
		return
	}
	executions, ok := s.analyticsExecutions(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, analytics.GetTrends(executions, days))
}

// handleCost handles GET /instances/{instanceID}/analytics/cost?unitCost=N.
func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	unitCost := 0.0
	if raw := r.URL.Query().Get("unitCost"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "unitCost must be a non-negative number")
			return
		}
		unitCost = parsed
	}

	executions, ok := s.analyticsExecutions(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, analytics.GetCostEstimate(executions, unitCost))
}

// handleAnomalies handles GET /instances/{instanceID}/analytics/anomalies.
// Anomalies are detected over the daily trend series; the result is empty
// when the series is too short or the latest day looks normal.
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	days, ok := s.trendDays(w, r)
	if !ok {
		return
	}
	executions, ok := s.analyticsExecutions(w, r)
	if !ok {
		return
	}

	anomalies := analytics.DetectAnomalies(analytics.GetTrends(executions, days))
	if anomalies == nil {
		anomalies = []analytics.Anomaly{}
	}
	respondJSON(w, http.StatusOK, anomalies)
}

func (s *Server) trendDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	days := defaultTrendDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxTrendDays {
			s.writeError(w, http.StatusBadRequest, "days must be between 1 and 90")
			return 0, false
		}
		days = parsed
	}
	return days, true
}
