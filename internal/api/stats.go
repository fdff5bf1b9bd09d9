package api

import (
	"net/http"

	"github.com/seantiz/compatscan/internal/engine"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int                   `json:"total"`
	ByStatus      map[string]int        `json:"by_status"`
	ByKind        map[string]int        `json:"by_kind"`
	AvgDurationMS float64               `json:"avg_duration_ms"`
	Scheduler     engine.SchedulerStats `json:"scheduler"`
	Subscribers   int                   `json:"subscribers"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.sched.Store().Stats()

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByKind:        stats.CountByKind,
		AvgDurationMS: stats.AvgDurationMS,
		Scheduler:     s.sched.Stats(),
		Subscribers:   s.sched.Bus().Subscribers(),
	})
}
