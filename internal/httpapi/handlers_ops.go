package httpapi

import (
	"net/http"
	"strings"

	"meego/internal/ratelimit"
)

var queueKinds = []string{"llm", "image", "ocr", "audio"}

// handleQueueStats reports per-kind queue depth and throughput, per §6:
// `GET /api/v1/queues/stats -> structured status`.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(queueKinds))
	for _, kind := range queueKinds {
		stat, err := s.deps.Queue.Stats(r.Context(), kind)
		if err != nil {
			continue
		}
		out[kind] = map[string]any{
			"waiting":   stat.Waiting,
			"active":    stat.Active,
			"completed": stat.Completed,
			"failed":    stat.Failed,
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "queues": out})
}

// handleRateLimits reports the current counter state for every configured
// provider/service pair, per §6: `GET /api/v1/rate-limits -> structured
// status`.
func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	policies := ratelimit.DefaultPolicies()
	out := make([]map[string]any, 0, len(policies))
	for key := range policies {
		provider, service, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		status := s.deps.Limiter.Status(r.Context(), provider, service)
		out = append(out, map[string]any{
			"provider":    status.Provider,
			"service":     status.Service,
			"minuteCount": status.MinuteCount,
			"dayCount":    status.DayCount,
			"credits":     status.Credits,
			"policy": map[string]any{
				"perMinute":               status.Policy.PerMinute,
				"perDay":                  status.Policy.PerDay,
				"creditLimit":             status.Policy.CreditLimit,
				"estimatedCostPerRequest": status.Policy.EstimatedCostPerRequest,
			},
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "rateLimits": out})
}
