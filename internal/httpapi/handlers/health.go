package handlers

import (
	"context"
	"net/http"
	"time"

	"slidecast/internal/httpkit"
)

const checkTimeout = 5 * time.Second

// Health reports liveness. With ?deep=true it also probes every configured
// dependency; the status stays 200 and ok turns false when one fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	health := map[string]any{"ok": true}

	if r.URL.Query().Get("deep") == "true" {
		checks, ok := h.deepHealthCheck(ctx)
		health["checks"] = checks
		health["ok"] = ok
		if h.pool != nil {
			health["active_jobs"] = h.pool.Active()
			health["max_jobs"] = h.pool.Size()
		}
		if !ok {
			h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) (map[string]any, bool) {
	checks := make(map[string]any, len(h.checks))
	ok := true
	for _, c := range h.checks {
		result := runCheck(ctx, c)
		if result["status"] != "ok" {
			ok = false
		}
		checks[c.Name] = result
	}
	return checks, ok
}

func runCheck(ctx context.Context, c Check) map[string]any {
	start := time.Now()
	result := map[string]any{
		"status": "ok",
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
