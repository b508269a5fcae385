package health

import (
	"encoding/json"
	"net/http"
)

// ServeHTTP отдаёт Report в JSON. Unhealthy отвечает 503, degraded - 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Evaluate(r.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Ready - readiness probe: 503, только если упала критичная зависимость.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Evaluate(r.Context()).Status == StatusUnhealthy {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	writePlain(w, "ready")
}

// Live - liveness probe. Зависимости не проверяет: процесс жив, пока отвечает.
func Live(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, "ok")
}

func writePlain(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
