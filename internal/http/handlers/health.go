package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(api.healthChecks))
	for name := range api.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := api.healthChecks[name](ctx); err != nil {
			api.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			checks[name] = "unavailable"
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
