package middleware

import (
	"encoding/json"
	"net/http"
)

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := map[string]any{
		"error":      map[string]string{"code": code, "message": message},
		"request_id": GetRequestID(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
