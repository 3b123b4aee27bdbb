package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/agentgate/gatekeeper/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to its AppError status code and a caller-safe
// message, per spec §7's kind→status mapping.
func writeError(w http.ResponseWriter, log logr.Logger, err error) {
	status := apperrors.GetStatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Error(err, "request failed", kvPairs(apperrors.LogFields(err))...)
	}
	writeJSON(w, status, map[string]string{"error": apperrors.SafeErrorMessage(err)})
}

func kvPairs(fields map[string]interface{}) []interface{} {
	pairs := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		pairs = append(pairs, k, v)
	}
	return pairs
}
