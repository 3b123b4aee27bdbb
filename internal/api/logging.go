package api

import (
	"net/http"
	"time"

	sharedlogging "github.com/agentgate/gatekeeper/pkg/shared/logging"
)

// withRequestLogging logs one structured line per request, built with
// pkg/shared/logging's HTTPFields builder and flattened into the request
// logger's key-value pairs.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		fields := sharedlogging.HTTPFields(r.Method, r.URL.Path, rw.status).
			RequestID(r.Header.Get("X-Request-Id")).
			Duration(time.Since(start))

		log := loggerFromRequest(r)
		kvs := make([]interface{}, 0, len(fields)*2)
		for k, v := range fields {
			kvs = append(kvs, k, v)
		}
		log.Info("http request", kvs...)
	})
}
