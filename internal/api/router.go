// Package api implements the adapter and operator HTTP surfaces (C10):
// chi routing, kin-openapi request validation on the adapter contract,
// and the handlers that wire incoming requests into the decision engine,
// approval lifecycle, and audit chain.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/getkin/kin-openapi/routers"

	"github.com/agentgate/gatekeeper/internal/apperrors"
	"github.com/agentgate/gatekeeper/pkg/approval"
	"github.com/agentgate/gatekeeper/pkg/audit"
	"github.com/agentgate/gatekeeper/pkg/decision"
	"github.com/agentgate/gatekeeper/pkg/notify"
	"github.com/agentgate/gatekeeper/pkg/store"
	"github.com/agentgate/gatekeeper/pkg/tokens"
)

type loggerKey struct{}

func loggerFromRequest(r *http.Request) logr.Logger {
	if log, ok := r.Context().Value(loggerKey{}).(logr.Logger); ok {
		return log
	}
	return logr.Discard()
}

func withLogger(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), loggerKey{}, log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Deps is everything the API handlers depend on, wired once at process
// start in cmd/gatekeeper.
type Deps struct {
	Store     store.Store
	Engine    *decision.Engine
	Approval  *approval.Lifecycle
	Audit     *audit.Chain
	Tokens    *tokens.Signer
	Notify    *notify.Notifier
	Runtime   *RuntimeConfig
	Log       logr.Logger
	OpsAPIKey string
}

// NewRouter builds the full chi router: adapter surface (OpenAPI-validated,
// adapter-token authenticated) and operator surface (ops-key authenticated).
func NewRouter(deps Deps) (http.Handler, error) {
	openAPIRouter, err := loadOpenAPIRouter()
	if err != nil {
		return nil, err
	}

	h := &handlers{deps: deps, openAPIRouter: openAPIRouter}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(withLogger(deps.Log))
	r.Use(withTracing)
	r.Use(withRequestLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type", "X-Adapter-Token", "X-Ops-Api-Key"},
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAdapterToken(deps.Tokens))
		r.Use(h.validateOpenAPI)
		r.Post("/adapters/register", h.registerAdapter)
		r.Post("/api/execution/request", h.requestDecision)
		r.Post("/api/governance/tool/authorize", h.authorizeTool)
		r.Post("/api/ingest/trace", h.ingestTrace)
		r.Post("/api/ingest/audit", h.ingestAudit)
		r.Get("/api/decisions/{execution_id}/latest", h.pollDecision)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireOpsAPIKey(deps.OpsAPIKey))
		r.Put("/ops/policies/{policy_id}", h.upsertPolicy)
		r.Get("/ops/policies/{policy_id}", h.getPolicy)
		r.Get("/ops/policies", h.listPolicies)
		r.Post("/ops/policies/{policy_id}/enabled", h.setPolicyEnabled)
		r.Delete("/ops/policies/{policy_id}", h.deletePolicy)
		r.Get("/ops/decisions", h.listDecisions)
		r.Post("/ops/decisions/{decision_id}/resolve", h.resolveDecision)
		r.Get("/ops/audit/{tenant_id}", h.listAuditEntries)
		r.Get("/ops/traces/{tenant_id}/{execution_id}", h.listTraces)
	})

	return r, nil
}

// validateOpenAPI runs kin-openapi request validation against the
// embedded adapter contract before a handler ever sees the request.
func (h *handlers) validateOpenAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := validateRequestBody(h.openAPIRouter, r); err != nil {
			writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeValidation, "request failed OpenAPI validation"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type handlers struct {
	deps          Deps
	openAPIRouter routers.Router
}
