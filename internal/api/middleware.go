package api

import (
	"context"
	"net/http"

	"github.com/agentgate/gatekeeper/internal/apperrors"
	"github.com/agentgate/gatekeeper/pkg/tokens"
)

type ctxKey string

const adapterClaimsKey ctxKey = "adapter_claims"

// adapterClaimsFromContext recovers the verified adapter token claims a
// handler runs under.
func adapterClaimsFromContext(ctx context.Context) (tokens.AdapterTokenClaims, bool) {
	claims, ok := ctx.Value(adapterClaimsKey).(tokens.AdapterTokenClaims)
	return claims, ok
}

// requireAdapterToken verifies X-Adapter-Token on every adapter-surface
// request. Per spec §4.10's fail-closed rule, any verification failure is
// an authentication error, never a pass-through.
func requireAdapterToken(signer *tokens.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-Adapter-Token")
			if raw == "" {
				writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeAuth, "missing X-Adapter-Token"))
				return
			}
			claims, err := signer.VerifyAdapterToken(r.Context(), raw)
			if err != nil {
				writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeAuth, "invalid adapter token"))
				return
			}
			ctx := context.WithValue(r.Context(), adapterClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireOpsAPIKey gates the operator surface behind X-Ops-Api-Key when one
// is configured; an empty configured key disables the check entirely
// (local/dev use), per spec §6.
func requireOpsAPIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Ops-Api-Key") != apiKey {
				writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeAuth, "invalid or missing X-Ops-Api-Key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
