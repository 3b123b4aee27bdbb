// Package tokens mints and verifies the gateway's two signed-artifact
// families: adapter tokens (bind an external runtime to
// tenant/workspace/adapter/capabilities) and decision tokens (single-use,
// bind a resolved approval to its granted scope). Both are HMAC-SHA256 JWTs
// via lestrrat-go/jwx/v3, per spec §4.8/§4.10/§6.
package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	sharederrors "github.com/agentgate/gatekeeper/pkg/shared/errors"
)

// DecisionTokenClaims is the decoded form of a decision token, per spec §6.
type DecisionTokenClaims struct {
	Typ            string
	TenantID       string
	WorkspaceID    string
	AdapterID      string
	ExecutionID    string
	DecisionID     string
	GrantedScopeID string
	JTI            string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// AdapterTokenClaims scopes an adapter's bearer token, per spec §4.10.
type AdapterTokenClaims struct {
	Typ          string
	TenantID     string
	WorkspaceID  string
	AdapterID    string
	Capabilities []string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Signer mints and verifies both token families using a single HMAC secret
// per family, as spec §6's config surface describes
// (adapter_token_secret, decision_token_secret + ttl_seconds).
type Signer struct {
	decisionSecret []byte
	adapterSecret  []byte
	decisionTTL    time.Duration
}

func NewSigner(decisionSecret, adapterSecret []byte, decisionTTL time.Duration) *Signer {
	return &Signer{decisionSecret: decisionSecret, adapterSecret: adapterSecret, decisionTTL: decisionTTL}
}

// MintDecisionToken signs a decision token binding the given claims, per
// spec §4.8. jti is generated fresh for every mint.
func (s *Signer) MintDecisionToken(ctx context.Context, tenantID, workspaceID, adapterID, executionID, decisionID, grantedScopeID string) (string, string, error) {
	jti := uuid.NewString()
	now := time.Now()
	token, err := jwt.NewBuilder().
		Claim("typ", "decision_token").
		Claim("tenant_id", tenantID).
		Claim("workspace_id", workspaceID).
		Claim("adapter_id", adapterID).
		Claim("execution_id", executionID).
		Claim("decision_id", decisionID).
		Claim("granted_scope_id", grantedScopeID).
		JwtID(jti).
		IssuedAt(now).
		Expiration(now.Add(s.decisionTTL)).
		Build()
	if err != nil {
		return "", "", sharederrors.FailedTo("mint decision token", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), s.decisionSecret))
	if err != nil {
		return "", "", sharederrors.FailedTo("sign decision token", err)
	}
	return string(signed), jti, nil
}

// VerifyDecisionToken validates signature and expiry and returns the
// decoded claims. Verification rejects any mismatch per spec §4.8.
func (s *Signer) VerifyDecisionToken(ctx context.Context, raw string) (DecisionTokenClaims, error) {
	token, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256(), s.decisionSecret))
	if err != nil {
		return DecisionTokenClaims{}, sharederrors.AuthenticationError(fmt.Sprintf("decision token: %v", err))
	}

	var typ string
	if err := token.Get("typ", &typ); err != nil || typ != "decision_token" {
		return DecisionTokenClaims{}, sharederrors.AuthenticationError("decision token: wrong typ claim")
	}

	claims := DecisionTokenClaims{Typ: "decision_token"}
	_ = claimString(token, "tenant_id", &claims.TenantID)
	_ = claimString(token, "workspace_id", &claims.WorkspaceID)
	_ = claimString(token, "adapter_id", &claims.AdapterID)
	_ = claimString(token, "execution_id", &claims.ExecutionID)
	_ = claimString(token, "decision_id", &claims.DecisionID)
	_ = claimString(token, "granted_scope_id", &claims.GrantedScopeID)
	claims.JTI, _ = token.JwtID()
	if iat, ok := token.IssuedAt(); ok {
		claims.IssuedAt = iat
	}
	if exp, ok := token.Expiration(); ok {
		claims.ExpiresAt = exp
	}
	return claims, nil
}

// MintAdapterToken signs an adapter bearer token scoped to capabilities.
func (s *Signer) MintAdapterToken(ctx context.Context, tenantID, workspaceID, adapterID string, capabilities []string, ttl time.Duration) (string, error) {
	now := time.Now()
	caps := make([]interface{}, len(capabilities))
	for i, c := range capabilities {
		caps[i] = c
	}
	token, err := jwt.NewBuilder().
		Claim("typ", "adapter_token").
		Claim("tenant_id", tenantID).
		Claim("workspace_id", workspaceID).
		Claim("adapter_id", adapterID).
		Claim("capabilities", caps).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", sharederrors.FailedTo("mint adapter token", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), s.adapterSecret))
	if err != nil {
		return "", sharederrors.FailedTo("sign adapter token", err)
	}
	return string(signed), nil
}

// VerifyAdapterToken validates signature and expiry, returning the decoded
// claims. Any failure is an authentication error — the HTTP layer maps
// this to a fail-closed deny per spec §4.10.
func (s *Signer) VerifyAdapterToken(ctx context.Context, raw string) (AdapterTokenClaims, error) {
	token, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256(), s.adapterSecret))
	if err != nil {
		return AdapterTokenClaims{}, sharederrors.AuthenticationError(fmt.Sprintf("adapter token: %v", err))
	}
	var typ string
	if err := token.Get("typ", &typ); err != nil || typ != "adapter_token" {
		return AdapterTokenClaims{}, sharederrors.AuthenticationError("adapter token: wrong typ claim")
	}

	claims := AdapterTokenClaims{Typ: "adapter_token"}
	_ = claimString(token, "tenant_id", &claims.TenantID)
	_ = claimString(token, "workspace_id", &claims.WorkspaceID)
	_ = claimString(token, "adapter_id", &claims.AdapterID)
	var rawCaps []interface{}
	if err := token.Get("capabilities", &rawCaps); err == nil {
		for _, item := range rawCaps {
			if s, ok := item.(string); ok {
				claims.Capabilities = append(claims.Capabilities, s)
			}
		}
	}
	if iat, ok := token.IssuedAt(); ok {
		claims.IssuedAt = iat
	}
	if exp, ok := token.Expiration(); ok {
		claims.ExpiresAt = exp
	}
	return claims, nil
}

func claimString(token jwt.Token, name string, dst *string) error {
	if err := token.Get(name, dst); err != nil {
		return fmt.Errorf("claim %s: %w", name, err)
	}
	return nil
}
