// Package sqlstore implements pkg/store.Store's CRUD and filtered-list
// operations over Postgres via jmoiron/sqlx and lib/pq, one row struct per
// entity on a single SQLStore, wrapped in a sony/gobreaker circuit breaker so a
// degraded database fails fast instead of hanging request goroutines
// (spec §5 — "the core performs no long-lived blocking per-request").
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/agentgate/gatekeeper/pkg/policy"
	"github.com/agentgate/gatekeeper/pkg/rbac"
	sharederrors "github.com/agentgate/gatekeeper/pkg/shared/errors"
	"github.com/agentgate/gatekeeper/pkg/store"
)

// SQLStore is the sqlx-backed implementation of the CRUD half of
// pkg/store.Store (everything except the audit chain, which lives in
// pkg/store/auditstore).
type SQLStore struct {
	db      *sqlx.DB
	breaker *gobreaker.CircuitBreaker
}

func New(db *sqlx.DB) *SQLStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sqlstore",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &SQLStore{db: db, breaker: breaker}
}

func (s *SQLStore) call(fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// policyRow mirrors the `policies` table layout of spec §6.
type policyRow struct {
	TenantID    string         `db:"tenant_id"`
	PolicyID    string         `db:"policy_id"`
	WorkspaceID sql.NullString `db:"workspace_id"`
	Environment sql.NullString `db:"environment"`
	SubjectType sql.NullString `db:"subject_type"`
	SubjectName sql.NullString `db:"subject_name"`
	Conditions  []byte         `db:"conditions"`
	Decision    string         `db:"decision"`
	Explanation sql.NullString `db:"explanation"`
	Precedence  int            `db:"precedence"`
	Enabled     bool           `db:"enabled"`
	IsFallback  bool           `db:"is_fallback"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (s *SQLStore) UpsertPolicy(ctx context.Context, p policy.Policy) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return sharederrors.ParseError("policy conditions", "JSON", err)
	}
	return s.call(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO policies (
				tenant_id, policy_id, workspace_id, environment, subject_type, subject_name,
				conditions, decision, explanation, precedence, enabled, is_fallback, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
			ON CONFLICT (tenant_id, policy_id) DO UPDATE SET
				workspace_id = EXCLUDED.workspace_id,
				environment = EXCLUDED.environment,
				subject_type = EXCLUDED.subject_type,
				subject_name = EXCLUDED.subject_name,
				conditions = EXCLUDED.conditions,
				decision = EXCLUDED.decision,
				explanation = EXCLUDED.explanation,
				precedence = EXCLUDED.precedence,
				enabled = EXCLUDED.enabled,
				is_fallback = EXCLUDED.is_fallback,
				updated_at = now()`,
			p.TenantID, p.PolicyID, nullableString(p.Scope.WorkspaceID), nullableString(p.Scope.Environment),
			nullableString(string(p.Subject.Type)), nullableString(p.Subject.Name),
			conditions, string(p.Effect.Decision), nullableString(p.Explanation),
			p.Precedence, p.Enabled, p.IsFallback,
		)
		if err != nil {
			return sharederrors.DatabaseError("upsert policy", err)
		}
		return nil
	})
}

func (s *SQLStore) GetPolicy(ctx context.Context, tenantID, policyID string) (policy.Policy, bool, error) {
	var row policyRow
	err := s.call(func() error {
		return s.db.GetContext(ctx, &row, `
			SELECT tenant_id, policy_id, workspace_id, environment, subject_type, subject_name,
			       conditions, decision, explanation, precedence, enabled, is_fallback, updated_at
			FROM policies WHERE tenant_id = $1 AND policy_id = $2`, tenantID, policyID)
	})
	if err == sql.ErrNoRows {
		return policy.Policy{}, false, nil
	}
	if err != nil {
		return policy.Policy{}, false, sharederrors.DatabaseError("get policy", err)
	}
	p, err := rowToPolicy(row)
	if err != nil {
		return policy.Policy{}, false, err
	}
	return p, true, nil
}

// ListPolicies implements the filtering semantics of spec §4.2: tenant must
// match; workspace_id/environment filters match rows where the column
// equals the filter or is null (global); ordering is
// precedence DESC, updated_at DESC.
func (s *SQLStore) ListPolicies(ctx context.Context, filter store.PolicyFilter) ([]policy.Policy, error) {
	query := `
		SELECT tenant_id, policy_id, workspace_id, environment, subject_type, subject_name,
		       conditions, decision, explanation, precedence, enabled, is_fallback, updated_at
		FROM policies
		WHERE tenant_id = $1
		  AND ($2 = '' OR workspace_id = $2 OR workspace_id IS NULL)
		  AND ($3 = '' OR environment = $3 OR environment IS NULL)`
	args := []interface{}{filter.TenantID, filter.WorkspaceID, filter.Environment}
	if filter.EnabledOnly {
		query += " AND enabled = true"
	}
	query += " ORDER BY precedence DESC, updated_at DESC"

	var rows []policyRow
	if err := s.call(func() error {
		return s.db.SelectContext(ctx, &rows, query, args...)
	}); err != nil {
		return nil, sharederrors.DatabaseError("list policies", err)
	}

	out := make([]policy.Policy, 0, len(rows))
	for _, row := range rows {
		p, err := rowToPolicy(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListEnabledPolicies satisfies policy.PolicyLister.
func (s *SQLStore) ListEnabledPolicies(ctx context.Context, tenantID, workspaceID, environment string) ([]policy.Policy, error) {
	return s.ListPolicies(ctx, store.PolicyFilter{
		TenantID:    tenantID,
		WorkspaceID: workspaceID,
		Environment: environment,
		EnabledOnly: true,
	})
}

func (s *SQLStore) SetPolicyEnabled(ctx context.Context, tenantID, policyID string, enabled bool) error {
	return s.call(func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE policies SET enabled = $1, updated_at = now() WHERE tenant_id = $2 AND policy_id = $3`, enabled, tenantID, policyID)
		if err != nil {
			return sharederrors.DatabaseError("set policy enabled", err)
		}
		return checkRowsAffected(res, "policy")
	})
}

func (s *SQLStore) DeletePolicy(ctx context.Context, tenantID, policyID string) error {
	return s.call(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE tenant_id = $1 AND policy_id = $2`, tenantID, policyID)
		if err != nil {
			return sharederrors.DatabaseError("delete policy", err)
		}
		return checkRowsAffected(res, "policy")
	})
}

func (s *SQLStore) UpsertAdapter(ctx context.Context, a store.AdapterRecord) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return sharederrors.ParseError("adapter capabilities", "JSON", err)
	}
	return s.call(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO adapter_registry (tenant_id, adapter_id, display_name, risk_class, capabilities, version, enabled, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7, now())
			ON CONFLICT (tenant_id, adapter_id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				risk_class = EXCLUDED.risk_class,
				capabilities = EXCLUDED.capabilities,
				version = EXCLUDED.version,
				enabled = EXCLUDED.enabled,
				updated_at = now()`,
			a.TenantID, a.AdapterID, a.DisplayName, a.RiskClass, caps, a.Version, a.Enabled,
		)
		if err != nil {
			return sharederrors.DatabaseError("upsert adapter", err)
		}
		return nil
	})
}

type adapterRow struct {
	TenantID     string    `db:"tenant_id"`
	AdapterID    string    `db:"adapter_id"`
	DisplayName  string    `db:"display_name"`
	RiskClass    string    `db:"risk_class"`
	Capabilities []byte    `db:"capabilities"`
	Version      string    `db:"version"`
	Enabled      bool      `db:"enabled"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (s *SQLStore) GetAdapter(ctx context.Context, tenantID, adapterID string) (store.AdapterRecord, bool, error) {
	var row adapterRow
	err := s.call(func() error {
		return s.db.GetContext(ctx, &row, `
			SELECT tenant_id, adapter_id, display_name, risk_class, capabilities, version, enabled, created_at, updated_at
			FROM adapter_registry WHERE tenant_id = $1 AND adapter_id = $2`, tenantID, adapterID)
	})
	if err == sql.ErrNoRows {
		return store.AdapterRecord{}, false, nil
	}
	if err != nil {
		return store.AdapterRecord{}, false, sharederrors.DatabaseError("get adapter", err)
	}
	var caps []string
	if err := json.Unmarshal(row.Capabilities, &caps); err != nil {
		return store.AdapterRecord{}, false, sharederrors.ParseError("adapter capabilities", "JSON", err)
	}
	return store.AdapterRecord{
		TenantID: row.TenantID, AdapterID: row.AdapterID, DisplayName: row.DisplayName,
		RiskClass: row.RiskClass, Capabilities: caps, Version: row.Version, Enabled: row.Enabled,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}, true, nil
}

// GetAdapterRole satisfies rbac.RoleSource. Per spec §9's flat,
// single-tenant RBAC (no separate roles table), an adapter's own
// registered capability allowlist from adapter_registry is its role.
func (s *SQLStore) GetAdapterRole(ctx context.Context, tenantID, adapterID string) (rbac.Role, error) {
	record, found, err := s.GetAdapter(ctx, tenantID, adapterID)
	if err != nil {
		return rbac.Role{}, err
	}
	if !found {
		return rbac.Role{}, sharederrors.AuthorizationError("look up role for", "adapter "+adapterID)
	}
	caps := make(map[string]bool, len(record.Capabilities))
	for _, c := range record.Capabilities {
		caps[c] = true
	}
	return rbac.Role{Name: adapterID, Capabilities: caps}, nil
}

func (s *SQLStore) CreateDecision(ctx context.Context, d store.DecisionRecord) error {
	snapshot, err := json.Marshal(d.RequestSnapshot)
	if err != nil {
		return sharederrors.ParseError("decision request snapshot", "JSON", err)
	}
	scope, err := json.Marshal(d.GrantedScope)
	if err != nil {
		return sharederrors.ParseError("decision granted scope", "JSON", err)
	}
	return s.call(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO decisions (
				decision_id, tenant_id, workspace_id, execution_id, adapter_id, status,
				request_snapshot, granted_scope, fingerprint, expires_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now(), now())`,
			d.DecisionID, d.TenantID, d.WorkspaceID, d.ExecutionID, d.AdapterID, string(d.Status),
			snapshot, scope, d.Fingerprint, d.ExpiresAt,
		)
		if err != nil {
			return sharederrors.DatabaseError("create decision", err)
		}
		return nil
	})
}

func (s *SQLStore) GetDecision(ctx context.Context, decisionID string) (store.DecisionRecord, bool, error) {
	return s.queryOneDecision(ctx, `SELECT * FROM decisions WHERE decision_id = $1`, decisionID)
}

func (s *SQLStore) GetLatestDecisionForExecution(ctx context.Context, tenantID, executionID string) (store.DecisionRecord, bool, error) {
	return s.queryOneDecision(ctx, `
		SELECT * FROM decisions WHERE tenant_id = $1 AND execution_id = $2
		ORDER BY created_at DESC LIMIT 1`, tenantID, executionID)
}

func (s *SQLStore) GetDecisionByFingerprint(ctx context.Context, tenantID, fingerprint string, newerThan time.Time) (store.DecisionRecord, bool, error) {
	return s.queryOneDecision(ctx, `
		SELECT * FROM decisions
		WHERE tenant_id = $1 AND fingerprint = $2 AND status = 'pending' AND created_at >= $3
		ORDER BY created_at DESC LIMIT 1`, tenantID, fingerprint, newerThan)
}

func (s *SQLStore) queryOneDecision(ctx context.Context, query string, args ...interface{}) (store.DecisionRecord, bool, error) {
	var row decisionRow
	err := s.call(func() error {
		return s.db.GetContext(ctx, &row, query, args...)
	})
	if err == sql.ErrNoRows {
		return store.DecisionRecord{}, false, nil
	}
	if err != nil {
		return store.DecisionRecord{}, false, sharederrors.DatabaseError("get decision", err)
	}
	d, err := rowToDecision(row)
	return d, true, err
}

type decisionRow struct {
	DecisionID          string         `db:"decision_id"`
	TenantID            string         `db:"tenant_id"`
	WorkspaceID         string         `db:"workspace_id"`
	ExecutionID         string         `db:"execution_id"`
	AdapterID           string         `db:"adapter_id"`
	Status              string         `db:"status"`
	RequestSnapshot     []byte         `db:"request_snapshot"`
	GrantedScope        []byte         `db:"granted_scope"`
	Resolution          []byte         `db:"resolution"`
	DecisionToken       sql.NullString `db:"decision_token"`
	DecisionTokenJTI    sql.NullString `db:"decision_token_jti"`
	DecisionTokenUsedAt sql.NullTime   `db:"decision_token_used_at"`
	Fingerprint         sql.NullString `db:"fingerprint"`
	ExpiresAt           sql.NullTime   `db:"expires_at"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func rowToDecision(row decisionRow) (store.DecisionRecord, error) {
	var snapshot, scope, resolution map[string]interface{}
	if len(row.RequestSnapshot) > 0 {
		if err := json.Unmarshal(row.RequestSnapshot, &snapshot); err != nil {
			return store.DecisionRecord{}, sharederrors.ParseError("decision request snapshot", "JSON", err)
		}
	}
	if len(row.GrantedScope) > 0 {
		if err := json.Unmarshal(row.GrantedScope, &scope); err != nil {
			return store.DecisionRecord{}, sharederrors.ParseError("decision granted scope", "JSON", err)
		}
	}
	if len(row.Resolution) > 0 {
		if err := json.Unmarshal(row.Resolution, &resolution); err != nil {
			return store.DecisionRecord{}, sharederrors.ParseError("decision resolution", "JSON", err)
		}
	}
	d := store.DecisionRecord{
		DecisionID: row.DecisionID, TenantID: row.TenantID, WorkspaceID: row.WorkspaceID,
		ExecutionID: row.ExecutionID, AdapterID: row.AdapterID, Status: store.DecisionStatus(row.Status),
		RequestSnapshot: snapshot, GrantedScope: scope, Resolution: resolution,
		DecisionToken: row.DecisionToken.String, DecisionTokenJTI: row.DecisionTokenJTI.String,
		Fingerprint: row.Fingerprint.String, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	if row.DecisionTokenUsedAt.Valid {
		d.DecisionTokenUsedAt = &row.DecisionTokenUsedAt.Time
	}
	if row.ExpiresAt.Valid {
		d.ExpiresAt = &row.ExpiresAt.Time
	}
	return d, nil
}

// TransitionDecisionStatus is the compare-and-set status transition of
// spec §4.2/§5: UPDATE ... WHERE status = $from, checked via affected-row count.
func (s *SQLStore) TransitionDecisionStatus(ctx context.Context, decisionID string, from, to store.DecisionStatus) (bool, error) {
	var ok bool
	err := s.call(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE decisions SET status = $1, updated_at = now()
			WHERE decision_id = $2 AND status = $3`, string(to), decisionID, string(from))
		if err != nil {
			return sharederrors.DatabaseError("transition decision status", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return sharederrors.DatabaseError("transition decision status: rows affected", err)
		}
		ok = n == 1
		return nil
	})
	return ok, err
}

func (s *SQLStore) SetDecisionToken(ctx context.Context, decisionID, token, jti string) error {
	return s.call(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE decisions SET decision_token = $1, decision_token_jti = $2, updated_at = now()
			WHERE decision_id = $3`, token, jti, decisionID)
		if err != nil {
			return sharederrors.DatabaseError("set decision token", err)
		}
		return nil
	})
}

// MarkDecisionTokenUsed is the single compare-and-swap of spec §4.8: it
// succeeds once (decision_token_used_at IS NULL -> now()) and thereafter
// returns false.
func (s *SQLStore) MarkDecisionTokenUsed(ctx context.Context, decisionID, jti string) (bool, error) {
	var ok bool
	err := s.call(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE decisions SET decision_token_used_at = now()
			WHERE decision_id = $1 AND decision_token_jti = $2 AND decision_token_used_at IS NULL`, decisionID, jti)
		if err != nil {
			return sharederrors.DatabaseError("mark decision token used", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return sharederrors.DatabaseError("mark decision token used: rows affected", err)
		}
		ok = n == 1
		return nil
	})
	return ok, err
}

func (s *SQLStore) InsertToolAuthorization(ctx context.Context, a store.ToolAuthorizationRecord) error {
	return s.call(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tool_authorizations (execution_id, tool, sequence, decision, policy_id, created_at)
			VALUES ($1,$2,$3,$4,$5, now())`,
			a.ExecutionID, a.Tool, a.Sequence, a.Decision, a.PolicyID,
		)
		if err != nil {
			return sharederrors.DatabaseError("insert tool authorization", err)
		}
		return nil
	})
}

func (s *SQLStore) GetRemainingBudget(ctx context.Context, tenantID string) (float64, bool, error) {
	var remaining sql.NullFloat64
	err := s.call(func() error {
		return s.db.GetContext(ctx, &remaining, `SELECT remaining FROM tenant_budgets WHERE tenant_id = $1`, tenantID)
	})
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, sharederrors.DatabaseError("get remaining budget", err)
	}
	return remaining.Float64, remaining.Valid, nil
}

// ListDecisions backs the operator surface's pending/resolved decision
// listings of spec §6.
func (s *SQLStore) ListDecisions(ctx context.Context, filter store.DecisionFilter) ([]store.DecisionRecord, error) {
	query := `SELECT * FROM decisions WHERE tenant_id = $1`
	args := []interface{}{filter.TenantID}
	if filter.Status != "" {
		query += " AND status = $2"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"

	var rows []decisionRow
	if err := s.call(func() error {
		return s.db.SelectContext(ctx, &rows, query, args...)
	}); err != nil {
		return nil, sharederrors.DatabaseError("list decisions", err)
	}
	out := make([]store.DecisionRecord, 0, len(rows))
	for _, row := range rows {
		d, err := rowToDecision(row)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

type traceRow struct {
	TraceID     string    `db:"trace_id"`
	TenantID    string    `db:"tenant_id"`
	ExecutionID string    `db:"execution_id"`
	Integrity   string    `db:"integrity"`
	Steps       []byte    `db:"steps"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// InsertTrace persists a fully-ingested trace (steps already hash-stamped
// by audit.IngestTrace), idempotent on trace_id.
func (s *SQLStore) InsertTrace(ctx context.Context, t store.TraceRecord) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return sharederrors.ParseError("trace steps", "JSON", err)
	}
	return s.call(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO traces (trace_id, tenant_id, execution_id, integrity, steps, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5, now(), now())
			ON CONFLICT (trace_id) DO UPDATE SET
				integrity = EXCLUDED.integrity,
				steps = EXCLUDED.steps,
				updated_at = now()`,
			t.TraceID, t.TenantID, t.ExecutionID, t.Integrity, steps,
		)
		if err != nil {
			return sharederrors.DatabaseError("insert trace", err)
		}
		return nil
	})
}

func (s *SQLStore) ListTraces(ctx context.Context, tenantID, executionID string) ([]store.TraceRecord, error) {
	var rows []traceRow
	if err := s.call(func() error {
		return s.db.SelectContext(ctx, &rows, `
			SELECT trace_id, tenant_id, execution_id, integrity, steps, created_at, updated_at
			FROM traces WHERE tenant_id = $1 AND execution_id = $2 ORDER BY created_at DESC`, tenantID, executionID)
	}); err != nil {
		return nil, sharederrors.DatabaseError("list traces", err)
	}
	out := make([]store.TraceRecord, 0, len(rows))
	for _, row := range rows {
		var steps []map[string]interface{}
		if len(row.Steps) > 0 {
			if err := json.Unmarshal(row.Steps, &steps); err != nil {
				return nil, sharederrors.ParseError("trace steps", "JSON", err)
			}
		}
		out = append(out, store.TraceRecord{
			TraceID: row.TraceID, TenantID: row.TenantID, ExecutionID: row.ExecutionID,
			Integrity: row.Integrity, Steps: steps, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
		})
	}
	return out, nil
}

func rowToPolicy(row policyRow) (policy.Policy, error) {
	var conditions map[string]interface{}
	if len(row.Conditions) > 0 {
		if err := json.Unmarshal(row.Conditions, &conditions); err != nil {
			return policy.Policy{}, sharederrors.ParseError("policy conditions", "JSON", err)
		}
	}
	return policy.Policy{
		TenantID: row.TenantID,
		PolicyID: row.PolicyID,
		Scope: policy.Scope{
			TenantID:    row.TenantID,
			WorkspaceID: row.WorkspaceID.String,
			Environment: row.Environment.String,
		},
		Subject: policy.Subject{
			Type: policy.SubjectType(row.SubjectType.String),
			Name: row.SubjectName.String,
		},
		Conditions:  conditions,
		Effect:      policy.Effect{Decision: policy.Decision(row.Decision)},
		Explanation: row.Explanation.String,
		Precedence:  row.Precedence,
		Enabled:     row.Enabled,
		IsFallback:  row.IsFallback,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func checkRowsAffected(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return sharederrors.DatabaseError(fmt.Sprintf("check rows affected for %s", resource), err)
	}
	if n == 0 {
		return sharederrors.FailedTo(fmt.Sprintf("find %s to update", resource), sql.ErrNoRows)
	}
	return nil
}
