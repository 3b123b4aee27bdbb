package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/agentgate/gatekeeper/pkg/policy"
)

func newTestStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestUpsertPolicy_ExecutesUpsert(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("INSERT INTO policies").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertPolicy(context.Background(), policy.Policy{
		TenantID: "t1",
		PolicyID: "p1",
		Subject:  policy.Subject{Type: policy.SubjectTool, Name: "kubectl"},
		Effect:   policy.Effect{Decision: policy.DecisionAllow},
	})
	if err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetPolicy_NotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery("SELECT (.+) FROM policies").WillReturnRows(sqlmock.NewRows(nil))

	_, found, err := s.GetPolicy(context.Background(), "t1", "missing")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if found {
		t.Error("expected found=false for an absent policy")
	}
}

func TestGetPolicy_Found(t *testing.T) {
	s, mock := newTestStore(t)
	cols := []string{"tenant_id", "policy_id", "workspace_id", "environment", "subject_type", "subject_name",
		"conditions", "decision", "explanation", "precedence", "enabled", "is_fallback", "updated_at"}
	rows := sqlmock.NewRows(cols).AddRow("t1", "p1", nil, nil, "tool", "kubectl", []byte("{}"), "allow", nil, 10, true, false, time.Now())
	mock.ExpectQuery("SELECT (.+) FROM policies").WillReturnRows(rows)

	p, found, err := s.GetPolicy(context.Background(), "t1", "p1")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if p.PolicyID != "p1" || p.Effect.Decision != policy.DecisionAllow {
		t.Errorf("unexpected policy: %+v", p)
	}
}

func TestSetPolicyEnabled_NoRowsIsError(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("UPDATE policies SET enabled").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetPolicyEnabled(context.Background(), "t1", "missing", false)
	if err == nil {
		t.Fatal("expected an error when no row matched the policy")
	}
}

func TestMarkDecisionTokenUsed_SingleUseCAS(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("UPDATE decisions SET decision_token_used_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE decisions SET decision_token_used_at").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := s.MarkDecisionTokenUsed(context.Background(), "d1", "jti-1")
	if err != nil {
		t.Fatalf("MarkDecisionTokenUsed (first): %v", err)
	}
	if !first {
		t.Fatal("expected the first compare-and-swap to succeed")
	}

	second, err := s.MarkDecisionTokenUsed(context.Background(), "d1", "jti-1")
	if err != nil {
		t.Fatalf("MarkDecisionTokenUsed (second): %v", err)
	}
	if second {
		t.Fatal("expected a repeated compare-and-swap to fail")
	}
}
