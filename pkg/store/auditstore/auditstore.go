// Package auditstore implements pkg/audit.ChainStore over a dedicated
// pgx/pgxpool connection pool, serializing per-tenant chain appends with a
// Postgres advisory lock so concurrent writers cannot fork the hash chain.
// Grounded on the evidence-store append pattern (tenantLockID + a
// transaction-scoped pg_advisory_xact_lock) used elsewhere in the pack for
// exactly this problem.
package auditstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentgate/gatekeeper/pkg/audit"
	sharederrors "github.com/agentgate/gatekeeper/pkg/shared/errors"
)

var tracer = otel.Tracer("github.com/agentgate/gatekeeper/pkg/store/auditstore")

// Store is the pgx-backed ChainStore.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AppendLocked acquires a per-tenant transaction-scoped advisory lock,
// reads the current chain tail to determine (prevHash, nextSeq), invokes
// build to compute the new entry's hash, inserts it, and commits — all
// inside the lock, so no two appends for the same tenant can observe the
// same tail concurrently.
func (s *Store) AppendLocked(ctx context.Context, tenantID string, build func(prevHash string, seq int64) (audit.AppendedEntry, error)) (audit.AppendedEntry, error) {
	ctx, span := tracer.Start(ctx, "auditstore.AppendLocked", trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	entry, err := s.appendLocked(ctx, tenantID, build)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return entry, err
}

func (s *Store) appendLocked(ctx context.Context, tenantID string, build func(prevHash string, seq int64) (audit.AppendedEntry, error)) (audit.AppendedEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return audit.AppendedEntry{}, sharederrors.DatabaseError("begin audit append transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", tenantLockID(tenantID)); err != nil {
		return audit.AppendedEntry{}, sharederrors.DatabaseError("acquire tenant advisory lock", err)
	}

	prevHash, seq, err := chainTailTx(ctx, tx, tenantID)
	if err != nil {
		return audit.AppendedEntry{}, err
	}

	entry, err := build(prevHash, seq)
	if err != nil {
		return audit.AppendedEntry{}, err
	}

	eventData, err := json.Marshal(entry.EventData)
	if err != nil {
		return audit.AppendedEntry{}, sharederrors.ParseError("audit event data", "JSON", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_chain (
			tenant_id, seq, version, prev_event_hash, event_hash, event_type, event_data,
			workspace_id, execution_id, trace_id, user_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		entry.TenantID, entry.Seq, entry.Version, nullIfEmpty(entry.PrevEventHash), entry.EventHash,
		string(entry.EventType), eventData, nullIfEmpty(entry.WorkspaceID), nullIfEmpty(entry.ExecutionID),
		nullIfEmpty(entry.TraceID), nullIfEmpty(entry.UserID), entry.CreatedAt,
	)
	if err != nil {
		return audit.AppendedEntry{}, sharederrors.DatabaseError("insert audit chain entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return audit.AppendedEntry{}, sharederrors.DatabaseError("commit audit append transaction", err)
	}
	return entry, nil
}

func chainTailTx(ctx context.Context, tx pgx.Tx, tenantID string) (prevHash string, nextSeq int64, err error) {
	row := tx.QueryRow(ctx, `
		SELECT event_hash, seq FROM audit_chain
		WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1`, tenantID)

	var hash string
	var seq int64
	scanErr := row.Scan(&hash, &seq)
	if scanErr == pgx.ErrNoRows {
		return "", 1, nil
	}
	if scanErr != nil {
		return "", 0, sharederrors.DatabaseError("read audit chain tail", scanErr)
	}
	return hash, seq + 1, nil
}

// ChainEntries returns tenantID's full chain in seq order for VerifyChain.
func (s *Store) ChainEntries(ctx context.Context, tenantID string) ([]audit.AppendedEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, seq, version, prev_event_hash, event_hash, event_type, event_data,
		       workspace_id, execution_id, trace_id, user_id, created_at
		FROM audit_chain WHERE tenant_id = $1 ORDER BY seq ASC`, tenantID)
	if err != nil {
		return nil, sharederrors.DatabaseError("query audit chain entries", err)
	}
	defer rows.Close()

	var out []audit.AppendedEntry
	for rows.Next() {
		var e audit.AppendedEntry
		var eventType string
		var eventData []byte
		var workspaceID, executionID, traceID, userID *string
		var prevHash *string
		if err := rows.Scan(&e.TenantID, &e.Seq, &e.Version, &prevHash, &e.EventHash, &eventType, &eventData,
			&workspaceID, &executionID, &traceID, &userID, &e.CreatedAt); err != nil {
			return nil, sharederrors.DatabaseError("scan audit chain entry", err)
		}
		e.EventType = audit.EventType(eventType)
		if prevHash != nil {
			e.PrevEventHash = *prevHash
		}
		if workspaceID != nil {
			e.WorkspaceID = *workspaceID
		}
		if executionID != nil {
			e.ExecutionID = *executionID
		}
		if traceID != nil {
			e.TraceID = *traceID
		}
		if userID != nil {
			e.UserID = *userID
		}
		if len(eventData) > 0 {
			if err := json.Unmarshal(eventData, &e.EventData); err != nil {
				return nil, sharederrors.ParseError("audit event data", "JSON", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, sharederrors.DatabaseError("iterate audit chain entries", err)
	}
	return out, nil
}

// tenantLockID derives a deterministic pg_advisory_xact_lock key from a
// tenant ID so every writer for the same tenant contends on the same lock.
func tenantLockID(tenantID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(tenantID))
	b := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(b))
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
