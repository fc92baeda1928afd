package repository

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/lekhabook/be-workflow/internal/database"
	"github.com/lekhabook/be-workflow/internal/errors"
)

// AuditLogRepository appends and reads immutable workflow audit entries.
// Append is the only write; entries are never updated or deleted (the table
// carries a delete-prevention trigger). Sequence is assigned at insert time
// per (entity_type, entity_id), with a unique index guaranteeing no two
// entries share a slot.
type AuditLogRepository struct {
	db *database.DB
}

// NewAuditLogRepository creates a new AuditLogRepository.
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// querier is satisfied by both *database.DB and pgx.Tx, so audit inserts can
// join a document transition's transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Append inserts one audit entry, assigning the next per-entity sequence.
func (r *AuditLogRepository) Append(ctx context.Context, entry *AuditLogEntry) error {
	return insertAuditEntry(ctx, r.db, entry)
}

// insertAuditEntry writes an entry through q, which may be a transaction.
// Shared with WorkflowDocumentRepository.ApplyTransition.
func insertAuditEntry(ctx context.Context, q querier, entry *AuditLogEntry) error {
	var decisionJSON []byte
	if entry.DecisionSnapshot != nil {
		var err error
		decisionJSON, err = json.Marshal(entry.DecisionSnapshot)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal decision snapshot")
		}
	}

	query := `
		INSERT INTO workflow_audit_log
		    (entity_type, entity_id, actor_id, action,
		     before_state, after_state, reason, decision_snapshot,
		     sequence)
		SELECT $1, $2, $3, $4,
		       $5, $6, $7, $8,
		       COALESCE(MAX(sequence), 0) + 1
		FROM workflow_audit_log
		WHERE entity_type = $1 AND entity_id = $2
		RETURNING id, sequence, created_at
	`

	return q.QueryRow(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.ActorID,
		entry.Action,
		entry.BeforeState,
		entry.AfterState,
		entry.Reason,
		decisionJSON,
	).Scan(&entry.ID, &entry.Sequence, &entry.Timestamp)
}

// HistoryFor returns the full trail for one entity ordered by sequence.
func (r *AuditLogRepository) HistoryFor(ctx context.Context, entityType EntityType, entityID string) ([]*AuditLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, actor_id, action,
		       before_state, after_state, reason, decision_snapshot,
		       sequence, created_at
		FROM workflow_audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY sequence ASC
	`

	rows, err := r.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit history")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// List returns entries matching the filter, newest first.
func (r *AuditLogRepository) List(ctx context.Context, filter AuditFilter) ([]*AuditLogEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, actor_id, action,
		       before_state, after_state, reason, decision_snapshot,
		       sequence, created_at
		FROM workflow_audit_log
		WHERE ($1::text IS NULL OR entity_type = $1)
		  AND ($2::text IS NULL OR entity_id = $2)
		  AND ($3::text IS NULL OR actor_id = $3)
		  AND ($4::text IS NULL OR action = $4)
		  AND ($5::timestamptz IS NULL OR created_at >= $5)
		  AND ($6::timestamptz IS NULL OR created_at < $6)
		ORDER BY created_at DESC, sequence DESC
	`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT " + strconv.Itoa(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(filter.Offset)
	}

	rows, err := r.db.Query(ctx, query,
		filter.EntityType, filter.EntityID, filter.ActorID, filter.Action,
		filter.From, filter.To)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanAuditRows(rows pgx.Rows) ([]*AuditLogEntry, error) {
	var entries []*AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAuditEntry(sc rowScanner) (*AuditLogEntry, error) {
	entry := &AuditLogEntry{}
	var decisionJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.EntityType,
		&entry.EntityID,
		&entry.ActorID,
		&entry.Action,
		&entry.BeforeState,
		&entry.AfterState,
		&entry.Reason,
		&decisionJSON,
		&entry.Sequence,
		&entry.Timestamp,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if decisionJSON != nil {
		entry.DecisionSnapshot = &Decision{}
		if err := json.Unmarshal(decisionJSON, entry.DecisionSnapshot); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal decision snapshot")
		}
	}
	return entry, nil
}
