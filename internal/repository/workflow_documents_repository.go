package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/lekhabook/be-workflow/internal/database"
	"github.com/lekhabook/be-workflow/internal/errors"
)

// WorkflowDocumentRepository persists the workflow-visible projection of
// invoices and expenses. The transition path is the engine's single atomic
// unit: a compare-and-swap on (id, version) plus the audit append happen in
// one transaction, so a losing concurrent writer gets a conflict instead of
// silently overwriting a decision.
type WorkflowDocumentRepository struct {
	db *database.DB
}

// NewWorkflowDocumentRepository creates a new WorkflowDocumentRepository.
func NewWorkflowDocumentRepository(db *database.DB) *WorkflowDocumentRepository {
	return &WorkflowDocumentRepository{db: db}
}

// Create inserts a document projection in DRAFT at version 1. Used when the
// owning application registers a document with the workflow engine.
func (r *WorkflowDocumentRepository) Create(ctx context.Context, doc *WorkflowDocument) error {
	linesJSON, err := json.Marshal(doc.LineItems)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal line items")
	}

	if doc.Status == "" {
		doc.Status = StateDraft
	}

	query := `
		INSERT INTO workflow_documents
		    (id, entity_type, status, version,
		     amount, currency, counterparty_id, created_by, line_items)
		VALUES ($1, $2, $3, 1,
		        $4, $5, $6, $7, $8)
		RETURNING version, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		doc.ID,
		doc.EntityType,
		doc.Status,
		doc.Amount,
		doc.Currency,
		doc.CounterpartyID,
		doc.CreatedBy,
		linesJSON,
	).Scan(&doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
}

// GetDocument retrieves one document projection.
func (r *WorkflowDocumentRepository) GetDocument(ctx context.Context, entityType EntityType, id string) (*WorkflowDocument, error) {
	query := `
		SELECT id, entity_type, status, version,
		       amount, currency, counterparty_id, submitted_by, created_by,
		       line_items, created_at, updated_at
		FROM workflow_documents
		WHERE entity_type = $1 AND id = $2
	`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, entityType, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound(string(entityType), id)
	}
	return doc, err
}

// ApplyTransition commits one guarded state change and its audit entry
// atomically. The UPDATE is conditioned on the expected version; zero rows
// means either the document vanished or a concurrent writer won, and the
// caller receives NotFound or Conflict accordingly.
func (r *WorkflowDocumentRepository) ApplyTransition(ctx context.Context, rec *TransitionRecord) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE workflow_documents
			SET status       = $4,
			    version      = version + 1,
			    submitted_by = CASE WHEN $5::bool THEN $6 ELSE submitted_by END,
			    updated_at   = NOW()
			WHERE entity_type = $1 AND id = $2 AND version = $3
			RETURNING version
		`

		setSubmitter := rec.SetSubmittedBy != nil
		var submitter *string
		if setSubmitter {
			if *rec.SetSubmittedBy == "" {
				submitter = nil // reversion clears the submitter
			} else {
				submitter = rec.SetSubmittedBy
			}
		}

		var newVersion int64
		err := tx.QueryRow(ctx, query,
			rec.EntityType,
			rec.EntityID,
			rec.ExpectedVersion,
			rec.ToState,
			setSubmitter,
			submitter,
		).Scan(&newVersion)

		if err == pgx.ErrNoRows {
			return r.classifyMiss(ctx, tx, rec)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply transition")
		}

		if err := insertAuditEntry(ctx, tx, &rec.Entry); err != nil {
			return err
		}
		return nil
	})
}

// classifyMiss distinguishes a missing document from a version conflict.
func (r *WorkflowDocumentRepository) classifyMiss(ctx context.Context, tx pgx.Tx, rec *TransitionRecord) error {
	var current int64
	err := tx.QueryRow(ctx,
		`SELECT version FROM workflow_documents WHERE entity_type = $1 AND id = $2`,
		rec.EntityType, rec.EntityID,
	).Scan(&current)
	if err == pgx.ErrNoRows {
		return errors.NotFound(string(rec.EntityType), rec.EntityID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check document version")
	}
	return errors.Conflict("document was modified concurrently; reload and retry").
		WithDetail("expected_version", rec.ExpectedVersion).
		WithDetail("current_version", current)
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanDocument(row rowScanner) (*WorkflowDocument, error) {
	doc := &WorkflowDocument{}
	var linesJSON []byte

	err := row.Scan(
		&doc.ID,
		&doc.EntityType,
		&doc.Status,
		&doc.Version,
		&doc.Amount,
		&doc.Currency,
		&doc.CounterpartyID,
		&doc.SubmittedBy,
		&doc.CreatedBy,
		&linesJSON,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if linesJSON != nil {
		if err := json.Unmarshal(linesJSON, &doc.LineItems); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal line items")
		}
	}
	return doc, nil
}
