package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/lekhabook/be-workflow/internal/database"
	"github.com/lekhabook/be-workflow/internal/errors"
)

// WorkflowRulesRepository handles CRUD for workflow_rules. It is the durable
// Rule Store the policy resolver reads through ActiveForEntityType.
type WorkflowRulesRepository struct {
	db *database.DB
}

// NewWorkflowRulesRepository creates a new WorkflowRulesRepository.
func NewWorkflowRulesRepository(db *database.DB) *WorkflowRulesRepository {
	return &WorkflowRulesRepository{db: db}
}

// Create inserts a new business rule.
func (r *WorkflowRulesRepository) Create(ctx context.Context, rule *BusinessRule) error {
	conditionJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule condition")
	}
	paramsJSON, err := marshalNullableMap(rule.ActionParams)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_rules
		    (name, entity_type, rule_type, condition,
		     action, action_params, severity, priority,
		     is_active, created_by)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8,
		        $9, $10)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		rule.Name,
		rule.EntityType,
		rule.RuleType,
		conditionJSON,
		rule.Action,
		paramsJSON,
		rule.Severity,
		rule.Priority,
		rule.IsActive,
		rule.CreatedBy,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// GetByID retrieves a rule by primary key.
func (r *WorkflowRulesRepository) GetByID(ctx context.Context, id string) (*BusinessRule, error) {
	query := `
		SELECT id, name, entity_type, rule_type, condition,
		       action, action_params, severity, priority,
		       is_active, created_by, created_at, updated_at
		FROM workflow_rules
		WHERE id = $1
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow_rule", id)
	}
	return rule, err
}

// List returns rules, optionally filtered by entity type and active flag,
// ordered the way the resolver evaluates them.
func (r *WorkflowRulesRepository) List(ctx context.Context, entityType *EntityType, activeOnly bool) ([]*BusinessRule, error) {
	query := `
		SELECT id, name, entity_type, rule_type, condition,
		       action, action_params, severity, priority,
		       is_active, created_by, created_at, updated_at
		FROM workflow_rules
		WHERE ($1::text IS NULL OR entity_type = $1)
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, id ASC"

	rows, err := r.db.Query(ctx, query, entityType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow rules")
	}
	defer rows.Close()

	var rules []*BusinessRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow rule")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ActiveForEntityType returns the active rules for one entity type in
// evaluation order (priority ascending, id as tiebreak).
func (r *WorkflowRulesRepository) ActiveForEntityType(ctx context.Context, entityType EntityType) ([]*BusinessRule, error) {
	return r.List(ctx, &entityType, true)
}

// Update persists changes to an existing rule.
func (r *WorkflowRulesRepository) Update(ctx context.Context, rule *BusinessRule) error {
	conditionJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule condition")
	}
	paramsJSON, err := marshalNullableMap(rule.ActionParams)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_rules
		SET name          = $2,
		    entity_type   = $3,
		    rule_type     = $4,
		    condition     = $5,
		    action        = $6,
		    action_params = $7,
		    severity      = $8,
		    priority      = $9,
		    is_active     = $10,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.EntityType,
		rule.RuleType,
		conditionJSON,
		rule.Action,
		paramsJSON,
		rule.Severity,
		rule.Priority,
		rule.IsActive,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("workflow_rule", rule.ID)
	}
	return err
}

// Delete removes a rule.
func (r *WorkflowRulesRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM workflow_rules WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete workflow rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("workflow_rule", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*BusinessRule, error) {
	rule := &BusinessRule{}
	var conditionJSON, paramsJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.EntityType,
		&rule.RuleType,
		&conditionJSON,
		&rule.Action,
		&paramsJSON,
		&rule.Severity,
		&rule.Priority,
		&rule.IsActive,
		&rule.CreatedBy,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(conditionJSON, &rule.Condition); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule condition")
	}
	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &rule.ActionParams); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal action params")
		}
	}
	return rule, nil
}

func marshalNullableMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal action params")
	}
	return data, nil
}
