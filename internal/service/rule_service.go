package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lekhabook/be-workflow/internal/errors"
	"github.com/lekhabook/be-workflow/internal/repository"
)

// RuleStore is the full admin surface of the rule repository.
type RuleStore interface {
	RuleSource
	Create(ctx context.Context, rule *repository.BusinessRule) error
	GetByID(ctx context.Context, id string) (*repository.BusinessRule, error)
	List(ctx context.Context, entityType *repository.EntityType, activeOnly bool) ([]*repository.BusinessRule, error)
	Update(ctx context.Context, rule *repository.BusinessRule) error
	Delete(ctx context.Context, id string) error
}

// RuleService manages business rules. Condition trees are validated here,
// at save time, so the evaluator can assume well-formed input.
type RuleService struct {
	store RuleStore
	log   zerolog.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(store RuleStore, log zerolog.Logger) *RuleService {
	return &RuleService{store: store, log: log.With().Str("component", "rules").Logger()}
}

// CreateRuleRequest carries a new rule definition.
type CreateRuleRequest struct {
	Name         string                   `json:"name"`
	EntityType   repository.EntityType    `json:"entity_type"`
	RuleType     repository.RuleType      `json:"rule_type"`
	Condition    repository.ConditionNode `json:"condition"`
	Action       repository.RuleAction    `json:"action"`
	ActionParams map[string]any           `json:"action_params,omitempty"`
	Severity     repository.Severity      `json:"severity"`
	Priority     int                      `json:"priority"`
	IsActive     *bool                    `json:"is_active,omitempty"`
	CreatedBy    string                   `json:"created_by"`
}

// CreateRule validates and persists a new rule.
func (s *RuleService) CreateRule(ctx context.Context, req *CreateRuleRequest) (*repository.BusinessRule, error) {
	if req.Name == "" {
		return nil, errors.InvalidInput("name", "rule name is required")
	}
	if !req.EntityType.Valid() {
		return nil, errors.InvalidInput("entity_type", "entity type must be INVOICE or EXPENSE")
	}
	if err := validateRuleEnums(req.RuleType, req.Action, req.Severity); err != nil {
		return nil, err
	}
	if err := ValidateCondition(req.Condition); err != nil {
		return nil, err
	}

	rule := &repository.BusinessRule{
		Name:         req.Name,
		EntityType:   req.EntityType,
		RuleType:     req.RuleType,
		Condition:    req.Condition,
		Action:       req.Action,
		ActionParams: req.ActionParams,
		Severity:     req.Severity,
		Priority:     req.Priority,
		IsActive:     req.IsActive == nil || *req.IsActive,
		CreatedBy:    req.CreatedBy,
	}
	if err := s.store.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("rule_name", rule.Name).
		Str("entity_type", string(rule.EntityType)).
		Str("action", string(rule.Action)).
		Int("priority", rule.Priority).
		Msg("Workflow rule created")

	return rule, nil
}

// UpdateRuleRequest is a partial update; nil fields are left unchanged.
type UpdateRuleRequest struct {
	Name         *string                   `json:"name,omitempty"`
	Condition    *repository.ConditionNode `json:"condition,omitempty"`
	Action       *repository.RuleAction    `json:"action,omitempty"`
	ActionParams map[string]any            `json:"action_params,omitempty"`
	Severity     *repository.Severity      `json:"severity,omitempty"`
	Priority     *int                      `json:"priority,omitempty"`
	IsActive     *bool                     `json:"is_active,omitempty"`
}

// UpdateRule applies a partial update to an existing rule. An in-flight
// evaluation pass keeps the rule it loaded; the update takes effect on the
// next pass.
func (s *RuleService) UpdateRule(ctx context.Context, id string, req *UpdateRuleRequest) (*repository.BusinessRule, error) {
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, errors.InvalidInput("name", "rule name cannot be empty")
		}
		rule.Name = *req.Name
	}
	if req.Condition != nil {
		if err := ValidateCondition(*req.Condition); err != nil {
			return nil, err
		}
		rule.Condition = *req.Condition
	}
	if req.Action != nil {
		rule.Action = *req.Action
	}
	if req.ActionParams != nil {
		rule.ActionParams = req.ActionParams
	}
	if req.Severity != nil {
		rule.Severity = *req.Severity
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := validateRuleEnums(rule.RuleType, rule.Action, rule.Severity); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().Str("rule_id", rule.ID).Msg("Workflow rule updated")
	return rule, nil
}

// GetRule retrieves one rule.
func (s *RuleService) GetRule(ctx context.Context, id string) (*repository.BusinessRule, error) {
	return s.store.GetByID(ctx, id)
}

// ListRules lists rules, optionally filtered by entity type and active flag.
func (s *RuleService) ListRules(ctx context.Context, entityType *repository.EntityType, activeOnly bool) ([]*repository.BusinessRule, error) {
	return s.store.List(ctx, entityType, activeOnly)
}

// DeleteRule removes a rule.
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("rule_id", id).Msg("Workflow rule deleted")
	return nil
}

// TestRuleResult is the outcome of a dry run.
type TestRuleResult struct {
	RuleID  string `json:"rule_id"`
	Matched bool   `json:"matched"`
}

// TestRule runs the evaluator for one rule against a supplied sample
// snapshot. No side effects: nothing is audited and no notification intents
// are produced.
func (s *RuleService) TestRule(ctx context.Context, id string, snapshot map[string]any) (*TestRuleResult, error) {
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, errors.InvalidInput("snapshot", "sample snapshot is required")
	}

	return &TestRuleResult{
		RuleID:  rule.ID,
		Matched: EvaluateCondition(rule.Condition, snapshot),
	}, nil
}

func validateRuleEnums(ruleType repository.RuleType, action repository.RuleAction, severity repository.Severity) error {
	switch ruleType {
	case repository.RuleValidation, repository.RuleApproval:
	default:
		return errors.InvalidInput("rule_type", "rule type must be VALIDATION or APPROVAL")
	}
	switch action {
	case repository.ActionBlock, repository.ActionRequireApproval, repository.ActionWarn, repository.ActionNotify:
	default:
		return errors.InvalidInput("action", "unknown rule action")
	}
	switch severity {
	case repository.SeverityInfo, repository.SeverityWarning, repository.SeverityError:
	default:
		return errors.InvalidInput("severity", "unknown severity")
	}
	return nil
}
