package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/lekhabook/be-workflow/internal/errors"
	"github.com/lekhabook/be-workflow/internal/metrics"
	"github.com/lekhabook/be-workflow/internal/repository"
)

// RuleSource is the read view of the Rule Store. Production wires the
// Postgres repository; tests substitute an in-memory fixture.
type RuleSource interface {
	ActiveForEntityType(ctx context.Context, entityType repository.EntityType) ([]*repository.BusinessRule, error)
}

// NotificationSink receives notification intents produced by rule
// evaluation. Delivery is best-effort and decoupled from the transaction
// boundary; implementations must never return control-flow errors into the
// engine.
type NotificationSink interface {
	PublishRuleOutcomes(ctx context.Context, entityType repository.EntityType, entityID, actorID string, outcomes []repository.RuleOutcome)
}

// snapshotRequiredFields are the structural fields a snapshot must carry
// before evaluation may proceed.
var snapshotRequiredFields = []string{"id", "entityType", "amount"}

// PolicyResolver runs the condition evaluator over all active rules for an
// entity type and aggregates a Decision.
type PolicyResolver struct {
	rules   RuleSource
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewPolicyResolver creates a new PolicyResolver.
func NewPolicyResolver(rules RuleSource, m *metrics.Metrics, log zerolog.Logger) *PolicyResolver {
	return &PolicyResolver{
		rules:   rules,
		metrics: m,
		log:     log.With().Str("component", "policy_resolver").Logger(),
	}
}

// EvaluateDocument evaluates every active rule for the entity type against
// the snapshot and aggregates the Decision. All rules are always evaluated;
// only the effect short-circuits (a BLOCK match suppresses requiresApproval
// but never skips later rules). A single broken rule degrades to "does not
// match" with a logged warning rather than failing the pass.
func (r *PolicyResolver) EvaluateDocument(ctx context.Context, entityType repository.EntityType, snapshot map[string]any) (*repository.Decision, error) {
	if err := requireSnapshotShape(snapshot); err != nil {
		return nil, err
	}

	rules, err := r.rules.ActiveForEntityType(ctx, entityType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load active rules")
	}

	// The store returns rules in evaluation order already; re-sort anyway so
	// the ordering contract holds for any RuleSource implementation.
	ordered := make([]*repository.BusinessRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive && rule.EntityType == entityType {
			ordered = append(ordered, rule)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	decision := &repository.Decision{Outcomes: make([]repository.RuleOutcome, 0, len(ordered))}
	for _, rule := range ordered {
		matched := r.evalRule(rule, snapshot)

		outcome := repository.RuleOutcome{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Matched:  matched,
			Action:   rule.Action,
			Severity: rule.Severity,
		}
		if matched {
			outcome.Message = outcomeMessage(rule)
			r.metrics.RuleMatch(string(entityType), string(rule.Action))

			switch rule.Action {
			case repository.ActionBlock:
				decision.Blocked = true
			case repository.ActionRequireApproval:
				decision.RequiresApproval = true
			case repository.ActionWarn:
				decision.Warnings = append(decision.Warnings, outcome)
			case repository.ActionNotify:
				// Collected independent of blocked/requiresApproval.
				decision.Notifications = append(decision.Notifications, outcome)
			}
		}
		decision.Outcomes = append(decision.Outcomes, outcome)
	}

	// A BLOCK anywhere overrides approval routing.
	if decision.Blocked {
		decision.RequiresApproval = false
	}

	r.metrics.Evaluation(string(entityType))
	r.log.Debug().
		Str("entity_type", string(entityType)).
		Int("rules_evaluated", len(decision.Outcomes)).
		Bool("blocked", decision.Blocked).
		Bool("requires_approval", decision.RequiresApproval).
		Msg("Evaluation pass complete")

	return decision, nil
}

// evalRule runs the evaluator for a single rule, recovering any panic into a
// non-match so one buggy rule never takes down the pass for the others.
func (r *PolicyResolver) evalRule(rule *repository.BusinessRule, snapshot map[string]any) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			matched = false
			r.log.Warn().
				Str("rule_id", rule.ID).
				Str("rule_name", rule.Name).
				Interface("panic", rec).
				Msg("Rule evaluation failed; treating as non-match")
		}
	}()
	return EvaluateCondition(rule.Condition, snapshot)
}

func outcomeMessage(rule *repository.BusinessRule) string {
	if rule.ActionParams != nil {
		if msg, ok := rule.ActionParams["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("rule %q matched", rule.Name)
}

// requireSnapshotShape verifies the structurally required fields. A missing
// field is fatal and aborts the calling operation before any state change.
func requireSnapshotShape(snapshot map[string]any) error {
	if snapshot == nil {
		return errors.BadSnapshot("(snapshot)")
	}
	for _, field := range snapshotRequiredFields {
		v, ok := snapshot[field]
		if !ok || v == nil {
			return errors.BadSnapshot(field)
		}
	}
	return nil
}
