package service

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lekhabook/be-workflow/internal/errors"
	"github.com/lekhabook/be-workflow/internal/repository"
)

type stubRuleSource struct {
	rules []*repository.BusinessRule
	err   error
}

func (s *stubRuleSource) ActiveForEntityType(_ context.Context, _ repository.EntityType) ([]*repository.BusinessRule, error) {
	return s.rules, s.err
}

func newRule(id string, priority int, action repository.RuleAction, cond repository.ConditionNode) *repository.BusinessRule {
	return &repository.BusinessRule{
		ID:         id,
		Name:       "rule-" + id,
		EntityType: repository.EntityInvoice,
		RuleType:   repository.RuleApproval,
		Condition:  cond,
		Action:     action,
		Severity:   repository.SeverityWarning,
		Priority:   priority,
		IsActive:   true,
	}
}

func newResolver(rules ...*repository.BusinessRule) *PolicyResolver {
	return NewPolicyResolver(&stubRuleSource{rules: rules}, nil, zerolog.Nop())
}

func alwaysMatch() repository.ConditionNode {
	return cmpNode("id", repository.OpExists, nil)
}

func neverMatch() repository.ConditionNode {
	return cmpNode("id", repository.OpEq, "no-such-id")
}

func TestEvaluateDocumentAggregation(t *testing.T) {
	resolver := newResolver(
		newRule("r1", 10, repository.ActionRequireApproval, cmpNode("amount", repository.OpGt, float64(500000))),
		newRule("r2", 20, repository.ActionWarn, alwaysMatch()),
		newRule("r3", 30, repository.ActionNotify, alwaysMatch()),
		newRule("r4", 40, repository.ActionBlock, neverMatch()),
	)

	decision, err := resolver.EvaluateDocument(context.Background(), repository.EntityInvoice, testSnapshot())
	if err != nil {
		t.Fatalf("EvaluateDocument() error = %v", err)
	}

	if len(decision.Outcomes) != 4 {
		t.Fatalf("outcomes = %d, want one per active rule", len(decision.Outcomes))
	}
	if decision.Blocked {
		t.Error("decision blocked with no matching BLOCK rule")
	}
	if !decision.RequiresApproval {
		t.Error("matched REQUIRE_APPROVAL rule did not set requiresApproval")
	}
	if len(decision.Warnings) != 1 || decision.Warnings[0].RuleID != "r2" {
		t.Errorf("warnings = %+v, want r2 only", decision.Warnings)
	}
	if len(decision.Notifications) != 1 || decision.Notifications[0].RuleID != "r3" {
		t.Errorf("notifications = %+v, want r3 only", decision.Notifications)
	}
	if decision.Outcomes[3].Matched {
		t.Error("non-matching rule reported as matched")
	}
}

func TestEvaluateDocumentBlockOverridesApproval(t *testing.T) {
	// The BLOCK rule runs last; its effect still dominates.
	resolver := newResolver(
		newRule("r1", 1, repository.ActionRequireApproval, alwaysMatch()),
		newRule("r2", 2, repository.ActionNotify, alwaysMatch()),
		newRule("r3", 3, repository.ActionBlock, alwaysMatch()),
	)

	decision, err := resolver.EvaluateDocument(context.Background(), repository.EntityInvoice, testSnapshot())
	if err != nil {
		t.Fatalf("EvaluateDocument() error = %v", err)
	}

	if !decision.Blocked {
		t.Error("matched BLOCK rule did not block")
	}
	if decision.RequiresApproval {
		t.Error("requiresApproval must be suppressed when blocked")
	}
	if len(decision.Outcomes) != 3 {
		t.Errorf("outcomes = %d; a BLOCK match must not skip later rules", len(decision.Outcomes))
	}
	// NOTIFY intents survive a block.
	if len(decision.Notifications) != 1 {
		t.Errorf("notifications = %d, want 1 despite block", len(decision.Notifications))
	}
	if violations := decision.Violations(); len(violations) != 1 || violations[0].RuleID != "r3" {
		t.Errorf("violations = %+v, want the BLOCK outcome", violations)
	}
}

func TestEvaluateDocumentOrderByPriorityThenID(t *testing.T) {
	resolver := newResolver(
		newRule("b", 10, repository.ActionWarn, alwaysMatch()),
		newRule("a", 10, repository.ActionWarn, alwaysMatch()),
		newRule("z", 5, repository.ActionWarn, alwaysMatch()),
	)

	decision, err := resolver.EvaluateDocument(context.Background(), repository.EntityInvoice, testSnapshot())
	if err != nil {
		t.Fatalf("EvaluateDocument() error = %v", err)
	}

	var ids []string
	for _, o := range decision.Outcomes {
		ids = append(ids, o.RuleID)
	}
	want := []string{"z", "a", "b"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("evaluation order = %v, want %v", ids, want)
	}
}

func TestEvaluateDocumentDeterministic(t *testing.T) {
	resolver := newResolver(
		newRule("r1", 1, repository.ActionRequireApproval, cmpNode("amount", repository.OpGt, float64(1))),
		newRule("r2", 2, repository.ActionWarn, cmpNode("currency", repository.OpEq, "npr")),
	)

	first, err := resolver.EvaluateDocument(context.Background(), repository.EntityInvoice, testSnapshot())
	if err != nil {
		t.Fatalf("EvaluateDocument() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := resolver.EvaluateDocument(context.Background(), repository.EntityInvoice, testSnapshot())
		if err != nil {
			t.Fatalf("EvaluateDocument() error = %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("pass %d differed from the first: %+v vs %+v", i, again, first)
		}
	}
}

func TestEvaluateDocumentSkipsInactiveAndForeignRules(t *testing.T) {
	inactive := newRule("r1", 1, repository.ActionBlock, alwaysMatch())
	inactive.IsActive = false
	foreign := newRule("r2", 2, repository.ActionBlock, alwaysMatch())
	foreign.EntityType = repository.EntityExpense

	resolver := newResolver(inactive, foreign, newRule("r3", 3, repository.ActionWarn, alwaysMatch()))

	decision, err := resolver.EvaluateDocument(context.Background(), repository.EntityInvoice, testSnapshot())
	if err != nil {
		t.Fatalf("EvaluateDocument() error = %v", err)
	}
	if len(decision.Outcomes) != 1 || decision.Outcomes[0].RuleID != "r3" {
		t.Errorf("outcomes = %+v, want only the active invoice rule", decision.Outcomes)
	}
	if decision.Blocked {
		t.Error("inactive or foreign BLOCK rules must not block")
	}
}

func TestEvaluateDocumentSnapshotShape(t *testing.T) {
	resolver := newResolver()

	tests := []struct {
		name     string
		snapshot map[string]any
	}{
		{"nil snapshot", nil},
		{"missing id", map[string]any{"entityType": "INVOICE", "amount": int64(1)}},
		{"missing entityType", map[string]any{"id": "x", "amount": int64(1)}},
		{"missing amount", map[string]any{"id": "x", "entityType": "INVOICE"}},
		{"nil amount", map[string]any{"id": "x", "entityType": "INVOICE", "amount": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.EvaluateDocument(context.Background(), repository.EntityInvoice, tt.snapshot)
			if !errors.IsCode(err, errors.ErrCodeBadSnapshot) {
				t.Errorf("error = %v, want BAD_SNAPSHOT", err)
			}
		})
	}
}

func TestEvaluateDocumentMessageFromActionParams(t *testing.T) {
	custom := newRule("r1", 1, repository.ActionWarn, alwaysMatch())
	custom.ActionParams = map[string]any{"message": "amount unusually high"}
	plain := newRule("r2", 2, repository.ActionWarn, alwaysMatch())

	resolver := newResolver(custom, plain)
	decision, err := resolver.EvaluateDocument(context.Background(), repository.EntityInvoice, testSnapshot())
	if err != nil {
		t.Fatalf("EvaluateDocument() error = %v", err)
	}

	if decision.Outcomes[0].Message != "amount unusually high" {
		t.Errorf("message = %q, want the configured action param", decision.Outcomes[0].Message)
	}
	if decision.Outcomes[1].Message == "" {
		t.Error("matched rule without params must still get a default message")
	}
}

func TestEvaluateDocumentRuleSourceError(t *testing.T) {
	resolver := NewPolicyResolver(&stubRuleSource{err: stderrors.New("connection refused")}, nil, zerolog.Nop())

	_, err := resolver.EvaluateDocument(context.Background(), repository.EntityInvoice, testSnapshot())
	if !errors.IsCode(err, errors.ErrCodeInternal) {
		t.Errorf("error = %v, want INTERNAL", err)
	}
}
