package service

import (
	"fmt"

	"github.com/lekhabook/be-workflow/internal/errors"
	"github.com/lekhabook/be-workflow/internal/repository"
)

// maxConditionDepth bounds the condition tree so a pathological rule cannot
// blow the evaluator's stack. Real rules are two or three levels deep.
const maxConditionDepth = 32

// ValidateCondition checks a condition tree at rule-save time: known node
// kinds, whitelisted operators, value arity and shape. The evaluator assumes
// trees that passed this check, so malformed rules are rejected here
// synchronously instead of silently misbehaving at evaluation time. Trees
// are decoded from JSON and therefore always acyclic.
func ValidateCondition(node repository.ConditionNode) error {
	return validateNode(node, "condition", 0)
}

func validateNode(node repository.ConditionNode, path string, depth int) error {
	if depth > maxConditionDepth {
		return errors.InvalidInput(path, fmt.Sprintf("condition tree deeper than %d levels", maxConditionDepth))
	}

	switch node.Kind {
	case repository.NodeAnd, repository.NodeOr:
		if node.Field != "" || node.Op != "" || node.Value != nil || node.Child != nil {
			return errors.InvalidInput(path, fmt.Sprintf("%s node must carry only children", node.Kind))
		}
		for i, child := range node.Children {
			if err := validateNode(child, fmt.Sprintf("%s.children[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
		return nil

	case repository.NodeNot:
		if node.Child == nil {
			return errors.InvalidInput(path, "not node requires a child")
		}
		if len(node.Children) > 0 || node.Field != "" || node.Op != "" {
			return errors.InvalidInput(path, "not node must carry only a single child")
		}
		return validateNode(*node.Child, path+".child", depth+1)

	case repository.NodeComparison:
		return validateComparison(node, path)

	case "":
		return errors.InvalidInput(path, "condition node is missing its kind")
	default:
		return errors.InvalidInput(path, fmt.Sprintf("unknown condition node kind %q", node.Kind))
	}
}

func validateComparison(node repository.ConditionNode, path string) error {
	if node.Field == "" {
		return errors.InvalidInput(path, "comparison requires a field path")
	}
	if len(node.Children) > 0 || node.Child != nil {
		return errors.InvalidInput(path, "comparison node must not carry children")
	}

	switch node.Op {
	case repository.OpExists, repository.OpIsEmpty:
		if node.Value != nil {
			return errors.InvalidInput(path, fmt.Sprintf("%s operator takes no value", node.Op))
		}
	case repository.OpEq, repository.OpNeq, repository.OpContains:
		if node.Value == nil {
			return errors.InvalidInput(path, fmt.Sprintf("%s operator requires a value", node.Op))
		}
	case repository.OpGt, repository.OpLt, repository.OpGte, repository.OpLte:
		if _, ok := toDecimal(node.Value); !ok {
			return errors.InvalidInput(path, fmt.Sprintf("%s operator requires a numeric value", node.Op))
		}
	case repository.OpIn:
		options, ok := node.Value.([]any)
		if !ok || len(options) == 0 {
			return errors.InvalidInput(path, "in operator requires a non-empty list value")
		}
	case repository.OpBetween:
		bounds, ok := node.Value.([]any)
		if !ok || len(bounds) != 2 {
			return errors.InvalidInput(path, "between operator requires a two-element list value")
		}
		lo, lok := toDecimal(bounds[0])
		hi, hok := toDecimal(bounds[1])
		if !lok || !hok {
			return errors.InvalidInput(path, "between bounds must be numeric")
		}
		if lo.Cmp(hi) > 0 {
			return errors.InvalidInput(path, "between lower bound exceeds upper bound")
		}
	case "":
		return errors.InvalidInput(path, "comparison is missing its operator")
	default:
		return errors.InvalidInput(path, fmt.Sprintf("unknown operator %q", node.Op))
	}
	return nil
}
