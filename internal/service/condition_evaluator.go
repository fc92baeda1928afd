package service

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lekhabook/be-workflow/internal/repository"
)

// EvaluateCondition interprets a condition tree against a document snapshot.
// It is pure and deterministic: no I/O, no errors for normal operation.
//
// Field resolution is fail-closed: a path absent from the snapshot evaluates
// to false for every operator except isEmpty (true) and exists (false), so a
// malformed rule never accidentally matches everything. Unknown node kinds
// and operators are rejected at rule-save time by ValidateCondition; if one
// slips through anyway it evaluates to false.
func EvaluateCondition(node repository.ConditionNode, snapshot map[string]any) bool {
	switch node.Kind {
	case repository.NodeAnd:
		// Vacuously true on an empty child list.
		for _, child := range node.Children {
			if !EvaluateCondition(child, snapshot) {
				return false
			}
		}
		return true

	case repository.NodeOr:
		for _, child := range node.Children {
			if EvaluateCondition(child, snapshot) {
				return true
			}
		}
		return false

	case repository.NodeNot:
		if node.Child == nil {
			return false
		}
		return !EvaluateCondition(*node.Child, snapshot)

	case repository.NodeComparison:
		return evalComparison(node, snapshot)

	default:
		return false
	}
}

func evalComparison(node repository.ConditionNode, snapshot map[string]any) bool {
	value, ok := resolvePath(snapshot, node.Field)

	switch node.Op {
	case repository.OpExists:
		return ok
	case repository.OpIsEmpty:
		if !ok {
			return true
		}
		return isEmptyValue(value)
	}

	if !ok {
		return false
	}

	switch node.Op {
	case repository.OpEq:
		return valuesEqual(node.Field, value, node.Value)
	case repository.OpNeq:
		return !valuesEqual(node.Field, value, node.Value)
	case repository.OpGt, repository.OpLt, repository.OpGte, repository.OpLte:
		return compareNumeric(node.Op, value, node.Value)
	case repository.OpContains:
		return evalContains(node.Field, value, node.Value)
	case repository.OpIn:
		return evalIn(node.Field, value, node.Value)
	case repository.OpBetween:
		return evalBetween(value, node.Value)
	default:
		return false
	}
}

// categoricalFields are compared case-insensitively; everything else is
// case-sensitive.
var categoricalFields = map[string]bool{
	"status":     true,
	"category":   true,
	"entityType": true,
	"currency":   true,
}

func isCategorical(field string) bool {
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return categoricalFields[field]
}

// resolvePath walks a dotted path through nested maps and slices. Integer
// segments index into slices.
func resolvePath(snapshot map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = snapshot
	for _, seg := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// toDecimal coerces numeric-looking values to decimal for comparison.
// Amounts arrive as int64 paisa from snapshots and as float64 or string from
// JSON rule definitions.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case float64:
		return decimal.NewFromFloat(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(t)
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

func compareNumeric(op repository.CompareOp, fieldValue, ruleValue any) bool {
	left, ok := toDecimal(fieldValue)
	if !ok {
		return false
	}
	right, ok := toDecimal(ruleValue)
	if !ok {
		return false
	}

	cmp := left.Cmp(right)
	switch op {
	case repository.OpGt:
		return cmp > 0
	case repository.OpLt:
		return cmp < 0
	case repository.OpGte:
		return cmp >= 0
	case repository.OpLte:
		return cmp <= 0
	}
	return false
}

// valuesEqual compares a snapshot value with a rule value. Numbers compare
// numerically so 5000 equals 5000.0; strings follow the categorical-field
// case rule; booleans compare directly. Mismatched types are unequal.
func valuesEqual(field string, fieldValue, ruleValue any) bool {
	if l, ok := toDecimal(fieldValue); ok {
		if r, ok := toDecimal(ruleValue); ok {
			return l.Equal(r)
		}
		// A numeric string field against a non-numeric rule value falls
		// through to string comparison below.
	}

	lb, lok := fieldValue.(bool)
	rb, rok := ruleValue.(bool)
	if lok || rok {
		return lok && rok && lb == rb
	}

	ls, lok := fieldValue.(string)
	rs, rok := ruleValue.(string)
	if !lok || !rok {
		return false
	}
	if isCategorical(field) {
		return strings.EqualFold(ls, rs)
	}
	return ls == rs
}

func evalContains(field string, fieldValue, ruleValue any) bool {
	switch t := fieldValue.(type) {
	case string:
		needle, ok := ruleValue.(string)
		if !ok {
			return false
		}
		if isCategorical(field) {
			return strings.Contains(strings.ToLower(t), strings.ToLower(needle))
		}
		return strings.Contains(t, needle)
	case []any:
		for _, elem := range t {
			if valuesEqual(field, elem, ruleValue) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evalIn(field string, fieldValue, ruleValue any) bool {
	options, ok := ruleValue.([]any)
	if !ok {
		return false
	}
	for _, opt := range options {
		if valuesEqual(field, fieldValue, opt) {
			return true
		}
	}
	return false
}

// evalBetween checks lo <= value <= hi, inclusive on both bounds.
func evalBetween(fieldValue, ruleValue any) bool {
	bounds, ok := ruleValue.([]any)
	if !ok || len(bounds) != 2 {
		return false
	}
	v, ok := toDecimal(fieldValue)
	if !ok {
		return false
	}
	lo, ok := toDecimal(bounds[0])
	if !ok {
		return false
	}
	hi, ok := toDecimal(bounds[1])
	if !ok {
		return false
	}
	return v.Cmp(lo) >= 0 && v.Cmp(hi) <= 0
}
