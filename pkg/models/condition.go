package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionOperator is the comparison applied by a branch condition.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "eq"
	OpNotEquals   ConditionOperator = "neq"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "gt"
	OpLessThan    ConditionOperator = "lt"
	OpExists      ConditionOperator = "exists"
)

// Condition compares a dotted field path resolved against the execution
// context ("contact.country", "trigger.source", "steps.<node_id>.status")
// with a literal value.
type Condition struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    any               `json:"value,omitempty"`
}

// Evaluate resolves the condition against the execution context. An
// unresolvable field is not an error: it evaluates to false so branch
// nodes fall through to their default edge.
func (c Condition) Evaluate(execCtx *ExecutionContext) (bool, error) {
	value, found := execCtx.Lookup(c.Field)

	switch c.Operator {
	case OpExists:
		return found, nil
	case OpEquals:
		return found && looseEqual(value, c.Value), nil
	case OpNotEquals:
		return found && !looseEqual(value, c.Value), nil
	case OpContains:
		return found && looseContains(value, c.Value), nil
	case OpGreaterThan, OpLessThan:
		if !found {
			return false, nil
		}

		left, leftOK := toFloat(value)
		right, rightOK := toFloat(c.Value)

		if !leftOK || !rightOK {
			return false, fmt.Errorf("cannot compare %T with %T numerically", value, c.Value)
		}

		if c.Operator == OpGreaterThan {
			return left > right, nil
		}

		return left < right, nil
	default:
		return false, fmt.Errorf("unsupported condition operator: %s", c.Operator)
	}
}

func looseEqual(left, right any) bool {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf
		}
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func looseContains(haystack, needle any) bool {
	needleStr := fmt.Sprintf("%v", needle)

	switch v := haystack.(type) {
	case string:
		return strings.Contains(v, needleStr)
	case []any:
		for _, item := range v {
			if looseEqual(item, needle) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if item == needleStr {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)

		return f, err == nil
	default:
		return 0, false
	}
}
