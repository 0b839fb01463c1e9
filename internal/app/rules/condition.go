// Package rules evaluates store conversion rules and folds their actions
// into a commission outcome.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sifan077/PowerTrack/internal/app/model"
)

// Payload is the view of a conversion that rules are evaluated against.
type Payload struct {
	OrderValue     float64
	Currency       string
	StoreID        string
	Categories     []string
	Metadata       map[string]any
	Commission     float64
	CommissionRate float64
}

// PayloadFrom builds a payload from a conversion event.
func PayloadFrom(conv *model.ConversionEvent) Payload {
	return Payload{
		OrderValue:     conv.OrderValue,
		Currency:       conv.Currency,
		StoreID:        conv.StoreID,
		Categories:     conv.Categories(),
		Metadata:       conv.Metadata,
		Commission:     conv.Commission,
		CommissionRate: conv.CommissionRate,
	}
}

func (p Payload) field(name string) (any, bool) {
	switch name {
	case model.FieldOrderValue:
		return p.OrderValue, true
	case model.FieldStoreID:
		return p.StoreID, true
	case model.FieldCurrency:
		return p.Currency, true
	}
	v, ok := p.Metadata[strings.TrimPrefix(name, "metadata.")]
	return v, ok
}

// Evaluate folds conditions left to right. The running result starts true and
// each condition is joined with the logical operator of the condition before
// it (AND when unset), so a condition's own operator describes how the next
// condition joins. Every condition is evaluated; there is no short-circuit.
//
// For example [A (OR), B (AND), C] evaluates as ((true AND A) OR B) AND C.
func Evaluate(conditions []model.RuleCondition, p Payload) bool {
	result := true
	join := model.LogicalAnd
	for _, c := range conditions {
		matched := evaluateCondition(c, p)
		if strings.EqualFold(string(join), string(model.LogicalOr)) {
			result = result || matched
		} else {
			result = result && matched
		}

		join = c.LogicalOperator
		if join == "" {
			join = model.LogicalAnd
		}
	}
	return result
}

func evaluateCondition(c model.RuleCondition, p Payload) bool {
	if c.Field == model.FieldProductCategory {
		return evaluateCategories(c, p.Categories)
	}
	actual, _ := p.field(c.Field)
	return compare(c.Operator, actual, c.Value)
}

// evaluateCategories matches when any product category satisfies a positive
// operator, and when every category satisfies a negative one.
func evaluateCategories(c model.RuleCondition, categories []string) bool {
	negative := c.Operator == model.OpNotEquals || c.Operator == model.OpNotIn
	if len(categories) == 0 {
		return compare(c.Operator, nil, c.Value)
	}
	for _, category := range categories {
		ok := compare(c.Operator, category, c.Value)
		if negative && !ok {
			return false
		}
		if !negative && ok {
			return true
		}
	}
	return negative
}

func compare(op model.Operator, actual, expected any) bool {
	switch op {
	case model.OpEquals:
		return valuesEqual(actual, expected)
	case model.OpNotEquals:
		return !valuesEqual(actual, expected)
	case model.OpGreaterThan:
		a, okA := toFloat(actual)
		e, okE := toFloat(expected)
		return okA && okE && a > e
	case model.OpLessThan:
		a, okA := toFloat(actual)
		e, okE := toFloat(expected)
		return okA && okE && a < e
	case model.OpContains:
		return contains(actual, expected)
	case model.OpIn:
		list, ok := expected.([]any)
		return ok && inList(actual, list)
	case model.OpNotIn:
		list, ok := expected.([]any)
		return ok && !inList(actual, list)
	default:
		return false
	}
}

func contains(actual, expected any) bool {
	switch a := actual.(type) {
	case string:
		s, ok := expected.(string)
		return ok && strings.Contains(a, s)
	case []any:
		return inList(expected, a)
	case []string:
		for _, v := range a {
			if valuesEqual(v, expected) {
				return true
			}
		}
	}
	return false
}

func inList(v any, list []any) bool {
	for _, item := range list {
		if valuesEqual(v, item) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// toFloat accepts JSON numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
