package engine

import (
	"sort"
	"strings"
)

// Condition is one parsed per-field filter. The concrete types form a closed
// set decided once when the filter map is parsed.
type Condition interface {
	match(v any) bool
}

// Operator is a numeric comparison.
type Operator string

const (
	OpEq Operator = "="
	OpGt Operator = ">"
	OpLt Operator = "<"
	OpGe Operator = ">="
	OpLe Operator = "<="
)

func (op Operator) valid() bool {
	switch op {
	case OpEq, OpGt, OpLt, OpGe, OpLe:
		return true
	}
	return false
}

type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

type NumberCondition struct {
	Op    Operator
	Value number
}

func (c NumberCondition) match(v any) bool {
	n, ok := toNumber(v)
	if !ok {
		return false
	}
	cmp := n.compare(c.Value)
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpGt:
		return cmp > 0
	case OpLt:
		return cmp < 0
	case OpGe:
		return cmp >= 0
	case OpLe:
		return cmp <= 0
	}
	return false
}

// NumberGroup folds its conditions left to right with Logic.
type NumberGroup struct {
	Conditions []NumberCondition
	Logic      Logic
}

func (g NumberGroup) match(v any) bool {
	result := g.Conditions[0].match(v)
	for _, c := range g.Conditions[1:] {
		if g.Logic == LogicOr {
			result = result || c.match(v)
		} else {
			result = result && c.match(v)
		}
	}
	return result
}

// Membership accepts rows whose value is one of Accepted. Values are compared
// by their rendered form, which equals typed comparison for same-typed values
// and is the fallback for mismatched ones.
type Membership struct {
	Accepted map[string]struct{}
}

func (m Membership) match(v any) bool {
	if isNull(v) {
		return false
	}
	_, ok := m.Accepted[renderString(v)]
	return ok
}

// TextNeedle is a case-insensitive substring match.
type TextNeedle struct {
	Needle string // lower-cased
}

func (t TextNeedle) match(v any) bool {
	if isNull(v) {
		return false
	}
	return strings.Contains(strings.ToLower(renderString(v)), t.Needle)
}

// DateMatch matches timestamps by substring of their rendered form and plain
// date strings by equality.
type DateMatch struct {
	Needle string
}

func (d DateMatch) match(v any) bool {
	if isNull(v) {
		return false
	}
	if s, ok := renderDate(v); ok {
		return strings.Contains(strings.ToLower(s), strings.ToLower(d.Needle))
	}
	return renderString(v) == d.Needle
}

// FieldFilter binds a condition to a column.
type FieldFilter struct {
	Field     string
	Condition Condition
}

// Filter is a parsed filter map; fields combine with AND.
type Filter struct {
	Fields  []FieldFilter
	Skipped []string
}

// Empty reports whether the filter selects every row.
func (f *Filter) Empty() bool {
	return f == nil || len(f.Fields) == 0
}

// ParseFilter turns a decoded filter map into conditions using the
// column kinds. Unknown, non-filterable and malformed entries are skipped and
// listed in Skipped; parsing never fails.
func ParseFilter(raw map[string]any, columns []*Column) *Filter {
	f := &Filter{}
	if len(raw) == 0 {
		return f
	}
	byName := make(map[string]*Column, len(columns))
	for _, c := range columns {
		byName[c.Name] = c
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		col, ok := byName[name]
		if !ok || !col.Filterable {
			f.Skipped = append(f.Skipped, name)
			continue
		}
		cond := parseCondition(col, raw[name])
		if cond == nil {
			f.Skipped = append(f.Skipped, name)
			continue
		}
		f.Fields = append(f.Fields, FieldFilter{Field: name, Condition: cond})
	}
	return f
}

func parseCondition(col *Column, raw any) Condition {
	if raw == nil {
		return nil
	}
	switch col.FilterKind {
	case FilterNumber:
		return parseNumberFilter(raw)
	case FilterText:
		s, ok := scalarText(raw)
		if !ok {
			return nil
		}
		return TextNeedle{Needle: strings.ToLower(s)}
	case FilterDate:
		s, ok := scalarText(raw)
		if !ok {
			return nil
		}
		return DateMatch{Needle: s}
	case FilterSelect, FilterMultiSelect:
		return parseMembership(raw)
	}
	return nil
}

// scalarText accepts a non-empty string or a scalar rendered as one.
func scalarText(raw any) (string, bool) {
	switch x := normalize(raw).(type) {
	case string:
		return x, x != ""
	case int64, float64, bool:
		return renderString(x), true
	}
	return "", false
}

func parseNumberFilter(raw any) Condition {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	var (
		items []any
		logic = LogicAnd
	)
	if list, ok := obj["filters"]; ok {
		items, ok = list.([]any)
		if !ok {
			return nil
		}
		if l, ok := obj["logic"].(string); ok && strings.EqualFold(l, string(LogicOr)) {
			logic = LogicOr
		}
	} else if _, hasOp := obj["operator"]; hasOp {
		items = []any{obj}
	} else if _, hasVal := obj["value"]; hasVal {
		items = []any{obj}
	} else {
		return nil
	}

	group := NumberGroup{Logic: logic}
	for _, item := range items {
		if c, ok := parseNumberCondition(item); ok {
			group.Conditions = append(group.Conditions, c)
		}
	}
	switch len(group.Conditions) {
	case 0:
		return nil
	case 1:
		return group.Conditions[0]
	}
	return group
}

func parseNumberCondition(raw any) (NumberCondition, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return NumberCondition{}, false
	}
	op, _ := obj["operator"].(string)
	if !Operator(op).valid() {
		return NumberCondition{}, false
	}
	n, ok := parseNumber(obj["value"])
	if !ok {
		return NumberCondition{}, false
	}
	return NumberCondition{Op: Operator(op), Value: n}, true
}

func parseMembership(raw any) Condition {
	var list []any
	switch x := raw.(type) {
	case []any:
		list = x
	case []string:
		for _, s := range x {
			list = append(list, s)
		}
	case string:
		if x == "" {
			return nil
		}
		list = []any{x}
	case map[string]any:
		return nil
	default:
		list = []any{x}
	}
	m := Membership{Accepted: make(map[string]struct{}, len(list))}
	for _, v := range list {
		v = normalize(v)
		if isNull(v) {
			continue
		}
		m.Accepted[renderString(v)] = struct{}{}
	}
	if len(m.Accepted) == 0 {
		return nil
	}
	return m
}
