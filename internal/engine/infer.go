package engine

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

const hexSampleSize = 10

var (
	hexPairsRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}\s*)+$`)

	bytesNameTokens = []string{"bytes", "hex", "payload", "binary", "data", "remark"}
	idLikeTokens    = []string{"id", "no", "code", "uuid", "guid", "number"}
)

// Infer derives columns for fields from a batch of records. Records lacking a
// field contribute a null. The result follows the order of fields.
func Infer(records []Record, fields []string) []*Column {
	cols := make([]*Column, 0, len(fields))
	for _, name := range fields {
		values := make([]any, len(records))
		for i, rec := range records {
			values[i] = normalize(rec.Values[name])
		}
		cols = append(cols, inferColumn(name, values))
	}
	return cols
}

// InferRows is Infer over stored rows.
func InferRows(rows []Row, fields []string) []*Column {
	cols := make([]*Column, 0, len(fields))
	for _, name := range fields {
		values := make([]any, len(rows))
		for i, row := range rows {
			values[i] = row[name]
		}
		cols = append(cols, inferColumn(name, values))
	}
	return cols
}

func inferColumn(name string, values []any) *Column {
	nonNull := make([]any, 0, len(values))
	for _, v := range values {
		if !isNull(v) {
			nonNull = append(nonNull, v)
		}
	}

	if name == "id" {
		col := NewColumn(name, TypeNumber, FilterNumber)
		col.Pinned = PinLeft
		return col
	}

	if isDateName(name) || allOf(nonNull, isTime) {
		col := NewColumn(name, TypeDate, FilterDate)
		col.epoch = len(nonNull) > 0 && allOf(nonNull, isNumeric)
		return col
	}

	if allOf(nonNull, isNumeric) {
		return NewColumn(name, TypeNumber, FilterNumber)
	}

	lower := strings.ToLower(name)
	if containsAny(lower, bytesNameTokens) || (len(nonNull) > 0 && isBytes(nonNull[0])) {
		return bytesColumn(name)
	}

	if looksHex(nonNull) {
		return bytesColumn(name)
	}

	if containsAny(lower, idLikeTokens) {
		return NewColumn(name, TypeText, FilterText)
	}

	if allOf(nonNull, isBool) {
		col := NewColumn(name, TypeBoolean, FilterMultiSelect)
		col.Options = distinctOptions(nonNull)
		return col
	}

	options := distinctOptions(nonNull)
	if len(options) <= maxOptions {
		col := NewColumn(name, TypeText, FilterMultiSelect)
		col.Options = options
		return col
	}
	return NewColumn(name, TypeText, FilterText)
}

func bytesColumn(name string) *Column {
	col := NewColumn(name, TypeBytes, FilterText)
	col.MinWidth = bytesMinWidth
	return col
}

// isDateName matches a "ts" token or any token containing date or time, with
// tokens split on punctuation and camelCase boundaries.
func isDateName(name string) bool {
	for _, tok := range nameTokens(name) {
		if tok == "ts" || strings.Contains(tok, "date") || strings.Contains(tok, "time") {
			return true
		}
	}
	return false
}

func nameTokens(name string) []string {
	var (
		tokens []string
		cur    []rune
		prev   rune
	)
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for _, r := range name {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && prev != 0 && unicode.IsLower(prev):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return tokens
}

func looksHex(nonNull []any) bool {
	sample := nonNull
	if len(sample) > hexSampleSize {
		sample = sample[:hexSampleSize]
	}
	if len(sample) == 0 {
		return false
	}
	for _, v := range sample {
		s, ok := v.(string)
		if !ok || s == "" {
			return false
		}
		if hexPairsRe.MatchString(strings.ReplaceAll(s, " ", "")) {
			continue
		}
		if len(s) > 20 && len(s)%2 == 0 && strings.Trim(s, "0123456789abcdefABCDEF ") == "" {
			continue
		}
		return false
	}
	return true
}

// distinctOptions returns the sorted distinct rendered values, stopping early
// once the cardinality limit is exceeded.
func distinctOptions(values []any) []string {
	seen := make(map[string]struct{})
	for _, v := range values {
		seen[renderString(v)] = struct{}{}
		if len(seen) > maxOptions {
			break
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func allOf(values []any, pred func(any) bool) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func isTime(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isBytes(v any) bool {
	_, ok := v.([]byte)
	return ok
}
