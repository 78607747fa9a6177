package engine

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

// HexString renders bytes as upper-case hex pairs separated by single spaces.
func HexString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3-1)
	for i, c := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, digits[c>>4], digits[c&0x0f])
	}
	return string(out)
}

// ParseHex is the inverse of HexString; spaces and dashes are ignored.
func ParseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)
	return hex.DecodeString(s)
}

// FormatTimestamp renders unix seconds in local time with microseconds.
func FormatTimestamp(ts float64) string {
	sec := math.Floor(ts)
	usec := int64((ts - sec) * 1e6)
	return time.Unix(int64(sec), usec*int64(time.Microsecond)).Format(timestampLayout)
}

func formatTime(t time.Time) string {
	return t.Local().Format(timestampLayout)
}

// parseTimestamp accepts the layouts the table renders and plain unix seconds.
func parseTimestamp(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	// fractional seconds are accepted after the seconds field without a layout entry
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return float64(t.UnixMicro()) / 1e6, true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f, true
	}
	return 0, false
}

func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	}
	return false
}

// renderString is the canonical string form used by text and membership
// matching and by option caches.
func renderString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return HexString(x)
	case time.Time:
		return formatTime(x)
	default:
		return fmt.Sprint(x)
	}
}

// renderDate renders a date value for substring matching and output.
// ok is false for values stored as plain strings.
func renderDate(v any) (string, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return "", false
		}
		return FormatTimestamp(x), true
	case int64:
		return FormatTimestamp(float64(x)), true
	case time.Time:
		return formatTime(x), true
	}
	return "", false
}

// outputValue applies the wire encoding for a stored value.
func outputValue(col *Column, v any) any {
	switch x := v.(type) {
	case []byte:
		return HexString(x)
	case time.Time:
		return formatTime(x)
	case float64:
		if math.IsNaN(x) {
			return nil
		}
	}
	if col != nil && col.Type == TypeDate {
		if s, ok := renderDate(v); ok {
			return s
		}
	}
	return v
}

// typeRank orders values of different kinds so sorting mixed columns is total.
func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case int64, float64:
		return 1
	case time.Time:
		return 2
	case string:
		return 3
	case []byte:
		return 4
	}
	return 5
}

// compareValues orders two non-null values.
func compareValues(a, b any) int {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na.compare(nb)
		}
	}
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case time.Time:
		return x.Compare(b.(time.Time))
	case string:
		return strings.Compare(x, b.(string))
	case []byte:
		return bytes.Compare(x, b.([]byte))
	}
	return strings.Compare(renderString(a), renderString(b))
}
