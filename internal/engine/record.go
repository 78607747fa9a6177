package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
)

// Record is one untyped input row. Keys keeps the field order the producer
// used; it drives column order when new fields are discovered.
type Record struct {
	Keys   []string
	Values map[string]any
}

// R builds a record from alternating key/value arguments.
func R(kv ...any) Record {
	rec := Record{Values: make(map[string]any, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return rec
}

// RecordFromMap converts a plain map. Go maps have no order, so keys are sorted.
func RecordFromMap(m map[string]any) Record {
	rec := Record{Keys: make([]string, 0, len(m)), Values: make(map[string]any, len(m))}
	for k, v := range m {
		rec.Keys = append(rec.Keys, k)
		rec.Values[k] = v
	}
	sort.Strings(rec.Keys)
	return rec
}

func (r *Record) Set(key string, value any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	if _, ok := r.Values[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = value
}

func (r Record) Get(key string) (any, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// UnmarshalJSON decodes a JSON object keeping key order. Numbers are kept as
// json.Number so integers survive without float rounding.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record must be a JSON object")
	}
	*r = Record{Values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in record", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("record field %q: %w", key, err)
		}
		r.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON writes the record as an object in key order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := gojson.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := gojson.Marshal(r.Values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// numberLike covers json.Number and compatible decoder number types.
type numberLike interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// normalize maps decoded or caller-supplied values onto the small set of
// representations the engine stores.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int64, float64, string, bool, []byte, time.Time:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return uintValue(x)
	case float32:
		return float64(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case numberLike:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := x.Int64(); err == nil {
				return i
			}
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return s
	default:
		return x
	}
}

func uintValue(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return float64(u)
}

// toNumber returns the numeric value of v for comparisons.
func toNumber(v any) (number, bool) {
	switch x := v.(type) {
	case int64:
		return number{i: x, f: float64(x), isInt: true}, true
	case float64:
		if math.IsNaN(x) {
			return number{}, false
		}
		return number{f: x}, true
	}
	return number{}, false
}

type number struct {
	i     int64
	f     float64
	isInt bool
}

func (a number) compare(b number) int {
	if a.isInt && b.isInt {
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	}
	switch {
	case a.f < b.f:
		return -1
	case a.f > b.f:
		return 1
	}
	return 0
}

// parseNumber interprets a filter value: numbers, numeric strings and 0x hex.
func parseNumber(v any) (number, bool) {
	switch x := normalize(v).(type) {
	case int64, float64:
		return toNumber(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return number{}, false
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			if i, err := strconv.ParseInt(s[2:], 16, 64); err == nil {
				return number{i: i, f: float64(i), isInt: true}, true
			}
			if u, err := strconv.ParseUint(s[2:], 16, 64); err == nil {
				return number{f: float64(u)}, true
			}
			return number{}, false
		}
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return number{i: i, f: float64(i), isInt: true}, true
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return number{}, false
		}
		return number{f: f}, true
	}
	return number{}, false
}

// rowID extracts an id value as int64.
func rowID(v any) (int64, bool) {
	n, ok := parseNumber(v)
	if !ok {
		return 0, false
	}
	if n.isInt {
		return n.i, true
	}
	if n.f == math.Trunc(n.f) && math.Abs(n.f) < 1<<63 {
		return int64(n.f), true
	}
	return 0, false
}
