package engine

import (
	"sort"
	"sync"
)

// Row is one stored record; values are normalized and the map is never
// modified after the row is published.
type Row map[string]any

// RowStore is an immutable snapshot of the table: rows in insertion order and
// the column list in display order.
//
// Appends reuse spare capacity of the rows slice. That is safe because a
// snapshot never reads beyond its own length and only the engine's single
// writer writes beyond it.
type RowStore struct {
	rows    []Row
	columns []*Column
	fields  map[string]struct{}
	byName  map[string]*Column

	formatsOnce sync.Once
	// floats holds number fields with at least one float64 value.
	floats map[string]struct{}
}

func newRowStore(rows []Row, columns []*Column, fields map[string]struct{}) *RowStore {
	byName := make(map[string]*Column, len(columns))
	for _, c := range columns {
		byName[c.Name] = c
	}
	return &RowStore{rows: rows, columns: columns, fields: fields, byName: byName}
}

func (s *RowStore) Len() int { return len(s.rows) }

func (s *RowStore) Columns() []*Column { return s.columns }

func (s *RowStore) Column(name string) (*Column, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// Rows exposes the snapshot rows. Callers must not modify them.
func (s *RowStore) Rows() []Row { return s.rows }

// validate enforces the bijection between column names and store fields, and
// that every row in rows only carries known fields.
func (s *RowStore) validate(rows []Row) error {
	if len(s.columns) == 0 {
		return schemaError("schema has no columns")
	}
	if len(s.columns) != len(s.fields) {
		return schemaError("schema has %d columns but store has fields %v", len(s.columns), s.fieldNames())
	}
	seen := make(map[string]struct{}, len(s.columns))
	for _, c := range s.columns {
		if _, dup := seen[c.Name]; dup {
			return schemaError("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if _, ok := s.fields[c.Name]; !ok {
			return schemaError("column %q has no field in the row store", c.Name)
		}
	}
	for i, row := range rows {
		for k := range row {
			if _, ok := s.fields[k]; !ok {
				return schemaError("row %d has field %q missing from the schema", i, k)
			}
		}
	}
	return nil
}

// fieldNames returns the store fields sorted, for messages.
func (s *RowStore) fieldNames() []string {
	out := make([]string, 0, len(s.fields))
	for k := range s.fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// numberFormat is "int" when every stored value of the field is an integer,
// else "float". The store is scanned once per snapshot.
func (s *RowStore) numberFormat(field string) string {
	s.formatsOnce.Do(func() {
		var numeric []string
		for _, c := range s.columns {
			if c.Type == TypeNumber {
				numeric = append(numeric, c.Name)
			}
		}
		s.floats = make(map[string]struct{})
		for _, row := range s.rows {
			if len(s.floats) == len(numeric) {
				break
			}
			for _, name := range numeric {
				if _, ok := row[name].(float64); ok {
					s.floats[name] = struct{}{}
				}
			}
		}
	})
	if _, ok := s.floats[field]; ok {
		return "float"
	}
	return "int"
}
