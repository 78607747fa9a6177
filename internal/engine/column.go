package engine

import "tableview/internal/models"

// SemanticType is the value domain of a column.
type SemanticType string

const (
	TypeText    SemanticType = "text"
	TypeNumber  SemanticType = "number"
	TypeDate    SemanticType = "date"
	TypeBoolean SemanticType = "boolean"
	TypeBytes   SemanticType = "bytes"
)

// FilterKind selects how a filter value for the column is interpreted.
type FilterKind string

const (
	FilterText        FilterKind = "text"
	FilterNumber      FilterKind = "number"
	FilterSelect      FilterKind = "select"
	FilterMultiSelect FilterKind = "multi-select"
	FilterDate        FilterKind = "date"
	FilterNone        FilterKind = "none"
)

// Enumerated reports whether the kind filters by membership over cached options.
func (k FilterKind) Enumerated() bool {
	return k == FilterSelect || k == FilterMultiSelect
}

type Pin string

const (
	PinNone  Pin = ""
	PinLeft  Pin = "left"
	PinRight Pin = "right"
)

const (
	defaultMinWidth = 120
	bytesMinWidth   = 200

	// maxOptions is the cardinality above which an enumerated column
	// falls back to text filtering.
	maxOptions = 100
)

// Column describes one field of the table. A Column is never modified after it
// has been published in a snapshot; updates work on a clone.
type Column struct {
	Name       string
	Label      string
	Type       SemanticType
	Sortable   bool
	Filterable bool
	FilterKind FilterKind
	MinWidth   int
	Width      int
	Pinned     Pin
	Options    []string

	// epoch marks date columns stored as unix seconds.
	epoch bool
}

// NewColumn returns a sortable, filterable column with default display hints.
func NewColumn(name string, typ SemanticType, kind FilterKind) *Column {
	return &Column{
		Name:       name,
		Label:      name,
		Type:       typ,
		Sortable:   true,
		Filterable: true,
		FilterKind: kind,
		MinWidth:   defaultMinWidth,
	}
}

func (c *Column) clone() *Column {
	cp := *c
	if c.Options != nil {
		cp.Options = append([]string(nil), c.Options...)
	}
	return &cp
}

// Projection is the read-only view handed to clients.
func (c *Column) Projection() models.Column {
	out := models.Column{
		Name:       c.Name,
		Label:      c.Label,
		Type:       string(c.Type),
		Sortable:   c.Sortable,
		Filterable: c.Filterable,
		FilterKind: string(c.FilterKind),
		MinWidth:   c.MinWidth,
		Pinned:     string(c.Pinned),
	}
	if c.Width > 0 {
		w := c.Width
		out.Width = &w
	}
	if c.FilterKind.Enumerated() && c.Options != nil {
		out.Options = append([]string(nil), c.Options...)
	}
	return out
}
