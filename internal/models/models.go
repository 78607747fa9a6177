package models

// Row is one output row with wire-encoded values.
type Row map[string]any

// Column is the client projection of a column definition.
type Column struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Type       string   `json:"type"`
	Sortable   bool     `json:"sortable"`
	Filterable bool     `json:"filterable"`
	FilterKind string   `json:"filterType"`
	MinWidth   int      `json:"minWidth"`
	Width      *int     `json:"width,omitempty"`
	Pinned     string   `json:"fixed,omitempty"`
	Options    []string `json:"options,omitempty"`
}

type ListResult struct {
	Rows     []Row `json:"rows"`
	Total    int   `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	// Failed marks an empty page produced by a recovered internal failure,
	// as opposed to a filter that matched nothing.
	Failed bool `json:"failed,omitempty"`
}

type RowPosition struct {
	Found    bool `json:"found"`
	Position int  `json:"position"`
}

type DetailItem struct {
	Label  string `json:"label"`
	Value  any    `json:"value"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
}

type AddResult struct {
	AddedCount       int      `json:"addedCount"`
	StructureUpdated bool     `json:"structureUpdated"`
	OptionsUpdated   bool     `json:"optionsUpdated"`
	AddedColumns     []string `json:"addedColumns,omitempty"`
}

type ReplaceResult struct {
	StructureUpdated bool `json:"structureUpdated"`
	OptionsUpdated   bool `json:"optionsUpdated"`
	TotalCount       int  `json:"totalCount"`
}

type Statistics struct {
	TotalRows         int      `json:"totalRows"`
	TotalColumns      int      `json:"totalColumns"`
	FilterableColumns int      `json:"filterableColumns"`
	SortableColumns   int      `json:"sortableColumns"`
	ColumnLabels      []string `json:"columnLabels"`
	Truncated         bool     `json:"truncated"`
}

// --- REQUESTS ---

type ListRequest struct {
	Page      int            `json:"page"`
	PageSize  int            `json:"pageSize"`
	Filters   map[string]any `json:"filters"`
	SortBy    string         `json:"sortBy"`
	SortOrder string         `json:"sortOrder"`
}

type RowPositionRequest struct {
	RowID     any            `json:"rowId"`
	Filters   map[string]any `json:"filters"`
	SortBy    string         `json:"sortBy"`
	SortOrder string         `json:"sortOrder"`
}

type RowDetailRequest struct {
	RowID any            `json:"rowId"`
	Row   map[string]any `json:"row"`
}

// ID returns the requested row id, accepting either rowId or row.id.
func (r RowDetailRequest) ID() any {
	if r.RowID != nil {
		return r.RowID
	}
	if r.Row != nil {
		return r.Row["id"]
	}
	return nil
}

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
