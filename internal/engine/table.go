package engine

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"tableview/internal/metrics"
	"tableview/internal/models"
)

const (
	idField = "id"

	statisticsLabels = 5
)

// Options tunes a Table.
type Options struct {
	Logger *zap.Logger
	// Workers bounds the filter scan pool; 0 means one per CPU, 1 disables it.
	Workers           int
	ParallelThreshold int
}

// Query is the filter, sort and page selection shared by read operations.
type Query struct {
	Filters   map[string]any
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// DefaultPageSize is used when a query asks for a page size below one.
const DefaultPageSize = 100

func (q Query) window() (page, size int) {
	page, size = q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	return page, size
}

func (q Query) direction() SortDirection {
	switch strings.ToLower(q.SortOrder) {
	case "descending", "desc":
		return Descending
	}
	return Ascending
}

// Table is the engine: it owns the current snapshot and serializes every state
// transition on mu. Reads capture the snapshot under mu and work unlocked.
type Table struct {
	mu        sync.Mutex
	snap      *RowStore
	highWater int64
	// lastOptionsLen is the row count at the last option refresh.
	lastOptionsLen int

	evaluator *Evaluator
	pool      *ants.Pool
	log       *zap.Logger
}

// New builds a table from an initial batch. columns, when given, fix the shape
// of the listed fields; any other field found in records is inferred. A table
// always carries an id column.
func New(records []Record, columns []*Column, opts Options) (*Table, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	fields := fieldOrder(records)
	if len(columns) == 0 && len(fields) == 0 {
		return nil, schemaError("table needs at least one record or column")
	}

	cols := make([]*Column, 0, len(columns)+len(fields)+1)
	known := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		cols = append(cols, c.clone())
		known[c.Name] = struct{}{}
	}
	var missing []string
	for _, name := range fields {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	cols = append(cols, Infer(records, missing)...)
	cols = withIDColumn(cols)

	t := &Table{log: log, lastOptionsLen: -1}
	rows, hw := ingest(records, byName(cols), 0)
	store := newRowStore(rows, cols, fieldsOf(fieldSet(columns), records))
	if err := store.validate(rows); err != nil {
		return nil, err
	}
	if refreshed, changed := refreshOptions(store.columns, rows); changed {
		store = newRowStore(rows, refreshed, store.fields)
	}
	t.snap = store
	t.highWater = hw
	t.lastOptionsLen = len(rows)

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > 1 {
		pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
			log.Error("filter worker panic", zap.Any("panic", v))
		}))
		if err != nil {
			return nil, fmt.Errorf("create filter pool: %w", err)
		}
		t.pool = pool
	}
	t.evaluator = NewEvaluator(t.pool, opts.ParallelThreshold)

	t.observe(store)
	log.Info("table ready",
		zap.Int("rows", store.Len()),
		zap.Int("columns", len(store.columns)),
		zap.Int("workers", workers))
	return t, nil
}

// Close releases the scan pool.
func (t *Table) Close() {
	if t.pool != nil {
		t.pool.Release()
	}
}

// Snapshot returns the current immutable snapshot.
func (t *Table) Snapshot() *RowStore {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// List returns one page of the filtered and sorted view. An internal failure
// yields an empty page marked Failed.
func (t *Table) List(q Query) (res *models.ListResult) {
	page, size := q.window()
	timer := metrics.NewTimer("list")
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("list failed", zap.Any("panic", r), zap.Any("filters", q.Filters))
			timer.Stop("failed")
			res = &models.ListResult{Rows: []models.Row{}, Page: page, PageSize: size, Failed: true}
		}
	}()

	snap := t.Snapshot()
	sel := t.selectRows(snap, q)
	total := len(sel)

	start := total
	if page-1 < (total+size-1)/size {
		start = (page - 1) * size
	}
	end := min(start+size, total)

	rows := make([]models.Row, 0, end-start)
	for _, i := range sel[start:end] {
		rows = append(rows, formatRow(snap, snap.rows[i]))
	}
	timer.Stop("ok")
	return &models.ListResult{Rows: rows, Total: total, Page: page, PageSize: size}
}

// RowPosition finds the zero-based index of the row with the given id in the
// filtered and sorted view. Paging fields of q are ignored.
func (t *Table) RowPosition(id any, q Query) (pos models.RowPosition) {
	notFound := models.RowPosition{Found: false, Position: -1}
	timer := metrics.NewTimer("row_position")
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("row position failed", zap.Any("panic", r), zap.Any("id", id))
			timer.Stop("failed")
			pos = notFound
		}
	}()

	target, ok := rowID(id)
	if !ok {
		timer.Stop("ok")
		return notFound
	}
	snap := t.Snapshot()
	sel := t.selectRows(snap, q)
	timer.Stop("ok")
	for p, i := range sel {
		if v, ok := snap.rows[i][idField].(int64); ok && v == target {
			return models.RowPosition{Found: true, Position: p}
		}
	}
	return notFound
}

// RowDetail describes the row with the given id, one item per column in
// column order. Filters never apply here.
func (t *Table) RowDetail(id any) ([]models.DetailItem, error) {
	timer := metrics.NewTimer("row_detail")
	target, ok := rowID(id)
	if !ok {
		timer.Stop("error")
		return nil, NotFoundError(id)
	}
	snap := t.Snapshot()
	idx := slices.IndexFunc(snap.rows, func(r Row) bool {
		v, ok := r[idField].(int64)
		return ok && v == target
	})
	if idx < 0 {
		timer.Stop("error")
		return nil, NotFoundError(id)
	}

	row := snap.rows[idx]
	items := make([]models.DetailItem, 0, len(snap.columns))
	for _, col := range snap.columns {
		item := models.DetailItem{
			Label:  col.Label,
			Value:  outputValue(col, row[col.Name]),
			Detail: col.Label,
			Type:   string(col.Type),
		}
		if col.Type == TypeNumber {
			item.Format = snap.numberFormat(col.Name)
		}
		items = append(items, item)
	}
	timer.Stop("ok")
	return items, nil
}

// ColumnsConfig returns the client projection of every column in order.
func (t *Table) ColumnsConfig() []models.Column {
	snap := t.Snapshot()
	out := make([]models.Column, len(snap.columns))
	for i, c := range snap.columns {
		out[i] = c.Projection()
	}
	return out
}

// AddData appends records. Fields never seen before are inferred from this
// batch alone and older rows read them as null. Rows and schema changes become
// visible together.
func (t *Table) AddData(records []Record) (*models.AddResult, error) {
	timer := metrics.NewTimer("add")
	if len(records) == 0 {
		timer.Stop("error")
		return nil, validationError("no records to add")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snap

	var added []string
	seen := make(map[string]struct{})
	for _, rec := range records {
		for _, k := range rec.Keys {
			if _, ok := snap.fields[k]; ok {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			added = append(added, k)
		}
	}

	columns := snap.columns
	if len(added) > 0 {
		columns = slices.Concat(snap.columns, Infer(records, added))
	}
	fields := fieldsOf(snap.fields, records)

	rows, hw := ingest(records, byName(columns), t.highWater)
	// snap never reads past its own length, so appending into spare capacity is safe
	all := append(snap.rows, rows...)
	next := newRowStore(all, columns, fields)
	if err := next.validate(rows); err != nil {
		timer.Stop("error")
		t.log.Warn("add rejected", zap.Error(err))
		return nil, err
	}

	optionsUpdated := false
	if refreshDue(t.lastOptionsLen, len(all)) {
		if refreshed, changed := refreshOptions(next.columns, all); changed {
			next = newRowStore(all, refreshed, fields)
			optionsUpdated = true
		}
		t.lastOptionsLen = len(all)
		metrics.OptionRefreshes.WithLabelValues("add", "refreshed").Inc()
	} else {
		metrics.OptionRefreshes.WithLabelValues("add", "throttled").Inc()
	}

	t.snap = next
	t.highWater = hw
	t.observe(next)
	timer.Stop("ok")

	t.log.Info("rows added",
		zap.Int("added", len(rows)),
		zap.Int("total", next.Len()),
		zap.Strings("new_columns", added),
		zap.Bool("options_updated", optionsUpdated))
	return &models.AddResult{
		AddedCount:       len(rows),
		StructureUpdated: len(added) > 0,
		OptionsUpdated:   optionsUpdated,
		AddedColumns:     added,
	}, nil
}

// ReplaceData swaps the whole content. The column list is rebuilt to the new
// field set in first-appearance order; surviving columns keep their definition
// and the rest are inferred. An empty batch keeps the current shape.
func (t *Table) ReplaceData(records []Record) (*models.ReplaceResult, error) {
	timer := metrics.NewTimer("replace")

	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snap

	columns, fields := snap.columns, snap.fields
	if len(records) > 0 {
		order := fieldOrder(records)
		if !slices.Contains(order, idField) {
			order = append([]string{idField}, order...)
		}
		var fresh []string
		for _, name := range order {
			if _, ok := snap.byName[name]; !ok {
				fresh = append(fresh, name)
			}
		}
		inferred := byName(Infer(records, fresh))
		columns = make([]*Column, 0, len(order))
		for _, name := range order {
			if c, ok := snap.byName[name]; ok {
				columns = append(columns, c)
			} else {
				columns = append(columns, inferred[name])
			}
		}
		fields = fieldsOf(nil, records)
	}

	rows, hw := ingest(records, byName(columns), t.highWater)
	next := newRowStore(rows, columns, fields)
	if err := next.validate(rows); err != nil {
		timer.Stop("error")
		t.log.Warn("replace rejected", zap.Error(err))
		return nil, err
	}

	refreshed, optionsUpdated := refreshOptions(next.columns, rows)
	if optionsUpdated {
		next = newRowStore(rows, refreshed, next.fields)
	}
	t.lastOptionsLen = len(rows)
	metrics.OptionRefreshes.WithLabelValues("replace", "refreshed").Inc()

	structureUpdated := !slices.Equal(columnNames(snap.columns), columnNames(next.columns))
	t.snap = next
	t.highWater = hw
	t.observe(next)
	timer.Stop("ok")

	t.log.Info("data replaced",
		zap.Int("rows", len(rows)),
		zap.Int("columns", len(next.columns)),
		zap.Bool("structure_updated", structureUpdated),
		zap.Bool("options_updated", optionsUpdated))
	return &models.ReplaceResult{
		StructureUpdated: structureUpdated,
		OptionsUpdated:   optionsUpdated,
		TotalCount:       len(rows),
	}, nil
}

// Statistics summarizes the current shape.
func (t *Table) Statistics() models.Statistics {
	snap := t.Snapshot()
	st := models.Statistics{
		TotalRows:    snap.Len(),
		TotalColumns: len(snap.columns),
		ColumnLabels: []string{},
	}
	for i, c := range snap.columns {
		if c.Filterable {
			st.FilterableColumns++
		}
		if c.Sortable {
			st.SortableColumns++
		}
		if i < statisticsLabels {
			st.ColumnLabels = append(st.ColumnLabels, c.Label)
		}
	}
	st.Truncated = len(snap.columns) > statisticsLabels
	return st
}

// selectRows runs the filter and sort pipeline over a snapshot.
func (t *Table) selectRows(snap *RowStore, q Query) []int {
	f := ParseFilter(q.Filters, snap.columns)
	if len(f.Skipped) > 0 {
		metrics.SkippedFilters.Add(float64(len(f.Skipped)))
		t.log.Debug("filter entries skipped", zap.Strings("fields", f.Skipped))
	}
	sel := t.evaluator.Evaluate(snap.rows, f)
	if q.SortBy != "" {
		if col, ok := snap.Column(q.SortBy); ok && col.Sortable {
			sortSelection(snap.rows, sel, q.SortBy, q.direction())
		}
	}
	return sel
}

func (t *Table) observe(s *RowStore) {
	metrics.Rows.Set(float64(s.Len()))
	metrics.Columns.Set(float64(len(s.columns)))
}

// ingest converts records to rows against the target columns. Explicit ids
// raise the high-water mark before any missing id is allocated, so an
// allocated id never collides with one later in the same batch.
func ingest(records []Record, cols map[string]*Column, highWater int64) ([]Row, int64) {
	rows := make([]Row, len(records))
	for i, rec := range records {
		row := make(Row, len(rec.Keys)+1)
		for _, k := range rec.Keys {
			v := coerce(cols[k], normalize(rec.Values[k]))
			if isNull(v) {
				continue
			}
			row[k] = v
		}
		delete(row, idField)
		if id, ok := rowID(rec.Values[idField]); ok {
			row[idField] = id
			highWater = max(highWater, id)
		}
		rows[i] = row
	}
	for _, row := range rows {
		if _, ok := row[idField]; !ok {
			highWater++
			row[idField] = highWater
		}
	}
	return rows, highWater
}

// coerce converts textual input for bytes and epoch date columns; values
// that do not parse are kept as given.
func coerce(col *Column, v any) any {
	s, ok := v.(string)
	if !ok || col == nil {
		return v
	}
	switch {
	case col.Type == TypeBytes:
		if b, err := ParseHex(s); err == nil {
			return b
		}
	case col.Type == TypeDate && col.epoch:
		if ts, ok := parseTimestamp(s); ok {
			return ts
		}
	}
	return v
}

func formatRow(snap *RowStore, row Row) models.Row {
	out := make(models.Row, len(snap.columns))
	for _, col := range snap.columns {
		out[col.Name] = outputValue(col, row[col.Name])
	}
	return out
}

// fieldOrder lists record fields in first-appearance order.
func fieldOrder(records []Record) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, rec := range records {
		for _, k := range rec.Keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func withIDColumn(cols []*Column) []*Column {
	for _, c := range cols {
		if c.Name == idField {
			return cols
		}
	}
	return append([]*Column{inferColumn(idField, nil)}, cols...)
}

func byName(cols []*Column) map[string]*Column {
	m := make(map[string]*Column, len(cols))
	for _, c := range cols {
		m[c.Name] = c
	}
	return m
}

func fieldSet(cols []*Column) map[string]struct{} {
	m := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		m[c.Name] = struct{}{}
	}
	return m
}

// fieldsOf extends base with every record field and the id field. base is
// never modified.
func fieldsOf(base map[string]struct{}, records []Record) map[string]struct{} {
	m := make(map[string]struct{}, len(base)+1)
	for k := range base {
		m[k] = struct{}{}
	}
	m[idField] = struct{}{}
	for _, rec := range records {
		for _, k := range rec.Keys {
			m[k] = struct{}{}
		}
	}
	return m
}

func columnNames(cols []*Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
