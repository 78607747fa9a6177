package engine

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableview/internal/models"
)

func newTable(t *testing.T, records ...Record) *Table {
	t.Helper()
	tbl, err := New(records, nil, Options{Workers: 1})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	return tbl
}

func rowIDs(rows []models.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r["id"].(int64)
	}
	return out
}

func threeAges(t *testing.T) *Table {
	return newTable(t,
		R("id", 1, "age", 25),
		R("id", 2, "age", 40),
		R("id", 3, "age", 30),
	)
}

func TestListFilterAndSort(t *testing.T) {
	tbl := threeAges(t)
	res := tbl.List(Query{
		Filters:   map[string]any{"age": map[string]any{"operator": ">", "value": 28}},
		SortBy:    "age",
		SortOrder: "ascending",
		PageSize:  10,
	})
	assert.Equal(t, []int64{3, 2}, rowIDs(res.Rows))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, int64(30), res.Rows[0]["age"])
}

func TestListGroupFilter(t *testing.T) {
	tbl := threeAges(t)
	res := tbl.List(Query{Filters: map[string]any{"age": map[string]any{
		"filters": []any{
			map[string]any{"operator": ">", "value": 20},
			map[string]any{"operator": "<", "value": 30},
		},
		"logic": "AND",
	}}})
	assert.Equal(t, []int64{1}, rowIDs(res.Rows))
}

func TestListPaging(t *testing.T) {
	tbl := threeAges(t)

	res := tbl.List(Query{Page: 2, PageSize: 2})
	assert.Equal(t, []int64{3}, rowIDs(res.Rows))
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Page)
	assert.Equal(t, 2, res.PageSize)

	beyond := tbl.List(Query{Page: 9, PageSize: 2})
	assert.Empty(t, beyond.Rows)
	assert.NotNil(t, beyond.Rows)
	assert.Equal(t, 3, beyond.Total)
	assert.False(t, beyond.Failed)

	clamped := tbl.List(Query{Page: -1, PageSize: 0})
	assert.Equal(t, 1, clamped.Page)
	assert.Equal(t, DefaultPageSize, clamped.PageSize)
	assert.Len(t, clamped.Rows, 3)
}

func TestPagesTileTheView(t *testing.T) {
	records := make([]Record, 23)
	for i := range records {
		rec := R("id", i+1)
		if i%4 != 0 {
			rec.Set("score", (i*7)%11)
		}
		records[i] = rec
	}
	tbl := newTable(t, records...)

	for _, order := range []string{"ascending", "descending"} {
		q := Query{SortBy: "score", SortOrder: order, PageSize: 1000}
		full := tbl.List(q)
		require.Equal(t, 23, full.Total)

		var tiled []models.Row
		q.PageSize = 5
		for page := 1; page <= 5; page++ {
			q.Page = page
			tiled = append(tiled, tbl.List(q).Rows...)
		}
		assert.Equal(t, rowIDs(full.Rows), rowIDs(tiled), order)

		// nulls trail in both directions
		for i, r := range full.Rows {
			if r["score"] == nil {
				for _, rest := range full.Rows[i:] {
					assert.Nil(t, rest["score"], order)
				}
				break
			}
		}
	}
}

func TestNoFilterKeepsStoreOrder(t *testing.T) {
	tbl := newTable(t, R("id", 9), R("id", 2), R("id", 5))
	res := tbl.List(Query{})
	assert.Equal(t, []int64{9, 2, 5}, rowIDs(res.Rows))

	unknownSort := tbl.List(Query{SortBy: "nope", SortOrder: "descending"})
	assert.Equal(t, []int64{9, 2, 5}, rowIDs(unknownSort.Rows))
}

func TestSortIsStable(t *testing.T) {
	tbl := newTable(t,
		R("id", 1, "group", "b"),
		R("id", 2, "group", "a"),
		R("id", 3, "group", "b"),
		R("id", 4, "group", "a"),
	)
	asc := tbl.List(Query{SortBy: "group"})
	assert.Equal(t, []int64{2, 4, 1, 3}, rowIDs(asc.Rows))
	desc := tbl.List(Query{SortBy: "group", SortOrder: "descending"})
	assert.Equal(t, []int64{1, 3, 2, 4}, rowIDs(desc.Rows))
}

func TestAddDataAssignsIDs(t *testing.T) {
	tbl := threeAges(t)

	res, err := tbl.AddData([]Record{R("id", nil, "name", "X")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AddedCount)
	assert.True(t, res.StructureUpdated)
	assert.Equal(t, []string{"name"}, res.AddedColumns)

	detail, err := tbl.RowDetail(4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), detail[0].Value)

	// old rows read the new field as null
	first := tbl.List(Query{PageSize: 1})
	assert.Nil(t, first.Rows[0]["name"])
	_, hasName := first.Rows[0]["name"]
	assert.True(t, hasName)
}

func TestIDsAreNeverReused(t *testing.T) {
	tbl := threeAges(t)

	_, err := tbl.AddData([]Record{R("age", 1), R("id", 10, "age", 2), R("age", 3)})
	require.NoError(t, err)
	ids := rowIDs(tbl.List(Query{PageSize: 100}).Rows)
	assert.Equal(t, []int64{1, 2, 3, 11, 10, 12}, ids)

	_, err = tbl.ReplaceData([]Record{R("id", 1, "age", 5)})
	require.NoError(t, err)
	_, err = tbl.AddData([]Record{R("age", 6)})
	require.NoError(t, err)
	ids = rowIDs(tbl.List(Query{PageSize: 100}).Rows)
	assert.Equal(t, []int64{1, 13}, ids)

	seen := map[int64]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestAddDataRejectsEmptyBatch(t *testing.T) {
	tbl := threeAges(t)
	_, err := tbl.AddData(nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
	assert.Equal(t, 3, tbl.List(Query{}).Total)
}

func TestAppendIsAtomicForReaders(t *testing.T) {
	const batch = 10
	records := make([]Record, batch)
	for i := range records {
		records[i] = R("id", i+1, "v", i)
	}
	tbl := newTable(t, records...)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res := tbl.List(Query{PageSize: 5})
				if res.Total%batch != 0 {
					t.Errorf("partial batch visible: total=%d", res.Total)
					return
				}
			}
		}()
	}

	for n := 0; n < 20; n++ {
		next := make([]Record, batch)
		for i := range next {
			next[i] = R("v", n*batch+i, fmt.Sprintf("extra%d", n%3), "x")
		}
		res, err := tbl.AddData(next)
		require.NoError(t, err)
		require.Equal(t, batch, res.AddedCount)
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 21*batch, tbl.List(Query{}).Total)
}

func TestConcurrentWritersNeverInterleave(t *testing.T) {
	tbl := newTable(t, R("id", 1, "v", 0))

	const (
		writers = 8
		batches = 20
		batch   = 10
	)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for b := 0; b < batches; b++ {
				next := make([]Record, batch)
				for i := range next {
					next[i] = R("v", w, fmt.Sprintf("w%d", w), b)
				}
				if _, err := tbl.AddData(next); err != nil {
					t.Errorf("writer %d: %v", w, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	snap := tbl.Snapshot()
	require.Equal(t, 1+writers*batches*batch, snap.Len())
	seen := make(map[int64]bool, snap.Len())
	for _, row := range snap.Rows() {
		id := row["id"].(int64)
		assert.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
	// each batch is contiguous in store order
	rows := snap.Rows()
	for start := 1; start < len(rows); start += batch {
		w := rows[start]["v"]
		for _, row := range rows[start : start+batch] {
			assert.Equal(t, w, row["v"])
		}
	}
}

func TestFailedReadsYieldEmptyResults(t *testing.T) {
	tbl := threeAges(t)

	tbl.mu.Lock()
	good := tbl.snap
	// a hole in the column list breaks every read of this snapshot
	tbl.snap = &RowStore{
		rows:    good.rows,
		columns: append(slices.Clone(good.columns), nil),
		fields:  good.fields,
		byName:  good.byName,
	}
	tbl.mu.Unlock()

	q := Query{
		Filters:  map[string]any{"age": map[string]any{"operator": ">", "value": 20}},
		Page:     2,
		PageSize: 10,
	}
	res := tbl.List(q)
	assert.True(t, res.Failed)
	assert.Zero(t, res.Total)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
	assert.Equal(t, 2, res.Page)
	assert.Equal(t, 10, res.PageSize)

	unfiltered := tbl.List(Query{})
	assert.True(t, unfiltered.Failed)

	assert.Equal(t, models.RowPosition{Found: false, Position: -1}, tbl.RowPosition(1, q))

	tbl.mu.Lock()
	tbl.snap = good
	tbl.mu.Unlock()
	ok := tbl.List(q)
	assert.False(t, ok.Failed)
	assert.Equal(t, 3, ok.Total)
}

func TestNumberFormatFollowsSnapshot(t *testing.T) {
	tbl := threeAges(t)
	before := tbl.Snapshot()

	items, err := tbl.RowDetail(1)
	require.NoError(t, err)
	assert.Equal(t, "int", items[1].Format)

	_, err = tbl.AddData([]Record{R("age", 41.5)})
	require.NoError(t, err)

	items, err = tbl.RowDetail(1)
	require.NoError(t, err)
	assert.Equal(t, "float", items[1].Format)
	assert.Equal(t, "int", before.numberFormat("age"))
	assert.Equal(t, "int", before.numberFormat("id"))
}

func TestSnapshotIsolation(t *testing.T) {
	tbl := threeAges(t)
	before := tbl.Snapshot()

	_, err := tbl.AddData([]Record{R("age", 50, "city", "Oslo")})
	require.NoError(t, err)

	assert.Equal(t, 3, before.Len())
	_, ok := before.Column("city")
	assert.False(t, ok)
	assert.Equal(t, 4, tbl.Snapshot().Len())
}

func TestRowPositionMatchesList(t *testing.T) {
	records := make([]Record, 40)
	for i := range records {
		records[i] = R("id", i+1, "score", (i*13)%17, "city", []string{"Paris", "Rome"}[i%2])
	}
	tbl := newTable(t, records...)

	q := Query{
		Filters:   map[string]any{"city": "Rome"},
		SortBy:    "score",
		SortOrder: "descending",
	}
	full := tbl.List(Query{Filters: q.Filters, SortBy: q.SortBy, SortOrder: q.SortOrder, PageSize: 40})
	for p, row := range full.Rows {
		pos := tbl.RowPosition(row["id"], q)
		assert.Equal(t, models.RowPosition{Found: true, Position: p}, pos)
	}

	// filtered out
	assert.Equal(t, models.RowPosition{Found: false, Position: -1}, tbl.RowPosition(1, q))
	assert.Equal(t, models.RowPosition{Found: false, Position: -1}, tbl.RowPosition(999, q))
	assert.Equal(t, models.RowPosition{Found: false, Position: -1}, tbl.RowPosition("abc", q))
}

func TestRowDetail(t *testing.T) {
	tbl := newTable(t,
		R("id", 1, "age", 25, "score", 1.5, "payload", []byte{0xde, 0xad}),
		R("id", 2, "age", 40, "score", 2, "payload", []byte{0x01}),
	)
	items, err := tbl.RowDetail(1)
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, models.DetailItem{Label: "id", Value: int64(1), Detail: "id", Type: "number", Format: "int"}, items[0])
	assert.Equal(t, "int", items[1].Format)
	assert.Equal(t, "float", items[2].Format)
	assert.Equal(t, "DE AD", items[3].Value)
	assert.Equal(t, "bytes", items[3].Type)
	assert.Empty(t, items[3].Format)

	// filters never hide a row from detail
	_, err = tbl.RowDetail("2")
	require.NoError(t, err)
}

func TestRowDetailNotFound(t *testing.T) {
	tbl := threeAges(t)
	items, err := tbl.RowDetail(999)
	require.Error(t, err)
	assert.Nil(t, items)
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindSchema))
}

func TestBytesRoundTrip(t *testing.T) {
	payloads := [][]byte{{0x00}, {0x0a, 0xff, 0x10}, {0xde, 0xad, 0xbe, 0xef}}
	records := make([]Record, len(payloads))
	for i, p := range payloads {
		records[i] = R("id", i+1, "payload", p)
	}
	tbl := newTable(t, records...)

	for i, row := range tbl.List(Query{}).Rows {
		s, ok := row["payload"].(string)
		require.True(t, ok)
		back, err := ParseHex(s)
		require.NoError(t, err)
		assert.Equal(t, payloads[i], back)
	}
}

func TestIngestCoercion(t *testing.T) {
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	tbl := newTable(t,
		R("id", 1, "payload", []byte{0x01}, "ts", float64(day.Unix())),
	)
	_, err := tbl.AddData([]Record{
		R("payload", "0a-ff", "ts", "2024-03-02 08:15:00"),
		R("payload", "not hex", "ts", "garbage"),
	})
	require.NoError(t, err)

	rows := tbl.List(Query{}).Rows
	require.Len(t, rows, 3)
	assert.Equal(t, "2024-03-01 12:00:00.000000", rows[0]["ts"])
	assert.Equal(t, "0A FF", rows[1]["payload"])
	assert.Equal(t, "2024-03-02 08:15:00.000000", rows[1]["ts"])
	assert.Equal(t, "not hex", rows[2]["payload"])
	assert.Equal(t, "garbage", rows[2]["ts"])
}

func TestOptionRefreshIsThrottledOnAdd(t *testing.T) {
	records := make([]Record, 100)
	for i := range records {
		records[i] = R("id", i+1, "city", []string{"Paris", "Rome"}[i%2])
	}
	tbl := newTable(t, records...)

	res, err := tbl.AddData([]Record{R("city", "Oslo")})
	require.NoError(t, err)
	assert.False(t, res.OptionsUpdated)
	col, _ := tbl.Snapshot().Column("city")
	assert.Equal(t, []string{"Paris", "Rome"}, col.Options)

	batch := make([]Record, 10)
	for i := range batch {
		batch[i] = R("city", "Berlin")
	}
	res, err = tbl.AddData(batch)
	require.NoError(t, err)
	assert.True(t, res.OptionsUpdated)
	col, _ = tbl.Snapshot().Column("city")
	assert.Equal(t, []string{"Berlin", "Oslo", "Paris", "Rome"}, col.Options)
}

func TestReplaceData(t *testing.T) {
	tbl := newTable(t,
		R("id", 1, "city", "Paris", "age", 25),
		R("id", 2, "city", "Rome", "age", 40),
	)
	cityBefore, _ := tbl.Snapshot().Column("city")

	res, err := tbl.ReplaceData([]Record{
		R("score", 1.5, "city", "Oslo", "id", 7),
		R("score", 2.5, "city", "Bergen", "id", 8),
	})
	require.NoError(t, err)
	assert.True(t, res.StructureUpdated)
	assert.True(t, res.OptionsUpdated)
	assert.Equal(t, 2, res.TotalCount)

	snap := tbl.Snapshot()
	assert.Equal(t, []string{"score", "city", "id"}, columnNames(snap.Columns()))
	_, hasAge := snap.Column("age")
	assert.False(t, hasAge)

	cityAfter, _ := snap.Column("city")
	assert.Equal(t, cityBefore.Name, cityAfter.Name)
	assert.Equal(t, cityBefore.Type, cityAfter.Type)
	assert.Equal(t, []string{"Bergen", "Oslo"}, cityAfter.Options)

	same, err := tbl.ReplaceData([]Record{R("score", 3, "city", "Oslo", "id", 9)})
	require.NoError(t, err)
	assert.False(t, same.StructureUpdated)
}

func TestReplaceDataKeepsUnchangedColumns(t *testing.T) {
	tbl := newTable(t, R("id", 1, "name", "a"))
	before, _ := tbl.Snapshot().Column("id")

	_, err := tbl.ReplaceData([]Record{R("id", 2, "name", "b")})
	require.NoError(t, err)
	after, _ := tbl.Snapshot().Column("id")
	assert.Same(t, before, after)
}

func TestReplaceDataEmptyKeepsShape(t *testing.T) {
	tbl := threeAges(t)
	res, err := tbl.ReplaceData(nil)
	require.NoError(t, err)
	assert.False(t, res.StructureUpdated)
	assert.Equal(t, 0, res.TotalCount)
	assert.Equal(t, []string{"id", "age"}, columnNames(tbl.Snapshot().Columns()))
	assert.Equal(t, 0, tbl.List(Query{}).Total)
}

func TestCardinalityDowngrade(t *testing.T) {
	tbl := newTable(t, R("id", 1, "city", "Paris"), R("id", 2, "city", "Rome"))

	many := make([]Record, 150)
	for i := range many {
		many[i] = R("id", i+1, "city", fmt.Sprintf("city-%03d", i))
	}
	res, err := tbl.ReplaceData(many)
	require.NoError(t, err)
	assert.True(t, res.OptionsUpdated)

	cols := tbl.ColumnsConfig()
	require.Len(t, cols, 2)
	assert.Equal(t, "text", cols[1].FilterKind)
	assert.Nil(t, cols[1].Options)

	// the downgraded column now filters by substring
	out := tbl.List(Query{Filters: map[string]any{"city": "city-14"}})
	assert.Equal(t, 10, out.Total)
}

func TestNewRequiresShape(t *testing.T) {
	_, err := New(nil, nil, Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSchema))

	_, err = New(nil, []*Column{
		NewColumn("a", TypeText, FilterText),
		NewColumn("a", TypeText, FilterText),
	}, Options{Workers: 1})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSchema))

	tbl, err := New(nil, []*Column{NewColumn("name", TypeText, FilterText)}, Options{Workers: 1})
	require.NoError(t, err)
	defer tbl.Close()
	assert.Equal(t, []string{"id", "name"}, columnNames(tbl.Snapshot().Columns()))
	assert.Equal(t, 0, tbl.List(Query{}).Total)

	res, err := tbl.AddData([]Record{R("name", "first")})
	require.NoError(t, err)
	assert.False(t, res.StructureUpdated)
	items, err := tbl.RowDetail(1)
	require.NoError(t, err)
	assert.Equal(t, "first", items[1].Value)
}

func TestColumnsConfigAndStatistics(t *testing.T) {
	tbl := newTable(t, R("id", 1, "a", 1, "b", "x", "c", true, "d", 2, "e", "y", "f", 3))

	cols := tbl.ColumnsConfig()
	require.Len(t, cols, 7)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "left", cols[0].Pinned)
	assert.Equal(t, "multi-select", cols[2].FilterKind)
	assert.Equal(t, []string{"x"}, cols[2].Options)
	assert.Nil(t, cols[1].Options)

	st := tbl.Statistics()
	assert.Equal(t, 1, st.TotalRows)
	assert.Equal(t, 7, st.TotalColumns)
	assert.Equal(t, 7, st.FilterableColumns)
	assert.Equal(t, 7, st.SortableColumns)
	assert.Equal(t, []string{"id", "a", "b", "c", "d"}, st.ColumnLabels)
	assert.True(t, st.Truncated)
}

func TestParallelTableMatchesSequential(t *testing.T) {
	records := make([]Record, 2000)
	for i := range records {
		records[i] = R("id", i+1, "v", i%37)
	}
	par, err := New(records, nil, Options{Workers: 4, ParallelThreshold: 100})
	require.NoError(t, err)
	defer par.Close()
	seq := newTable(t, records...)

	q := Query{Filters: map[string]any{"v": map[string]any{"operator": "<", "value": 5}}, SortBy: "v", PageSize: 5000}
	assert.Equal(t, rowIDs(seq.List(q).Rows), rowIDs(par.List(q).Rows))
}
