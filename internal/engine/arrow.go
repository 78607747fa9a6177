package engine

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"tableview/internal/metrics"
)

// arrowBatchSize is the number of rows per IPC record batch.
const arrowBatchSize = 65536

// ExportArrow writes the filtered and sorted view, without paging, to w as an
// Arrow IPC stream and returns the number of rows written. Date columns are
// written in their rendered form; values that do not fit a column's Arrow
// type are written as null.
func (t *Table) ExportArrow(w io.Writer, q Query) (int, error) {
	timer := metrics.NewTimer("export")
	snap := t.Snapshot()
	sel := t.selectRows(snap, q)

	schema := arrowSchema(snap)
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))

	flush := func() error {
		rec := b.NewRecord()
		defer rec.Release()
		if rec.NumRows() == 0 {
			return nil
		}
		return wr.Write(rec)
	}

	for n, i := range sel {
		row := snap.rows[i]
		for c, col := range snap.columns {
			appendArrow(b.Field(c), col, row[col.Name])
		}
		if (n+1)%arrowBatchSize == 0 {
			if err := flush(); err != nil {
				timer.Stop("error")
				return n + 1, fmt.Errorf("write arrow batch: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		timer.Stop("error")
		return len(sel), fmt.Errorf("write arrow batch: %w", err)
	}
	if err := wr.Close(); err != nil {
		timer.Stop("error")
		return len(sel), fmt.Errorf("close arrow stream: %w", err)
	}
	timer.Stop("ok")
	t.log.Debug("arrow export", zap.Int("rows", len(sel)), zap.Int("columns", len(snap.columns)))
	return len(sel), nil
}

func arrowSchema(snap *RowStore) *arrow.Schema {
	fields := make([]arrow.Field, len(snap.columns))
	for i, col := range snap.columns {
		fields[i] = arrow.Field{Name: col.Name, Type: arrowType(snap, col), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(snap *RowStore, col *Column) arrow.DataType {
	switch col.Type {
	case TypeNumber:
		if snap.numberFormat(col.Name) == "int" {
			return arrow.PrimitiveTypes.Int64
		}
		return arrow.PrimitiveTypes.Float64
	case TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeBytes:
		return arrow.BinaryTypes.Binary
	}
	return arrow.BinaryTypes.String
}

func appendArrow(fb array.Builder, col *Column, v any) {
	if isNull(v) {
		fb.AppendNull()
		return
	}
	switch bld := fb.(type) {
	case *array.Int64Builder:
		if x, ok := v.(int64); ok {
			bld.Append(x)
			return
		}
	case *array.Float64Builder:
		if n, ok := toNumber(v); ok {
			bld.Append(n.f)
			return
		}
	case *array.BooleanBuilder:
		if x, ok := v.(bool); ok {
			bld.Append(x)
			return
		}
	case *array.BinaryBuilder:
		if x, ok := v.([]byte); ok {
			bld.Append(x)
			return
		}
	case *array.StringBuilder:
		if col.Type == TypeDate {
			if s, ok := renderDate(v); ok {
				bld.Append(s)
				return
			}
		}
		bld.Append(renderString(v))
		return
	}
	fb.AppendNull()
}
