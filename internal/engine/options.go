package engine

import (
	"runtime"
	"slices"
	"sort"
	"sync"
)

// optionsGrowth is the relative growth below which an append skips the
// option refresh.
const optionsGrowth = 0.05

// refreshDue applies the append throttle: a refresh is skipped while the rows
// added since the last refresh are under optionsGrowth of the current size.
func refreshDue(last, current int) bool {
	if last < 0 || current == 0 {
		return true
	}
	return float64(current-last)/float64(current) >= optionsGrowth
}

// refreshOptions recomputes option caches of enumerated columns over rows.
// Columns are cloned when they change; the returned slice is a new list
// whenever changed is true.
func refreshOptions(columns []*Column, rows []Row) ([]*Column, bool) {
	var targets []int
	for i, c := range columns {
		if c.FilterKind.Enumerated() {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return columns, false
	}

	distinct := collectDistinct(rows, columns, targets)

	out := make([]*Column, len(columns))
	copy(out, columns)
	changed := false
	for k, ci := range targets {
		col := columns[ci]
		values := distinct[k]
		if values == nil {
			// cardinality limit exceeded
			if col.FilterKind != FilterText {
				cp := col.clone()
				cp.FilterKind = FilterText
				cp.Options = nil
				out[ci] = cp
				changed = true
			}
			continue
		}
		if !slices.Equal(col.Options, values) || col.Options == nil {
			cp := col.clone()
			cp.Options = values
			out[ci] = cp
			changed = true
		}
	}
	if !changed {
		return columns, false
	}
	return out, true
}

// collectDistinct scans rows in parallel chunks, each worker keeping local
// dictionaries that are merged afterwards. A nil entry means the column has
// more than maxOptions distinct values.
func collectDistinct(rows []Row, columns []*Column, targets []int) [][]string {
	numWorkers := runtime.NumCPU()
	if len(rows) < 4096 {
		numWorkers = 1
	}
	chunkSize := (len(rows) + numWorkers - 1) / numWorkers

	type localDicts struct {
		sets     []map[string]struct{}
		overflow []bool
	}
	workerDicts := make([]*localDicts, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, len(rows))
		ld := &localDicts{
			sets:     make([]map[string]struct{}, len(targets)),
			overflow: make([]bool, len(targets)),
		}
		for k := range targets {
			ld.sets[k] = make(map[string]struct{})
		}
		workerDicts[w] = ld
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for k, ci := range targets {
				name := columns[ci].Name
				set := ld.sets[k]
				for j := s; j < e; j++ {
					v := rows[j][name]
					if isNull(v) {
						continue
					}
					set[renderString(v)] = struct{}{}
					if len(set) > maxOptions {
						ld.overflow[k] = true
						break
					}
				}
			}
		}(start, end)
	}
	wg.Wait()

	// Merge phase
	out := make([][]string, len(targets))
	for k := range targets {
		merged := make(map[string]struct{})
		overflow := false
		for _, ld := range workerDicts {
			if ld.overflow[k] {
				overflow = true
				break
			}
			for s := range ld.sets[k] {
				merged[s] = struct{}{}
			}
			if len(merged) > maxOptions {
				overflow = true
				break
			}
		}
		if overflow {
			continue
		}
		values := make([]string, 0, len(merged))
		for s := range merged {
			values = append(values, s)
		}
		sort.Strings(values)
		out[k] = values
	}
	return out
}
