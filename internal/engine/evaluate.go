package engine

import (
	"sync"

	"github.com/panjf2000/ants/v2"
)

// DefaultParallelThreshold is the row count from which scans are split across
// the worker pool.
const DefaultParallelThreshold = 50000

// Evaluator selects the rows matching a filter. With a pool it scans large
// row sets in chunks; the selection order always equals row order.
type Evaluator struct {
	pool      *ants.Pool
	threshold int
	workers   int
}

// NewEvaluator builds an evaluator. A nil pool keeps every scan sequential.
func NewEvaluator(pool *ants.Pool, threshold int) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultParallelThreshold
	}
	ev := &Evaluator{pool: pool, threshold: threshold, workers: 1}
	if pool != nil {
		ev.workers = pool.Cap()
	}
	return ev
}

// Evaluate returns the indices of rows satisfying every field filter.
func (ev *Evaluator) Evaluate(rows []Row, f *Filter) []int {
	if f.Empty() {
		out := make([]int, len(rows))
		for i := range out {
			out[i] = i
		}
		return out
	}
	if ev == nil || ev.pool == nil || ev.workers < 2 || len(rows) < ev.threshold {
		return scan(rows, f, 0, len(rows))
	}

	chunkSize := (len(rows) + ev.workers - 1) / ev.workers
	parts := make([][]int, ev.workers)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		failure any
	)
	for w := 0; w < ev.workers; w++ {
		start := w * chunkSize
		if start >= len(rows) {
			break
		}
		end := min(start+chunkSize, len(rows))
		idx := w
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					failure = r
					mu.Unlock()
				}
			}()
			parts[idx] = scan(rows, f, start, end)
		}
		if err := ev.pool.Submit(task); err != nil {
			// pool closed or overloaded: run inline
			task()
		}
	}
	wg.Wait()
	if failure != nil {
		// no partial selections
		panic(failure)
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]int, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func scan(rows []Row, f *Filter, start, end int) []int {
	out := make([]int, 0, (end-start)/4+1)
	for i := start; i < end; i++ {
		if matches(rows[i], f) {
			out = append(out, i)
		}
	}
	return out
}

func matches(row Row, f *Filter) bool {
	for _, ff := range f.Fields {
		if !ff.Condition.match(row[ff.Field]) {
			return false
		}
	}
	return true
}
