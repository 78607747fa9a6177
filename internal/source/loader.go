package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tableview/internal/engine"
)

// CSVSource loads a CSV file with a header row.
type CSVSource struct {
	Path    string
	Workers int
	Log     *zap.Logger
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) Load(ctx context.Context) ([]engine.Record, error) {
	start := time.Now()
	content, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := ParseCSV(content, s.Workers)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	if s.Log != nil {
		s.Log.Info("csv loaded",
			zap.String("path", s.Path),
			zap.Int("rows", len(records)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return records, nil
}

// ParseCSV turns CSV content into records keyed by the header row. The body
// is split into newline-aligned chunks parsed in parallel, so quoted fields
// must not contain line breaks. Empty cells are left out of the record.
func ParseCSV(content []byte, workers int) ([]engine.Record, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))

	// Header
	idx := bytes.IndexByte(content, '\n')
	headerLine := content
	if idx != -1 {
		headerLine = content[:idx]
		content = content[idx+1:]
	} else {
		content = nil
	}
	header, err := csv.NewReader(bytes.NewReader(headerLine)).Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if len(content) < 64*1024 {
		workers = 1
	}

	chunkSize := len(content)/workers + 1
	parts := make([][]engine.Record, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int, start, end int) {
			defer wg.Done()
			start, end = alignChunk(content, start, end)
			if start >= end {
				return
			}
			parts[idx], errs[idx] = parseChunk(content[start:end], header)
		}(i, i*chunkSize, (i+1)*chunkSize)
	}
	wg.Wait()

	total := 0
	for i, p := range parts {
		if errs[i] != nil {
			return nil, errs[i]
		}
		total += len(p)
	}
	out := make([]engine.Record, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// alignChunk moves both bounds forward to the next line start.
func alignChunk(content []byte, start, end int) (int, int) {
	if start > len(content) {
		start = len(content)
	}
	if start > 0 {
		if i := bytes.IndexByte(content[start-1:], '\n'); i != -1 {
			start += i
		} else {
			start = len(content)
		}
	}
	if end >= len(content) {
		end = len(content)
	} else if i := bytes.IndexByte(content[end-1:], '\n'); i != -1 {
		end += i
	} else {
		end = len(content)
	}
	return start, end
}

func parseChunk(chunk []byte, header []string) ([]engine.Record, error) {
	r := csv.NewReader(bytes.NewReader(chunk))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	// repeated cell text shares one string per chunk
	intern := make(map[string]string)

	var out []engine.Record
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		rec := engine.Record{
			Keys:   make([]string, 0, len(header)),
			Values: make(map[string]any, len(header)),
		}
		for i, name := range header {
			if i >= len(fields) || fields[i] == "" {
				continue
			}
			v := parseCell(fields[i])
			if s, ok := v.(string); ok {
				if is, ok := intern[s]; ok {
					v = is
				} else {
					s = strings.Clone(s)
					intern[s] = s
					v = s
				}
			}
			rec.Keys = append(rec.Keys, name)
			rec.Values[name] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

// parseCell types a CSV cell: integers, reals and booleans become values,
// everything else stays text.
func parseCell(s string) any {
	t := strings.TrimSpace(s)
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return i
	}
	if !strings.HasPrefix(t, "0x") && !strings.HasPrefix(t, "0X") {
		if f, err := strconv.ParseFloat(t, 64); err == nil && !strings.ContainsAny(t, "nNiI") {
			return f
		}
	}
	switch strings.ToLower(t) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
