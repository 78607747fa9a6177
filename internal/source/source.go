// Package source feeds the table from external data: CSV files and SQLite
// queries, loaded once at startup and optionally re-read on an interval.
package source

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tableview/internal/engine"
	"tableview/internal/metrics"
	"tableview/internal/models"
)

// Source produces a full set of records.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]engine.Record, error)
}

// Replacer takes a full data swap; *engine.Table satisfies it.
type Replacer interface {
	ReplaceData(records []engine.Record) (*models.ReplaceResult, error)
}

// Load runs src once and counts the outcome.
func Load(ctx context.Context, src Source) ([]engine.Record, error) {
	records, err := src.Load(ctx)
	if err != nil {
		metrics.SourceLoads.WithLabelValues(src.Name(), "error").Inc()
		return nil, err
	}
	metrics.SourceLoads.WithLabelValues(src.Name(), "ok").Inc()
	return records, nil
}

// Refresh re-reads src every interval and swaps the result into dst until ctx
// is done. A failed load or rejected swap keeps the current data.
func Refresh(ctx context.Context, src Source, dst Replacer, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RefreshOnce(ctx, src, dst, log)
		}
	}
}

// RefreshOnce performs a single load and swap.
func RefreshOnce(ctx context.Context, src Source, dst Replacer, log *zap.Logger) bool {
	records, err := Load(ctx, src)
	if err != nil {
		log.Warn("source refresh failed", zap.String("source", src.Name()), zap.Error(err))
		return false
	}
	res, err := dst.ReplaceData(records)
	if err != nil {
		log.Warn("source refresh rejected", zap.String("source", src.Name()), zap.Error(err))
		return false
	}
	log.Info("source refreshed",
		zap.String("source", src.Name()),
		zap.Int("rows", res.TotalCount),
		zap.Bool("structure_updated", res.StructureUpdated))
	return true
}
