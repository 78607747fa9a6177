package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tableview/internal/api"
	"tableview/internal/config"
	"tableview/internal/engine"
	"tableview/internal/logger"
	"tableview/internal/source"
)

var version = "0.1.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "tableview",
		Short: "Paginated, filtered and sorted views over an in-memory table",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./tableview.yaml when present)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tableview v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Development: cfg.Log.Development,
	}); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Get()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The API is live at once and answers 503 until the table is set.
	h := api.NewHandler(nil, api.Options{
		DefaultPageSize: cfg.API.DefaultPageSize,
		RequestTimeout:  cfg.Server.RequestTimeout,
		Logger:          logger.With("api"),
	})
	e := api.NewServer(h, cfg.Server.CORS, logger.With("http"))

	src, err := openSource(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open data source: %w", err)
	}

	go func() {
		log.Info("loading data in background")
		t0 := time.Now()

		var (
			records []engine.Record
			err     error
		)
		if src != nil {
			if records, err = source.Load(ctx, src); err != nil {
				log.Error("initial load failed", zap.String("source", src.Name()), zap.Error(err))
				return
			}
		}

		table, err := engine.New(records, []*engine.Column{idColumn()}, engine.Options{
			Logger:            logger.With("engine"),
			Workers:           cfg.Engine.Workers,
			ParallelThreshold: cfg.Engine.ParallelThreshold,
		})
		if err != nil {
			log.Error("build table", zap.Error(err))
			return
		}
		h.SetTable(table)
		log.Info("data ready", zap.Int("rows", table.Snapshot().Len()), zap.Duration("elapsed", time.Since(t0)))

		if src != nil && cfg.Data.RefreshInterval > 0 {
			source.Refresh(ctx, src, table, cfg.Data.RefreshInterval, logger.With("refresh"))
		}
	}()

	errc := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if t := h.Table(); t != nil {
		t.Close()
	}
	if c, ok := src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn("close data source", zap.String("source", src.Name()), zap.Error(err))
		}
	}
	log.Info("server stopped")
	return nil
}

func openSource(ctx context.Context, cfg *config.Config, log *zap.Logger) (source.Source, error) {
	switch {
	case cfg.Data.SQLitePath != "":
		return source.OpenSQLite(ctx, cfg.Data.SQLitePath, cfg.Data.SQLiteQuery, log.Named("sqlite"))
	case cfg.Data.CSVPath != "":
		return &source.CSVSource{Path: cfg.Data.CSVPath, Workers: cfg.Engine.Workers, Log: log.Named("csv")}, nil
	}
	return nil, nil
}

// idColumn fixes the id column so an empty start still has a shape.
func idColumn() *engine.Column {
	col := engine.NewColumn("id", engine.TypeNumber, engine.FilterNumber)
	col.Pinned = engine.PinLeft
	return col
}
