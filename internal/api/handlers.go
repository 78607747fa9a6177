package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tableview/internal/engine"
	"tableview/internal/metrics"
	"tableview/internal/models"
)

var errTimeout = errors.New("request timed out")

// Options configures a Handler.
type Options struct {
	DefaultPageSize int
	// RequestTimeout bounds engine reads; 0 disables it. Mutations are not bounded.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Handler serves the table. It starts without a table and answers 503 until
// SetTable is called.
type Handler struct {
	mu    sync.RWMutex
	table *engine.Table

	defaultPageSize int
	timeout         time.Duration
	log             *zap.Logger
}

func NewHandler(table *engine.Table, opts Options) *Handler {
	if opts.DefaultPageSize < 1 {
		opts.DefaultPageSize = engine.DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		table:           table,
		defaultPageSize: opts.DefaultPageSize,
		timeout:         opts.RequestTimeout,
		log:             opts.Logger,
	}
}

// SetTable publishes the loaded table.
func (h *Handler) SetTable(t *engine.Table) {
	h.mu.Lock()
	h.table = t
	h.mu.Unlock()
}

// Table returns the served table or nil while loading.
func (h *Handler) Table() *engine.Table {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.table
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/data", h.requireTable)
	api.POST("/list", h.List)
	api.POST("/row-position", h.RowPosition)
	api.POST("/row-detail", h.RowDetail)
	api.GET("/columns", h.Columns)
	api.GET("/statistics", h.Statistics)
	api.POST("/add", h.AddData)
	api.POST("/replace", h.ReplaceData)
	api.POST("/export", h.Export)

	e.GET("/healthz", h.Health)
}

func (h *Handler) requireTable(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.Table() == nil {
			return fail(c, http.StatusServiceUnavailable, "data is still loading, retry shortly")
		}
		return next(c)
	}
}

// --- HANDLERS ---

// pageParams applies the default page size and clamps the page to 1.
func pageParams(page, pageSize, defaultSize int) (int, int) {
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if page <= 0 {
		page = 1
	}
	return page, pageSize
}

func (h *Handler) List(c echo.Context) error {
	var req models.ListRequest
	if err := c.Bind(&req); err != nil {
		return h.respondError(c, err)
	}
	page, size := pageParams(req.Page, req.PageSize, h.defaultPageSize)
	q := engine.Query{Filters: req.Filters, Page: page, PageSize: size, SortBy: req.SortBy, SortOrder: req.SortOrder}

	t := h.Table()
	res, err := withTimeout(h, c, "list", func() (*models.ListResult, error) {
		return t.List(q), nil
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return ok(c, res)
}

func (h *Handler) RowPosition(c echo.Context) error {
	var req models.RowPositionRequest
	if err := c.Bind(&req); err != nil {
		return h.respondError(c, err)
	}
	if req.RowID == nil {
		return fail(c, http.StatusBadRequest, "rowId is required")
	}
	q := engine.Query{Filters: req.Filters, SortBy: req.SortBy, SortOrder: req.SortOrder}

	t := h.Table()
	res, err := withTimeout(h, c, "row-position", func() (models.RowPosition, error) {
		return t.RowPosition(req.RowID, q), nil
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return ok(c, res)
}

func (h *Handler) RowDetail(c echo.Context) error {
	var req models.RowDetailRequest
	if err := c.Bind(&req); err != nil {
		return h.respondError(c, err)
	}
	id := req.ID()
	if id == nil {
		return fail(c, http.StatusBadRequest, "rowId or row.id is required")
	}

	t := h.Table()
	res, err := withTimeout(h, c, "row-detail", func() ([]models.DetailItem, error) {
		return t.RowDetail(id)
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return ok(c, res)
}

func (h *Handler) Columns(c echo.Context) error {
	return ok(c, map[string]any{"columns": h.Table().ColumnsConfig()})
}

func (h *Handler) Statistics(c echo.Context) error {
	return ok(c, h.Table().Statistics())
}

// AddData accepts one record, an array of records or {"records": [...]}.
func (h *Handler) AddData(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.respondError(c, err)
	}
	records, err := decodeRecords(body, "records", true)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	// mutations are never raced against the timeout
	res, err := h.Table().AddData(records)
	if err != nil {
		return h.respondError(c, err)
	}
	return ok(c, res)
}

// ReplaceData accepts an array of records or {"rows": [...]}.
func (h *Handler) ReplaceData(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.respondError(c, err)
	}
	records, err := decodeRecords(body, "rows", false)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	res, err := h.Table().ReplaceData(records)
	if err != nil {
		return h.respondError(c, err)
	}
	return ok(c, res)
}

// Export writes the filtered and sorted view as an Arrow IPC stream. It is not
// bounded by the request timeout.
func (h *Handler) Export(c echo.Context) error {
	var req models.ListRequest
	if err := c.Bind(&req); err != nil {
		return h.respondError(c, err)
	}
	q := engine.Query{Filters: req.Filters, SortBy: req.SortBy, SortOrder: req.SortOrder}

	var buf bytes.Buffer
	n, err := h.Table().ExportArrow(&buf, q)
	if err != nil {
		return h.respondError(c, err)
	}
	c.Response().Header().Set("X-Row-Count", fmt.Sprint(n))
	return c.Stream(http.StatusOK, "application/vnd.apache.arrow.stream", &buf)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "ready": h.Table() != nil})
}

// decodeRecords reads an array of records, an object wrapping one under key,
// or, when single is set, one bare record.
func decodeRecords(body []byte, key string, single bool) ([]engine.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	switch body[0] {
	case '[':
		var records []engine.Record
		if err := gojson.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("invalid records: %w", err)
		}
		return records, nil
	case '{':
		var wrapper map[string]gojson.RawMessage
		if err := gojson.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("invalid body: %w", err)
		}
		if raw, found := wrapper[key]; found {
			raw = bytes.TrimSpace(raw)
			if len(raw) > 0 && raw[0] == '[' {
				var records []engine.Record
				if err := gojson.Unmarshal(raw, &records); err != nil {
					return nil, fmt.Errorf("invalid %s: %w", key, err)
				}
				return records, nil
			}
		}
		if !single {
			return nil, fmt.Errorf("expected an array or an object with %q", key)
		}
		var rec engine.Record
		if err := gojson.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("invalid record: %w", err)
		}
		return []engine.Record{rec}, nil
	}
	return nil, errors.New("expected a JSON object or array")
}

// withTimeout races a read against the request timeout. A late result is
// discarded; fn keeps running to completion, so it must not mutate the table.
func withTimeout[T any](h *Handler, c echo.Context, route string, fn func() (T, error)) (T, error) {
	if h.timeout <= 0 {
		return fn()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{zero, fmt.Errorf("%s panicked: %v", route, r)}
			}
		}()
		v, err := fn()
		done <- result{v, err}
	}()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		metrics.RequestTimeouts.WithLabelValues(route).Inc()
		h.log.Warn("engine call timed out", zap.String("route", route), zap.Duration("timeout", h.timeout))
		return zero, errTimeout
	case <-c.Request().Context().Done():
		return zero, c.Request().Context().Err()
	}
}

func (h *Handler) respondError(c echo.Context, err error) error {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, errTimeout):
		return fail(c, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &he):
		return fail(c, he.Code, fmt.Sprint(he.Message))
	case engine.IsKind(err, engine.KindNotFound):
		return fail(c, http.StatusNotFound, err.Error())
	case engine.IsKind(err, engine.KindSchema):
		return fail(c, http.StatusUnprocessableEntity, err.Error())
	case engine.IsKind(err, engine.KindValidation), engine.IsKind(err, engine.KindQuery):
		return fail(c, http.StatusBadRequest, err.Error())
	}
	h.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return fail(c, http.StatusInternalServerError, err.Error())
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, models.Envelope{Success: true, Data: data})
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, models.Envelope{Success: false, Error: msg})
}
