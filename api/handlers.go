package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"todolist/domain"
	"todolist/storage"
)

const addTaskMaxSize = 64 << 10

// Option customizes Register.
type Option func(*options)

type options struct {
	legacy    bool
	cache     Pinger
	staticDir string
}

// WithLegacyErrors answers every CRUD request with status 200, reporting
// failures only through the error body.
func WithLegacyErrors(enabled bool) Option {
	return func(o *options) { o.legacy = enabled }
}

// WithCache adds the cache state to the health report.
func WithCache(p Pinger) Option {
	return func(o *options) { o.cache = p }
}

// WithStaticDir serves files from dir for unrouted GET requests, falling
// back to dir/index.html.
func WithStaticDir(dir string) Option {
	return func(o *options) { o.staticDir = dir }
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, conn ConnectionState, logger *log.Logger, opts ...Option) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	resp := responder{legacy: o.legacy}

	e.GET("/get", listTasks(store, resp, logger))
	e.POST("/add", addTask(store, resp, logger))
	e.PUT("/update/:id", markDone(store, resp, logger))
	e.DELETE("/delete/:id", deleteTask(store, resp, logger))
	e.GET("/health", health(conn, o.cache))

	if o.staticDir != "" {
		e.GET("/*", routeNotFound, middleware.StaticWithConfig(middleware.StaticConfig{
			Root:  o.staticDir,
			Index: "index.html",
			HTML5: true,
		}))
	}
}

func routeNotFound(echo.Context) error {
	return echo.ErrNotFound
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache,omitempty"`
}

func health(conn ConnectionState, cache Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		state := conn.State()
		resp := healthResponse{Status: "unhealthy", Database: state.String()}
		status := http.StatusServiceUnavailable
		if state == storage.StateConnected {
			resp.Status = "healthy"
			status = http.StatusOK
		}
		if cache != nil {
			resp.Cache = "up"
			if err := cache.Ping(c.Request().Context()); err != nil {
				resp.Cache = "down"
			}
		}
		return c.JSON(status, resp)
	}
}

func listTasks(store Storage, resp responder, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, "list", "/get")
		c.SetRequest(c.Request().WithContext(ctx))
		var opErr error
		defer func() {
			metrics.Log(c.Response().Status, errors.Join(opErr, err))
		}()

		start := time.Now()
		tasks, opErr := store.List(ctx)
		metrics.ObserveStorage(time.Since(start))
		if opErr != nil {
			metrics.SetErrorStage("storage")
			return resp.fail(c, opErr)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		metrics.SetTasksReturned(len(tasks))
		if err = c.JSON(http.StatusOK, tasks); err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

type addTaskRequest struct {
	Task *string `json:"task"`
}

func addTask(store Storage, resp responder, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, "add", "/add")
		c.SetRequest(c.Request().WithContext(ctx))
		var opErr error
		defer func() {
			metrics.Log(c.Response().Status, errors.Join(opErr, err))
		}()

		var req addTaskRequest
		if body := c.Request().Body; body != nil {
			dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, addTaskMaxSize))
			if decErr := dec.Decode(&req); decErr != nil && !(resp.legacy && errors.Is(decErr, io.EOF)) {
				metrics.SetErrorStage("decode")
				return resp.invalidBody(c, "invalid body")
			}
		}
		if req.Task == nil && !resp.legacy {
			metrics.SetErrorStage("validate")
			return resp.invalidBody(c, "task is required")
		}
		var text string
		if req.Task != nil {
			text = *req.Task
		}

		start := time.Now()
		task, opErr := store.Add(ctx, text)
		metrics.ObserveStorage(time.Since(start))
		if opErr != nil {
			metrics.SetErrorStage("storage")
			return resp.fail(c, opErr)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func markDone(store Storage, resp responder, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, "markDone", "/update/:id")
		c.SetRequest(c.Request().WithContext(ctx))
		var opErr error
		defer func() {
			metrics.Log(c.Response().Status, errors.Join(opErr, err))
		}()

		start := time.Now()
		ack, opErr := store.MarkDone(ctx, c.Param("id"))
		metrics.ObserveStorage(time.Since(start))
		if opErr != nil {
			metrics.SetErrorStage("storage")
			return resp.fail(c, opErr)
		}
		if ack.MatchedCount == 0 {
			metrics.SetErrorStage("not_found")
			return resp.ok(c, http.StatusNotFound, ack)
		}
		return c.JSON(http.StatusOK, ack)
	}
}

func deleteTask(store Storage, resp responder, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, "delete", "/delete/:id")
		c.SetRequest(c.Request().WithContext(ctx))
		var opErr error
		defer func() {
			metrics.Log(c.Response().Status, errors.Join(opErr, err))
		}()

		start := time.Now()
		task, opErr := store.Delete(ctx, c.Param("id"))
		metrics.ObserveStorage(time.Since(start))
		if opErr != nil {
			metrics.SetErrorStage("storage")
			return resp.fail(c, opErr)
		}
		// A missing task is not an error; the body is null.
		return c.JSON(http.StatusOK, task)
	}
}
