package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/slackersnooze/config"
	"github.com/mohammad-safakhou/slackersnooze/internal/helpers"
	"github.com/mohammad-safakhou/slackersnooze/internal/history"
	"github.com/mohammad-safakhou/slackersnooze/internal/ranking"
	"github.com/mohammad-safakhou/slackersnooze/internal/runtime"
	"github.com/mohammad-safakhou/slackersnooze/internal/snapshot"
)

// Deps are the collaborators of the request surface. Metrics, MetricsHandler and
// Health may be nil.
type Deps struct {
	Store          Store
	Aggregator     *history.Aggregator
	Engine         *ranking.Engine
	Snapshots      *snapshot.Holder
	Metrics        *runtime.Metrics
	MetricsHandler http.Handler
	Health         func(ctx context.Context) error
	Log            zerolog.Logger
}

// New builds the echo instance serving the feed, click redirects, health and metrics.
func New(cfg config.ServerConfig, pageSize int, deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = newRenderer()
	e.JSONSerializer = goJSONSerializer{}
	e.HTTPErrorHandler = errorHandler(deps.Log)

	e.Pre(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	if cfg.CanonicalWWW {
		e.Pre(middleware.WWWRedirectWithConfig(middleware.RedirectConfig{
			Skipper: func(c echo.Context) bool { return !helpers.IsApex(c.Request().Host) },
			Code:    http.StatusMovedPermanently,
		}))
	}
	e.Use(middleware.Recover())
	e.Use(requestLogger(deps.Log))

	h := &FeedHandler{
		store:    deps.Store,
		agg:      deps.Aggregator,
		engine:   deps.Engine,
		snaps:    deps.Snapshots,
		metrics:  deps.Metrics,
		cookie:   cfg,
		pageSize: pageSize,
		now:      time.Now,
	}
	h.Register(e)

	e.GET("/healthz", func(c echo.Context) error {
		snap := deps.Snapshots.Load()
		body := map[string]any{"status": "ok", "snapshot": snap.ID(), "docs": snap.Len()}
		if deps.Health != nil {
			if err := deps.Health(c.Request().Context()); err != nil {
				deps.Log.Warn().Err(err).Msg("health check failed")
				body["status"] = "degraded"
				return c.JSON(http.StatusServiceUnavailable, body)
			}
		}
		return c.JSON(http.StatusOK, body)
	})
	if deps.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(deps.MetricsHandler))
	}
	return e
}

// Run serves e on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string, log zerolog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errc <- e.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// errorHandler renders every error as {"error": msg} on /api routes and as plain
// text elsewhere, logging server-side failures with their internal cause.
func errorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
			if he.Internal != nil {
				err = he.Internal
			}
		}
		req := c.Request()
		ev := log.Debug()
		if code >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Err(err).
			Int("status", code).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("request failed")

		if c.Response().Committed {
			return
		}
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		if strings.HasPrefix(req.URL.Path, "/api/") {
			_ = c.JSON(code, map[string]string{"error": msg})
			return
		}
		_ = c.String(code, msg)
	}
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}
