// Package server exposes the transcript library over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tubewise/tubewise/config"
	"github.com/tubewise/tubewise/internal/ingest"
	"github.com/tubewise/tubewise/internal/provider"
	"github.com/tubewise/tubewise/internal/responder"
	"github.com/tubewise/tubewise/internal/store"
	"github.com/tubewise/tubewise/internal/youtube"
)

// Run wires dependencies, applies migrations and serves until the listener
// fails.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}

	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	}

	llm := provider.NewClient(cfg.OpenAI)
	yt := youtube.NewService(cfg.Ingest.YtdlpPath)
	ingestLogger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	coordinator := ingest.NewCoordinator(cfg.Ingest, yt, llm, st, rdb, ingestLogger)
	resp := responder.New(cfg.Chat, st, llm)

	api := e.Group("/api")
	(&ChannelsHandler{Store: st, YouTube: yt}).Register(api.Group("/channels"))
	(&VideosHandler{Store: st, YouTube: yt, Coordinator: coordinator}).Register(api.Group("/videos"))
	(&ChatHandler{Store: st, Responder: resp}).Register(api.Group("/chat"))

	if cfg.Refresh.Enabled {
		refresher := &Refresher{
			Store:    st,
			YouTube:  yt,
			Rdb:      rdb,
			CronSpec: cfg.Refresh.CronSpec,
			Logger:   log.New(log.Writer(), "[REFRESH] ", log.LstdFlags),
			Stop:     make(chan struct{}),
		}
		refresher.Start()
		defer close(refresher.Stop)
	}

	return e.Start(cfg.General.Listen)
}
