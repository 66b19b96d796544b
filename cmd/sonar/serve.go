package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/pysugar/go-sonar/internal/db"
	"github.com/pysugar/go-sonar/internal/logging"
	"github.com/pysugar/go-sonar/internal/metrics"
	"github.com/pysugar/go-sonar/internal/panel"
	"github.com/pysugar/go-sonar/internal/sonar/middleware"
	"github.com/pysugar/go-sonar/internal/sonar/querylog"
	"github.com/pysugar/go-sonar/internal/store"
)

const (
	panelPrefix   = "/sonar"
	metricsPath   = "/metrics"
	shutdownGrace = 10 * time.Second
)

var ServeCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Run the demo application with capture enabled and the panel API",
	Action: Serve,
	Flags: flags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "Listen address, overrides the config file",
				Destination: &serveOpts.addr,
			},
		},
	),
}

var serveOpts struct {
	addr string
}

func Serve(cc *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if serveOpts.addr != "" {
		cfg.Addr = serveOpts.addr
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	gdb, err := db.InitDB(cfg.Database, querylog.Plugin{})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := gdb.AutoMigrate(&Note{}); err != nil {
		return fmt.Errorf("migrate demo tables: %w", err)
	}
	st := store.New(gdb, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	capture, err := metrics.NewCapture(registry)
	if err != nil {
		return err
	}

	middlewares := cfg.Middlewares
	if len(middlewares) == 0 {
		middlewares = []string{"logging.RequestID", "middleware.Recoverer", "sonar.Recorder", "demo.User"}
	}

	r := chi.NewRouter()
	recorder := middleware.New(middleware.Options{
		Store:           st,
		Excludes:        append([]string{panelPrefix + "/", metricsPath}, cfg.Excludes...),
		SensitiveFields: cfg.SensitiveFields,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		Middlewares:     middlewares,
		Session:         demoSession,
		Resolver:        middleware.NewChiResolver(r),
		Logger:          logger,
		LogLevel:        level,
		Metrics:         capture,
	})
	r.Use(logging.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(recorder.Handler)
	r.Use(demoUser)

	mountDemo(r, gdb)
	r.Mount(panelPrefix, panel.Routes(st, cfg.AdminPassword))
	r.Handle(metricsPath, metrics.Handler(registry))

	if cfg.Retention > 0 {
		retention, err := store.NewRetention(st, cfg.Retention, cfg.RetentionSchedule)
		if err != nil {
			return err
		}
		retention.Start()
		defer retention.Stop()
		logger.Info("retention enabled",
			zap.Duration("max_age", cfg.Retention), zap.String("schedule", cfg.RetentionSchedule))
	}

	ctx, stop := signal.NotifyContext(cc.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	errc := make(chan error, 1)
	go func() {
		logger.Info("sonar listening",
			zap.String("addr", cfg.Addr),
			zap.String("panel", "http://"+cfg.Addr+panelPrefix+"/requests"))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
