package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etherlabsio/healthcheck/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/welthee/qcaller/internal/announce"
	"github.com/welthee/qcaller/internal/announce/psql"
	"github.com/welthee/qcaller/internal/api"
	"github.com/welthee/qcaller/internal/config"
	"github.com/welthee/qcaller/internal/infra"
	"github.com/welthee/qcaller/internal/metrics"
	"github.com/welthee/qcaller/internal/queue"
)

const ShutDownTimeout = 30 * time.Second

const healthCheckTimeout = 5 * time.Second

func main() {
	log.Info().Msg("starting queue caller")

	cfg, err := config.NewConfigFromFile()
	if err != nil {
		log.Fatal().Err(err).Msg("can not read config")
	}

	config.ConfigureLogger(*cfg.Logger)

	healthCheckers := make(map[string]healthcheck.CheckerFunc)

	sinks, db, err := newSinks(cfg.Announcer)
	if err != nil {
		log.Fatal().Err(err).Msg("can not construct announcers")
	}
	if db != nil {
		defer func(db *sql.DB) {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("can not close db")
			}
		}(db)

		healthCheckers["database"] = infra.PostgresHealthcheckFn(db)
	}

	dispatcher := announce.NewDispatcher(announce.Options{
		Template: cfg.Announcer.Template,
		Lang:     cfg.Announcer.Lang,
		Timeout:  cfg.Announcer.Timeout,
	}, nil, sinks...)

	scheduler, err := queue.NewScheduler(cfg.Queue.Settings, nil, dispatcher)
	if err != nil {
		log.Fatal().Err(err).Msg("can not construct scheduler")
	}

	prometheus.MustRegister(metrics.NewCollector(scheduler))

	var journal announce.Journal
	if j, ok := dispatcher.Journal(); ok {
		journal = j
	}

	apiHandler, err := api.NewHandler(scheduler, journal, cfg.HTTP.Port)
	if err != nil {
		log.Fatal().Err(err).Msg("can not construct API")
	}

	go func() {
		if err := apiHandler.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("can not start API")
		}
		log.Info().Msg("API shut down")
	}()

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.HealthPort),
		Handler:           newHealthHandler(healthCheckers),
		ReadHeaderTimeout: healthCheckTimeout,
	}

	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("can not start healthcheck handler")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("stopping queue caller")

	ctx, cancel := context.WithTimeout(context.Background(), ShutDownTimeout)
	defer cancel()

	if err := apiHandler.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("error on graceful shutdown of API")
	}

	if err := healthServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error on graceful shutdown of healthcheck handler")
	}

	if err := dispatcher.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("announcements still in flight at shutdown")
	}

	log.Info().Msg("stopped queue caller")
}

func newSinks(cfg *config.AnnouncerConfig) ([]announce.Sink, *sql.DB, error) {
	var sinks []announce.Sink
	var db *sql.DB

	if cfg.Enabled(config.AnnouncerKindLog) {
		sinks = append(sinks, announce.NewLogSink(log.Logger))
	}

	if cfg.Enabled(config.AnnouncerKindPostgres) {
		var err error
		db, err = infra.NewPostgresClient(*cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}

		if err := infra.ExecutePostgresMigrations(db, *cfg.Postgres); err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		sinks = append(sinks, psql.NewSink(db))
	}

	return sinks, db, nil
}

func newHealthHandler(checkers map[string]healthcheck.CheckerFunc) http.Handler {
	var opts []healthcheck.Option
	for k, v := range checkers {
		opts = append(opts, healthcheck.WithChecker(k, v))
	}
	opts = append(opts, healthcheck.WithTimeout(healthCheckTimeout))

	return healthcheck.Handler(opts...)
}
