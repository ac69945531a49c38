package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/twmb/franz-go/pkg/kgo"

	docstore "fiscaldoc/internal/document/store"
	dupmetrics "fiscaldoc/internal/duplicate/metrics"
	dupservice "fiscaldoc/internal/duplicate/service"
	ingesthandler "fiscaldoc/internal/ingestion/handler"
	ingestmetrics "fiscaldoc/internal/ingestion/metrics"
	"fiscaldoc/internal/ingestion/publisher"
	ingestservice "fiscaldoc/internal/ingestion/service"
	"fiscaldoc/internal/platform/config"
	"fiscaldoc/internal/platform/kafka"
	"fiscaldoc/internal/platform/metrics"
	"fiscaldoc/internal/platform/middleware"
	"fiscaldoc/internal/platform/postgres"
	"fiscaldoc/internal/platform/redis"
	seqmetrics "fiscaldoc/internal/sequence/metrics"
	seqservice "fiscaldoc/internal/sequence/service"
	seqstore "fiscaldoc/internal/sequence/store"
	"fiscaldoc/internal/verification/client"
	vmetrics "fiscaldoc/internal/verification/metrics"
	vservice "fiscaldoc/internal/verification/service"
	vstore "fiscaldoc/internal/verification/store"
	"fiscaldoc/pkg/platform/circuit"
	"fiscaldoc/pkg/platform/httputil"
	"fiscaldoc/pkg/platform/middleware/metadata"
	"fiscaldoc/pkg/platform/middleware/requesttime"
)

const healthCheckTimeout = 2 * time.Second

// app owns the process-wide resources and the HTTP router.
type app struct {
	db     *sql.DB
	redis  *redis.Client
	kafka  *kgo.Client
	router http.Handler
	log    *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var err error
	if a.db, err = postgres.Open(ctx, cfg.Postgres); err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, a.db); err != nil {
		return nil, err
	}
	if a.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if a.kafka, err = kafka.NewClient(cfg.Kafka); err != nil {
		return nil, err
	}
	if a.kafka != nil {
		if err := kafka.EnsureTopic(ctx, a.kafka, cfg.Kafka); err != nil {
			return nil, err
		}
	}

	orchestrator, err := a.buildOrchestrator(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.SetBuildInfo(version)
	a.router = a.routes(cfg, m, orchestrator)

	ok = true
	return a, nil
}

func (a *app) buildOrchestrator(cfg *config.Config) (*ingestservice.Orchestrator, error) {
	issuer := seqservice.New(
		seqstore.NewPostgres(a.db, cfg.Sequence.TxTimeout),
		seqservice.Config{
			Base:               cfg.Sequence.Base,
			MaxConflictRetries: cfg.Sequence.MaxConflictRetries,
			ConflictBackoff:    cfg.Sequence.ConflictBackoff,
		},
		seqservice.WithLogger(a.log),
		seqservice.WithMetrics(seqmetrics.New()),
	)

	documents := docstore.NewPostgres(a.db)
	detector := dupservice.New(documents,
		dupservice.WithLogger(a.log),
		dupservice.WithMetrics(dupmetrics.New()),
	)

	registry, err := client.New(client.Config{
		BaseURL:       cfg.Registry.BaseURL,
		Token:         cfg.Registry.Token,
		ConsultantID:  cfg.Registry.ConsultantID,
		RatePerSecond: cfg.Registry.RatePerSecond,
		Burst:         cfg.Registry.Burst,
	},
		client.WithLogger(a.log),
		client.WithBreaker(circuit.New("registry",
			circuit.WithFailureThreshold(cfg.Registry.BreakerFailures),
			circuit.WithSuccessThreshold(cfg.Registry.BreakerSuccesses),
			circuit.WithOpenTimeout(cfg.Registry.BreakerOpenFor),
		)),
	)
	if err != nil {
		return nil, err
	}
	variations, err := vservice.ResolveVariations(cfg.Registry.Variations)
	if err != nil {
		return nil, err
	}

	vm := vmetrics.New()
	var cache vservice.Cache = vstore.NewInMemoryCache(cfg.Registry.CacheTTL, vm)
	if a.redis != nil {
		cache = vstore.NewRedisCache(a.redis.Client, cfg.Registry.CacheTTL, vm)
	}
	validator := vservice.New(registry, vservice.Config{
		MaxAttempts:      cfg.Registry.MaxAttempts,
		TransportRetries: cfg.Registry.TransportRetries,
		TransportBackoff: cfg.Registry.TransportBackoff,
		AttemptTimeout:   cfg.Registry.AttemptTimeout,
		TotalBudget:      cfg.Registry.TotalBudget,
		Variations:       variations,
	},
		vservice.WithLogger(a.log),
		vservice.WithMetrics(vm),
		vservice.WithCache(cache),
	)

	opts := []ingestservice.Option{
		ingestservice.WithLogger(a.log),
		ingestservice.WithMetrics(ingestmetrics.New()),
	}
	if a.kafka != nil {
		opts = append(opts, ingestservice.WithPublisher(publisher.New(a.kafka, cfg.Kafka.Topic)))
	} else {
		a.log.Info("no kafka brokers configured, finalized documents are not published")
	}

	return ingestservice.New(documents, issuer, detector, validator, ingestservice.Config{
		RequiredTypes:    cfg.Sequence.RequiredTypes,
		BatchConcurrency: cfg.Ingestion.BatchConcurrency,
		MaxBatchSize:     cfg.Ingestion.MaxBatchSize,
		FinalizeTimeout:  cfg.Ingestion.FinalizeTimeout,
	}, opts...), nil
}

func (a *app) routes(cfg *config.Config, m *metrics.Metrics, svc ingesthandler.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metadata.RequestMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.AccessLog(a.log, m))

	checks := map[string]func(context.Context) error{
		"postgres": a.db.PingContext,
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	r.Get("/healthz", healthHandler(checks))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Server.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		}
		ingesthandler.New(svc, a.log).Register(r)
	})
	return r
}

// healthHandler pings every dependency and answers 503 naming the ones that
// failed.
func healthHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := map[string]string{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = fmt.Sprintf("down: %v", err)
				healthy = false
				continue
			}
			status[name] = "up"
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, status)
	}
}

func (a *app) close() {
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("closing redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("closing postgres", "error", err)
		}
	}
}
