package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"fdp-index/api/router"
	"fdp-index/config"
	"fdp-index/internal/events"
	"fdp-index/internal/models"
	"fdp-index/internal/outbound"
	"fdp-index/internal/queue"
	"fdp-index/internal/ratelimit"
	"fdp-index/internal/retrieval"
	"fdp-index/internal/storage"
	"fdp-index/internal/webhooks"
	"fdp-index/internal/worker"
	"fdp-index/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	logger        *logger.Logger
	service       *events.Service
	pool          *worker.Pool
	mongo         *storage.MongoDB
	publisher     queue.Publisher
}

// stores groups the persistence layer selected by configuration
type stores struct {
	events   storage.EventLog
	entries  storage.EntryStore
	webhooks storage.WebhookStore
	tokens   storage.TokenStore
	mongo    *storage.MongoDB
}

func NewServer(cfg *config.Config, logger *logger.Logger) (*Server, error) {
	zl := logger.Desugar()

	st, err := openStores(cfg, zl)
	if err != nil {
		return nil, err
	}

	eventLog := st.events
	var publisher queue.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, zl)
		if err != nil {
			closeMongo(st.mongo, zl)
			return nil, fmt.Errorf("failed to create rabbitmq publisher: %w", err)
		}
		publisher = rabbit
		eventLog = queue.NewPublishingLog(eventLog, rabbit, zl)
	} else {
		zl.Info("RabbitMQ URL not configured, event feed disabled")
	}

	pool := worker.NewPool(cfg.Workers.Size, zl)
	client := outbound.NewClient(nil)

	dispatcher := webhooks.NewDispatcher(eventLog, st.webhooks, pool, client, cfg.Events.Retrieval.Timeout, zl)
	task := retrieval.NewTask(
		eventLog,
		st.entries,
		client,
		ratelimit.RetrievalPolicy{Wait: cfg.Events.Retrieval.RateLimitWait},
		cfg.Events.Retrieval.Timeout,
		dispatcher,
		zl,
	)
	pingPolicy := ratelimit.NewPingPolicy(eventLog, cfg.Events.Ping.RateLimitDuration, cfg.Events.Ping.RateLimitHits)
	service := events.NewService(eventLog, st.entries, pingPolicy, task, dispatcher, pool, zl)

	r := router.Setup(zl, router.Dependencies{
		Service: service,
		Entries: events.NewEntryQuery(st.entries, cfg.Events.Ping.ValidDuration),
		Tokens:  st.tokens,
	}, cfg)

	mux := http.NewServeMux()
	mux.Handle(cfg.Monitoring.MetricsPath, promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: r,
		},
		metricsServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: mux,
		},
		logger:    logger,
		service:   service,
		pool:      pool,
		mongo:     st.mongo,
		publisher: publisher,
	}, nil
}

func openStores(cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("Using in-memory storage, data is lost on restart")
		var tokens []*models.Token
		if cfg.Security.AdminToken != "" {
			tokens = append(tokens, &models.Token{Name: "admin", Token: cfg.Security.AdminToken, Roles: []string{models.RoleAdmin}})
		}
		return &stores{
			events:   storage.NewMemoryEventLog(),
			entries:  storage.NewMemoryEntryStore(),
			webhooks: storage.NewMemoryWebhookStore(),
			tokens:   storage.NewMemoryTokenStore(tokens...),
		}, nil
	}

	db, err := storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	return &stores{
		events:   db.Events(),
		entries:  db.Entries(),
		webhooks: db.Webhooks(),
		tokens:   db.Tokens(),
		mongo:    db,
	}, nil
}

// Start resumes unfinished events and serves HTTP until Shutdown
func (s *Server) Start() error {
	if err := s.service.StartRecovery(); err != nil {
		s.logger.Errorf("failed to schedule recovery: %v", err)
	}

	go func() {
		s.logger.Info("Metrics server starting on port " + s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("metrics server error: %v", err)
		}
	}()

	s.logger.Info("Server starting on " + s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, lets running tasks finish within ctx and
// closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Server shutting down")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics server: %w", err))
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("failed to close publisher", zap.Error(err))
		}
	}
	closeMongo(s.mongo, s.logger.Desugar())
	return errors.Join(errs...)
}

func closeMongo(db *storage.MongoDB, logger *zap.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(context.Background()); err != nil {
		logger.Error("failed to close mongodb", zap.Error(err))
	}
}
