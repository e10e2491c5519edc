package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application"
	"github.com/bryanwahyu/fin-analyzer/internal/application/analysis"
	appauth "github.com/bryanwahyu/fin-analyzer/internal/application/auth"
	appdocs "github.com/bryanwahyu/fin-analyzer/internal/application/documents"
	appmappings "github.com/bryanwahyu/fin-analyzer/internal/application/mappings"
	"github.com/bryanwahyu/fin-analyzer/internal/application/reaper"
	appreports "github.com/bryanwahyu/fin-analyzer/internal/application/reports"
	apptasks "github.com/bryanwahyu/fin-analyzer/internal/application/tasks"
	"github.com/bryanwahyu/fin-analyzer/internal/config"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/documents"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/mappings"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/taskerrors"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/ai/heuristic"
	openaiclient "github.com/bryanwahyu/fin-analyzer/internal/infra/ai/openai"
	creds "github.com/bryanwahyu/fin-analyzer/internal/infra/auth"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/migrations"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/mongostore"
	mysqlp "github.com/bryanwahyu/fin-analyzer/internal/infra/db/mysql"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/postgres"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/sqlite"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/extract"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/httpserver"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/queue"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/storage"
	"github.com/bryanwahyu/fin-analyzer/internal/logger"
	"github.com/bryanwahyu/fin-analyzer/internal/middleware"
)

// repos is the backend-neutral view of whichever store was opened.
type repos struct {
	Reports    reports.Repository
	Documents  documents.Repository
	Mappings   mappings.Repository
	Users      users.Repository
	Sessions   users.SessionRepository
	TaskErrors taskerrors.Repository

	health map[string]middleware.HealthChecker
	close  func(context.Context) error
}

func openStore(ctx context.Context, cfg *config.Config) (*repos, error) {
	if cfg.Database.Type == "mongodb" {
		s, err := mongostore.Connect(ctx, cfg.Database.MongoURI, cfg.Database.MongoDB)
		if err != nil {
			return nil, err
		}
		return &repos{
			Reports:    s.Reports,
			Documents:  s.Documents,
			Mappings:   s.Mappings,
			Users:      s.Users,
			Sessions:   s.Sessions,
			TaskErrors: s.TaskErrors,
			health:     map[string]middleware.HealthChecker{"mongodb": middleware.CheckFunc(s.Ping)},
			close:      s.Client.Disconnect,
		}, nil
	}

	var s *sqlstore.Store
	switch cfg.Database.Type {
	case "sqlite":
		db, err := sqlite.Connect(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := migrations.Up("sqlite", sqlite.DSN(cfg.Database.SQLitePath)); err != nil {
			db.Close()
			return nil, err
		}
		s = sqlstore.New(db)
	case "postgres":
		if err := migrations.Up("postgres", cfg.PostgresDSN()); err != nil {
			return nil, err
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		s = sqlstore.New(db)
	case "mysql":
		if err := migrations.Up("mysql", cfg.MySQLDSN()); err != nil {
			return nil, err
		}
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, err
		}
		s = sqlstore.New(db)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	return &repos{
		Reports:    s.Reports,
		Documents:  s.Documents,
		Mappings:   s.Mappings,
		Users:      s.Users,
		Sessions:   s.Sessions,
		TaskErrors: s.TaskErrors,
		health:     map[string]middleware.HealthChecker{"database": &middleware.DatabaseHealthChecker{DB: s.DB.DB}},
		close:      func(context.Context) error { return s.DB.Close() },
	}, nil
}

func openArtifacts(ctx context.Context, cfg *config.Config) (reports.ArtifactStore, error) {
	if cfg.Storage.Driver == "minio" {
		m, err := storage.NewMinio(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			return nil, fmt.Errorf("minio init: %w", err)
		}
		return m, nil
	}
	return storage.NewLocal(cfg.Storage.Root), nil
}

func newAI(cfg *config.Config, log logrus.FieldLogger) ai.Client {
	if cfg.AI.APIKey == "" {
		log.Warn("OPENAI_API_KEY not set, falling back to the offline heuristic analyzer")
		return heuristic.New()
	}
	return openaiclient.NewClient(openaiclient.Options{
		APIKey:            cfg.AI.APIKey,
		BaseURL:           cfg.AI.BaseURL,
		Model:             cfg.AI.Model,
		MaxTokens:         cfg.AI.MaxTokens,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
		Burst:             cfg.AI.Burst,
		MaxDocumentChars:  cfg.AI.MaxDocumentChars,
	})
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		logrus.Fatalf("logger init error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("%s connect error: %v", cfg.Database.Type, err)
	}
	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		log.Fatalf("artifact store init error: %v", err)
	}

	clock := application.SystemClock{}
	uploads := filepath.Join(cfg.Storage.Root, cfg.Storage.UploadsDir)

	lifecycle := &appreports.Lifecycle{Repo: store.Reports, Artifacts: artifacts, Clock: clock, Log: log}
	unit := &analysis.WorkUnit{
		Lifecycle: lifecycle,
		AI:        newAI(cfg, log),
		Extract:   extract.File,
		Errors:    store.TaskErrors,
		Clock:     clock,
		Log:       log,
	}

	pool := queue.New(queue.Options{
		Name:          "analysis",
		Concurrency:   cfg.Worker.Concurrency,
		QueueSize:     cfg.Worker.QueueSize,
		MaxRetries:    cfg.Worker.MaxRetries,
		RetryBackoff:  cfg.Worker.RetryBackoff,
		SoftTimeLimit: cfg.Worker.SoftTimeLimit,
		HardTimeLimit: cfg.Worker.HardTimeLimit,
		ResultTTL:     cfg.Worker.ResultTTL,
	}, log)
	for _, t := range reports.Types() {
		pool.Register(analysis.TaskName(t), unit)
	}
	pool.Start()

	authSvc := &appauth.Service{
		Users:    store.Users,
		Sessions: store.Sessions,
		Tokens:   creds.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL),
		Hasher:   creds.NewHasher(),
		Clock:    clock,
		Log:      log,
	}
	if err := authSvc.Bootstrap(ctx, appauth.RegisterCommand{
		Username: cfg.Auth.BootstrapAdmin.Username,
		Email:    cfg.Auth.BootstrapAdmin.Email,
		Password: cfg.Auth.BootstrapAdmin.Password,
	}); err != nil {
		log.Fatalf("bootstrap admin error: %v", err)
	}

	mappingSvc := &appmappings.Service{Repo: store.Mappings, Clock: clock, Log: log}
	tasksSvc := &apptasks.Service{
		Dispatcher: pool,
		Mappings:   store.Mappings,
		Reports:    store.Reports,
		Lifecycle:  lifecycle,
		TaskErrors: store.TaskErrors,
		Log:        log,
	}

	var sweeper *reaper.Reaper
	if cfg.Reaper.Enabled {
		sweeper = &reaper.Reaper{
			Reports:    store.Reports,
			Lifecycle:  lifecycle,
			Dispatcher: pool,
			Mappings:   mappingSvc,
			Sessions:   authSvc,
			Clock:      clock,
			Log:        log,
			Opts: reaper.Options{
				StaleSchedule:        cfg.Reaper.StaleSchedule,
				StaleAfter:           cfg.Reaper.StaleAfter,
				MappingSchedule:      cfg.Reaper.MappingSchedule,
				MappingRetentionDays: cfg.Reaper.MappingRetentionDays,
				SessionSchedule:      cfg.Reaper.SessionSchedule,
			},
		}
		// reports a crashed process left active past the lease
		if n, err := sweeper.SweepStale(ctx); err != nil {
			log.WithError(err).Warn("startup sweep failed")
		} else if n > 0 {
			log.WithField("failed", n).Info("startup sweep failed stale reports")
		}
		if err := sweeper.Start(); err != nil {
			log.Fatalf("reaper start error: %v", err)
		}
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	limiterStop := make(chan struct{})
	go limiter.Run(5*time.Minute, 10*time.Minute, limiterStop)

	handler := httpserver.NewRouter(httpserver.Deps{
		Name:     cfg.App.Name,
		Version:  cfg.App.Version,
		Database: cfg.Database.Type,
		Auth:     authSvc,
		Analysis: &analysis.Orchestrator{
			Lifecycle:  lifecycle,
			Dispatcher: pool,
			Mappings:   mappingSvc,
			Documents:  store.Documents,
			UploadDir:  uploads,
			Log:        log,
		},
		Reports: &appreports.Service{
			Repo:       store.Reports,
			Artifacts:  artifacts,
			Mappings:   store.Mappings,
			Dispatcher: pool,
			Clock:      clock,
			Log:        log,
		},
		Tasks:    tasksSvc,
		Mappings: mappingSvc,
		Documents: &appdocs.Service{
			Repo:       store.Documents,
			Dir:        filepath.Join(uploads, "documents"),
			MaxBytes:   cfg.Storage.MaxUploadMB << 20,
			Dispatcher: pool,
			Clock:      clock,
			Log:        log,
		},
		Health:         store.health,
		Readiness:      readiness(store.health, pool),
		Metrics:        middleware.NewMetrics(),
		Limiter:        limiter,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: cfg.Storage.MaxUploadMB << 20,
		Log:            log,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "database": cfg.Database.Type, "storage": cfg.Storage.Driver}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	log.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.WithError(err).Error("http shutdown error")
	}
	close(limiterStop)
	if sweeper != nil {
		sweeper.Stop(ctx2)
	}
	if err := pool.Shutdown(ctx2); err != nil {
		log.WithError(err).Error("task pool shutdown error")
	}
	if err := store.close(ctx2); err != nil {
		log.WithError(err).Error("store close error")
	}
}

// readiness is the store checks plus the worker pool.
func readiness(store map[string]middleware.HealthChecker, pool *queue.Pool) map[string]middleware.HealthChecker {
	out := map[string]middleware.HealthChecker{"worker_pool": middleware.CheckFunc(pool.Ready)}
	for name, c := range store {
		out[name] = c
	}
	return out
}
