package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/application/access"
	"github.com/Eastern-Research-Group/csb-data-system/internal/application/submission"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/audit"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/bap"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/cache"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/config"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/formio"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/logger"
	"github.com/Eastern-Research-Group/csb-data-system/internal/interfaces/http/handler"
	"github.com/Eastern-Research-Group/csb-data-system/internal/interfaces/http/middleware"
	"github.com/Eastern-Research-Group/csb-data-system/internal/interfaces/http/router"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting CSB data system",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Seed field mappings are static data; refuse to boot on a bad table.
	if err := rebate.ValidateSeedMappings(validator.New()); err != nil {
		log.Fatal("Invalid seed field mappings", zap.Error(err))
	}

	// Shared cache, with in-memory fallback when Redis is unreachable
	store := cache.NewStore(cfg.Redis, log)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing cache store", zap.Error(err))
		}
	}()

	// Denial audit trail. The portal keeps serving without it; denials
	// are still logged.
	var recorder access.DenialRecorder
	var auditStore *audit.Store
	if db, err := audit.NewDatabase(&cfg.Database); err != nil {
		log.Error("Audit database unavailable, denial records disabled", zap.Error(err))
	} else {
		auditStore, err = audit.NewStore(db, log)
		if err != nil {
			log.Error("Audit store setup failed, denial records disabled", zap.Error(err))
		} else {
			recorder = auditStore
		}
	}

	// Upstream clients
	bapConn := bap.NewConnection(cfg.BAP, log)
	bapClient := bap.NewClient(bapConn, store, log)
	formStore := formio.NewClient(cfg.Formio, log)

	// Application services
	authorizer := access.NewAuthorizer(bapClient, store, recorder, log)
	submissionService := submission.NewService(cfg, bapClient, formStore, authorizer, log)

	// HTTP server
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxy configuration", zap.Error(err))
	}
	engine.Use(
		middleware.RequestID(),
		middleware.CORS(cfg.HTTP),
		logger.GinMiddleware(log),
		logger.Recovery(log),
	)

	router.NewRouter(engine, router.WithAuth(middleware.SessionAuth(cfg.JWT, log))).
		Public(handler.NewHealthHandler(cfg.App.Name, cfg.App.Env)).
		Protected(
			handler.NewSubmissionHandler(submissionService),
			handler.NewBAPHandler(submissionService),
		).
		Setup()

	server := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	log.Info("HTTP server listening", zap.String("addr", server.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
	if auditStore != nil {
		if err := auditStore.Close(ctx); err != nil {
			log.Error("Audit store drain incomplete", zap.Error(err))
		}
	}
	log.Info("Server stopped")
}
