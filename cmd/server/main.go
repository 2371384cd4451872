package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync-server/internal/config"
	"fieldsync-server/internal/database"
	"fieldsync-server/internal/handler"
	"fieldsync-server/internal/lock"
	"fieldsync-server/internal/logger"
	"fieldsync-server/internal/middleware"
	"fieldsync-server/internal/repository"
	"fieldsync-server/internal/service"
	"fieldsync-server/internal/websocket"
	"fieldsync-server/pkg/jwt"

	"go.uber.org/zap"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	db, err := database.NewPostgresDB(cfg.Database)
	if err != nil {
		zlog.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	canonicalStore := repository.NewPostgresCanonicalStore(db, zlog)
	conflictRepo := repository.NewPostgresConflictRepository(db, zlog)
	auditRepo := repository.NewPostgresAuditRepository(db, zlog)

	var processedRepo repository.ProcessedEventRepository = repository.NewPostgresProcessedEventRepository(db, zlog)
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisClient(cfg.Redis)
		if err != nil {
			zlog.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		processedRepo = repository.NewRedisProcessedEventIndex(processedRepo, rdb, cfg.Redis.CacheTTL, zlog)
	}

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerTenant,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		zlog,
	)
	go wsManager.Run()

	notifier := websocket.NewNotifier(wsManager, zlog)
	locks := lock.NewKeyedMutex()

	syncService := service.NewSyncService(
		canonicalStore,
		conflictRepo,
		auditRepo,
		processedRepo,
		locks,
		notifier,
		cfg.Sync.StorageTimeout,
		zlog,
	)
	reviewService := service.NewReviewService(
		conflictRepo,
		canonicalStore,
		auditRepo,
		processedRepo,
		locks,
		notifier,
		zlog,
	)

	syncHandler := handler.NewSyncHandler(syncService, cfg.Sync.MaxBatchEvents)
	conflictHandler := handler.NewConflictHandler(reviewService)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret, zlog)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(zlog))
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	api.HandleFunc("/sync", syncHandler.Sync).Methods("POST", "OPTIONS")

	review := api.PathPrefix("").Subrouter()
	review.Use(middleware.RequireRole(jwt.RoleSupervisor))

	review.HandleFunc("/conflicts", conflictHandler.List).Methods("GET", "OPTIONS")
	review.HandleFunc("/conflicts/{id}", conflictHandler.Get).Methods("GET", "OPTIONS")
	review.HandleFunc("/conflicts/{id}/resolve", conflictHandler.Resolve).Methods("POST", "OPTIONS")
	review.HandleFunc("/conflicts/{id}/ignore", conflictHandler.Ignore).Methods("POST", "OPTIONS")
	review.HandleFunc("/audit", conflictHandler.ListAudit).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("starting fieldsync server",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Env),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Fatal("server forced to shutdown", zap.Error(err))
	}

	zlog.Info("server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"fieldsync-server"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"FieldSync Server API","version":"1.0.0","endpoints":{"/api/v1/sync":"POST (device)","/api/v1/conflicts":"GET (supervisor)","/api/v1/conflicts/{id}/resolve":"POST (supervisor)","/api/v1/audit":"GET (supervisor)"}}`))
}
