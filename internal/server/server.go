package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"p2p-queue/internal/config"
	"p2p-queue/internal/domain"
	"p2p-queue/internal/handler"
	"p2p-queue/internal/matching"
	"p2p-queue/internal/metrics"
	"p2p-queue/internal/notify"
	"p2p-queue/internal/queue"
	"p2p-queue/internal/repository"
	"p2p-queue/internal/service"
)

// Server represents the HTTP server and the queue it fronts
type Server struct {
	router       *mux.Router
	server       *http.Server
	db           *sql.DB
	redis        *redis.Client
	dispatcher   *notify.Dispatcher
	queueService *service.QueueService
	logger       *slog.Logger
	port         string
}

// NewServer connects to Postgres, restores the queue working set and wires
// the HTTP routes. The queue actor is running when it returns.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	ctx := context.Background()

	// Initialize database connection
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test database connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Successfully connected to database")

	if err := repository.Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	// Durable side of the queue
	repoStore := repository.NewStore(db, logger)
	persister := repository.NewQueuePersister(repoStore)

	items, matches, err := persister.LoadWorkingSet(ctx, cfg.CleanupMaxAge)
	if err != nil {
		db.Close()
		return nil, err
	}

	queueStore := queue.NewStore(persister, queue.Options{PersistTimeout: cfg.PersistTimeout}, logger)
	queueStore.Restore(items, matches)

	// Metrics live on a per-server registry so tests can build several servers.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	queueMetrics := metrics.New(registry)

	// Notifications
	sinks := notify.Fanout{notify.NewLogNotifier(logger)}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		sinks = append(sinks, notify.NewRedisNotifier(redisClient, cfg.RedisChannel, logger))
		logger.Info("Publishing queue events to Redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.NotificationBuffer, logger)

	// Initialize services
	ledger := repoStore.Ledger()
	var balanceValidator domain.BalanceValidator
	if cfg.BalanceCheck {
		balanceValidator = service.NewLedgerBalanceValidator(ledger, logger)
	}

	settlement := service.NewSettlementExecutor(queueStore, ledger, dispatcher, queueMetrics, service.SettlementOptions{
		DebitWithdrawals: cfg.DebitWithdrawals,
		LedgerTimeout:    cfg.PersistTimeout,
	}, logger)
	stats := service.NewStatsReporter(queueStore, nil)

	queueService := service.NewQueueService(
		queueStore,
		matching.NewMatcher(),
		settlement,
		stats,
		balanceValidator,
		dispatcher,
		queueMetrics,
		service.Options{
			RescanInterval:  cfg.RescanInterval,
			CleanupInterval: cfg.CleanupInterval,
			CleanupMaxAge:   cfg.CleanupMaxAge,
			CommandBuffer:   cfg.CommandBuffer,
		},
		logger,
	)
	queueService.Start()

	// Initialize handlers
	queueHandler := handler.NewQueueHandler(queueService)
	balanceHandler := handler.NewBalanceHandler(service.NewBalanceService(ledger, logger))

	// Setup router
	router := mux.NewRouter()

	// Add middleware for logging
	router.Use(loggingMiddleware(logger))

	handler.RegisterRoutes(router, queueHandler, balanceHandler, cfg.AdminToken)

	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		// Check database connectivity in health check
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router:       router,
		db:           db,
		redis:        redisClient,
		dispatcher:   dispatcher,
		queueService: queueService,
		logger:       logger,
	}, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	// Get the actual port being used
	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains HTTP traffic, then stops the queue actor and notification
// worker before closing Redis and the database.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var shutdownErr error
	if s.server != nil {
		shutdownErr = s.server.Shutdown(ctx)
	}

	s.queueService.Stop()
	s.dispatcher.Stop()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("Failed to close Redis client", "error", err)
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	return shutdownErr
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// NewLogger builds the service logger. Tests run with ServerPort "0" and get
// a discard logger.
func NewLogger(cfg *config.Config) *slog.Logger {
	if cfg.ServerPort == "0" {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	logger := NewLogger(cfg)

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	// Start the server and get the actual port
	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		server.Stop(context.Background())
		return nil, "", err
	}

	return server, port, nil
}
