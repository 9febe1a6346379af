package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/config"
	"github.com/copyleftdev/postscry/internal/tasks"
)

type Server struct {
	httpServer  *http.Server
	cfg         *config.Config
	taskManager *tasks.Manager
	logger      *zap.Logger
}

func NewServer(cfg *config.Config, tm *tasks.Manager, sessions *browser.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      NewRouter(cfg, tm, sessions, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}

	return &Server{
		httpServer:  httpServer,
		cfg:         cfg,
		taskManager: tm,
		logger:      logger,
	}
}

// NewRouter builds the HTTP API. It is separate from NewServer so tests can
// drive it with httptest.
func NewRouter(cfg *config.Config, tm *tasks.Manager, sessions *browser.Manager, logger *zap.Logger) http.Handler {
	apiHandler := NewAPIHandler(tm, sessions, cfg.Tasks.BatchMaxItems, logger)
	router := chi.NewRouter()

	// --- Middleware Setup ---
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	router.Use(cors.Handler(corsOptions))

	// --- Route Definitions ---
	submitLimit := RateLimit(cfg.Server.RateLimitPerHour, cfg.Server.RateBurst)
	router.Route("/api/v1", func(r chi.Router) {
		if cfg.Security.ApiKey != "" {
			r.Use(APIKeyAuth(cfg.Security.ApiKey))
		}

		r.Get("/tasks", apiHandler.HandleListTasks)
		r.Get("/tasks/{taskID}", apiHandler.HandleGetTaskStatus)
		r.Get("/tasks/{taskID}/result", apiHandler.HandleGetTaskResult)
		r.Group(func(r chi.Router) {
			r.Use(submitLimit)
			r.Post("/tasks", apiHandler.HandleSubmitTask)
			r.Post("/tasks/json", apiHandler.HandleSubmitJSON)
			r.Post("/tasks/batch", apiHandler.HandleSubmitBatch)
		})
		r.Post("/preview", apiHandler.HandlePreview)

		r.Get("/session", apiHandler.HandleSessionInfo)
		r.Post("/session/ensure", apiHandler.HandleEnsureSession)
	})

	router.Get("/health", apiHandler.HandleHealth)
	router.Handle("/metrics", promhttp.Handler())

	return router
}

func (s *Server) Start() error {
	s.logger.Info("Starting postscry server", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("Server gracefully stopped.")
	return nil
}

// --- Custom Middleware ---

// RequestLogger logs one line per request with the chi request id.
func RequestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("HTTP request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// APIKeyAuth provides simple API Key authentication
func APIKeyAuth(validKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			// Allow pre-flight OPTIONS requests without auth
			if r.Method == "OPTIONS" {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := requestAPIKey(r)
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized: API key required")
				return
			}
			if apiKey != validKey {
				writeError(w, http.StatusForbidden, "Forbidden: Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// Authorization: Bearer works as an alternative
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
