package httpserver

import (
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/keystone/internal/config"
)

// Server holds the HTTP server dependencies. Domain routers (gateway, admin)
// are mounted on Router by the caller after construction.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// NewServer creates an HTTP server with global middleware and the
// unauthenticated health/readiness/metrics endpoints mounted.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	// Global middleware
	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (unauthenticated, excluded from usage logging).
	s.Router.Get("/health", s.handleReadyz)
	s.Router.Get("/healthz", s.handleHealth)
	s.Router.Get("/readyz", s.handleReadyz)

	// Prometheus metrics (unauthenticated).
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// handleHealth is a liveness probe: it never touches Postgres or Redis.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyResponse mirrors the gatekeeper's own health endpoint, reporting each
// dependency independently rather than collapsing to a single boolean.
type readyResponse struct {
	Status          string  `json:"status"`
	Postgres        string  `json:"postgres"`
	PostgresLatency float64 `json:"postgres_latency_ms"`
	Redis           string  `json:"redis"`
	RedisLatency    float64 `json:"redis_latency_ms"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := readyResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	ready := true

	dbStart := time.Now()
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: postgres ping failed", "error", err)
		resp.Postgres = "error"
		ready = false
	} else {
		resp.Postgres = "ok"
	}
	resp.PostgresLatency = roundMs(time.Since(dbStart))

	redisStart := time.Now()
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		resp.Redis = "error"
		ready = false
	} else {
		resp.Redis = "ok"
	}
	resp.RedisLatency = roundMs(time.Since(redisStart))

	if !ready {
		resp.Status = "error"
		Respond(w, http.StatusServiceUnavailable, resp)
		return
	}

	Respond(w, http.StatusOK, resp)
}

func roundMs(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
