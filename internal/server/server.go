package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/smartsavvy/internal/backup"
	"github.com/dukerupert/smartsavvy/internal/email"
	"github.com/dukerupert/smartsavvy/internal/handler"
	"github.com/dukerupert/smartsavvy/internal/metrics"
	"github.com/dukerupert/smartsavvy/internal/middleware"
	"github.com/dukerupert/smartsavvy/internal/stats"
	"github.com/dukerupert/smartsavvy/internal/store"
	"github.com/dukerupert/smartsavvy/internal/subscription"
	ws "github.com/dukerupert/smartsavvy/internal/websocket"
)

const defaultEventsPerMinute = 60

type Server struct {
	db          *sql.DB
	rdb         redis.Cmdable
	hub         *ws.Hub
	webhookH    *handler.WebhookHandler
	statsH      *handler.StatsHandler
	smartLinkH  *handler.SmartLinkHandler
	adminH      *handler.AdminHandler
	backupH     *handler.BackupHandler
	rateLimiter *middleware.RateLimiter
	metrics     *metrics.Metrics
	cfg         Config
	logger      *slog.Logger
}

type Config struct {
	Webhook        handler.WebhookConfig
	Catalog        *subscription.Catalog
	Clock          stats.Clock
	EmailClient    *email.Client
	AdminTokenHash string

	// Backup may be nil when snapshots are not configured.
	Backup *backup.Manager

	// OriginPatterns are passed to the websocket upgrader.
	OriginPatterns  []string
	EventsPerMinute int
}

func New(db *sql.DB, rdb redis.Cmdable, cfg Config, reg *prometheus.Registry, logger *slog.Logger) *Server {
	m := metrics.New(reg)
	hub := ws.NewHub(logger.With("component", "websocket"))

	subscriberStore := store.NewSubscriberStore(db)
	linkStore := store.NewLinkStore(db)
	appLogStore := store.NewAppLogStore(db)

	statsSvc := stats.NewService(rdb, cfg.Clock, logger.With("component", "stats"),
		stats.WithNotifier(hub.Publish),
		stats.WithMetrics(m),
	)
	subsSvc := subscription.NewService(subscriberStore, logger.With("component", "subscription"))

	var mailer handler.Mailer
	if cfg.EmailClient != nil {
		mailer = cfg.EmailClient
	}

	var backups handler.Backups
	if cfg.Backup != nil {
		backups = cfg.Backup
	}

	if cfg.EventsPerMinute <= 0 {
		cfg.EventsPerMinute = defaultEventsPerMinute
	}

	return &Server{
		db:  db,
		rdb: rdb,
		hub: hub,
		webhookH: handler.NewWebhookHandler(subsSvc, cfg.Catalog, mailer, appLogStore, cfg.Webhook, m,
			logger.With("component", "webhook")),
		statsH:      handler.NewStatsHandler(statsSvc, linkStore, logger.With("component", "stats")),
		smartLinkH:  handler.NewSmartLinkHandler(linkStore, statsSvc, logger.With("component", "smartlink")),
		adminH:      handler.NewAdminHandler(appLogStore, logger.With("component", "admin")),
		backupH:     handler.NewBackupHandler(backups, logger.With("component", "backup")),
		rateLimiter: middleware.NewRateLimiter(),
		metrics:     m,
		cfg:         cfg,
		logger:      logger,
	}
}

// RateLimiter returns the shared rate limiter for external cleanup scheduling.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Payment vendor callbacks
	mux.HandleFunc("POST /webhooks/copecart", s.webhookH.HandleCopeCart)
	mux.HandleFunc("POST /webhooks/digistore", s.webhookH.HandleDigistore)

	// SmartLinks and stats
	mux.HandleFunc("GET /s/{slug}", s.smartLinkH.Resolve)
	mux.Handle("POST /api/links/{id}/events", s.rateLimited("events", s.statsH.RecordEvent))
	mux.HandleFunc("GET /api/links/{id}/stats", s.statsH.LinkStats)
	mux.HandleFunc("GET /api/users/{id}/stats", s.statsH.UserStats)
	mux.Handle("POST /api/playlists/{id}/followers", s.rateLimited("followers", s.statsH.RecordFollowers))
	mux.HandleFunc("GET /api/playlists/{id}/stats", s.statsH.PlaylistStats)

	admin := middleware.RequireBearer(s.cfg.AdminTokenHash)
	mux.Handle("GET /api/admin/logs", admin(http.HandlerFunc(s.adminH.ListLogs)))
	mux.Handle("GET /api/admin/backup", admin(http.HandlerFunc(s.backupH.Status)))
	mux.Handle("POST /api/admin/backup", admin(http.HandlerFunc(s.backupH.Trigger)))

	mux.HandleFunc("GET /ws/stats", ws.HandleWebSocket(s.hub, s.cfg.OriginPatterns, s.logger.With("component", "websocket")))

	return middleware.RequestLogger(s.logger.With("component", "http"), s.metrics)(mux)
}

// healthHandler reports 200 as long as SQLite answers. A Redis outage only
// degrades stats, so it is reported but does not fail the check.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok", "database": "ok", "redis": "ok"}
	if err := s.db.PingContext(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["database"] = "down"
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		body["redis"] = "down"
		if status == http.StatusOK {
			body["status"] = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) rateLimited(scope string, h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.ByIP(scope), s.cfg.EventsPerMinute, time.Minute)(h)
}
