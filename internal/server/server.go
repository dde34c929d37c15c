package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/backup"
	"github.com/dukerupert/choreboard/internal/chore"
	"github.com/dukerupert/choreboard/internal/dashboard"
	"github.com/dukerupert/choreboard/internal/email"
	"github.com/dukerupert/choreboard/internal/family"
	"github.com/dukerupert/choreboard/internal/handler"
	"github.com/dukerupert/choreboard/internal/ledger"
	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/middleware"
	"github.com/dukerupert/choreboard/internal/notify"
	"github.com/dukerupert/choreboard/internal/push"
	"github.com/dukerupert/choreboard/internal/reward"
	"github.com/dukerupert/choreboard/internal/store"
	ws "github.com/dukerupert/choreboard/internal/websocket"
)

// PIN guesses allowed per device and child per window.
const (
	pinAttempts = 5
	pinWindow   = time.Minute
)

// Config wires the server. Push, Email and Backup are optional; nil
// disables them.
type Config struct {
	Issuer         *auth.Issuer
	Metrics        *metrics.Metrics
	Location       *time.Location
	WeekStart      time.Weekday
	DefaultPoints  int
	Push           *push.Service
	Email          *email.Client
	Backup         *backup.Manager
	BaseURL        string
	AllowedOrigins []string
	// TrustProxy keys rate limits on forwarding headers instead of the
	// connection address.
	TrustProxy bool
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	issuer      *auth.Issuer
	metrics     *metrics.Metrics
	familyH     *handler.FamilyHandler
	choreH      *handler.ChoreHandler
	rewardH     *handler.RewardHandler
	ledgerH     *handler.LedgerHandler
	pushH       *handler.PushHandler
	backupH     *handler.BackupHandler
	pushNotify  *push.Notifier
	emailNotify *email.Notifier
	rateLimiter *middleware.RateLimiter
	origins     []string
	clientIP    func(*http.Request) string
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger)
	notifiers := notify.Multi{hub}

	pushStore := store.NewPushStore(db)
	var pushNotify *push.Notifier
	var pushH *handler.PushHandler
	if cfg.Push != nil {
		pushNotify = push.NewNotifier(cfg.Push, pushStore, logger)
		notifiers = append(notifiers, pushNotify)
		pushH = handler.NewPushHandler(pushStore, cfg.Push.VAPIDPublicKey(), logger.With("component", "push_handler"))
	}

	var emailNotify *email.Notifier
	if cfg.Email != nil {
		emailNotify = email.NewNotifier(cfg.Email, store.NewFamilyStore(db), cfg.BaseURL, logger)
		notifiers = append(notifiers, emailNotify)
	}

	var backupH *handler.BackupHandler
	if cfg.Backup != nil {
		backupH = handler.NewBackupHandler(cfg.Backup, logger.With("component", "backup_handler"))
	}

	l := ledger.New(db, notifiers, cfg.Metrics, logger)
	agg := dashboard.New(db, cfg.Location, cfg.WeekStart)
	chores := chore.New(db, l, agg, notifiers, cfg.Metrics, logger, chore.Config{
		Location:      cfg.Location,
		DefaultPoints: cfg.DefaultPoints,
	})
	rewards := reward.New(db, l, notifiers, cfg.Metrics, logger)
	families := family.New(db, cfg.Issuer, notifiers, logger)

	return &Server{
		db:          db,
		hub:         hub,
		issuer:      cfg.Issuer,
		metrics:     cfg.Metrics,
		familyH:     handler.NewFamilyHandler(families, logger.With("component", "family_handler")),
		choreH:      handler.NewChoreHandler(chores, logger.With("component", "chore_handler")),
		rewardH:     handler.NewRewardHandler(rewards, logger.With("component", "reward_handler")),
		ledgerH:     handler.NewLedgerHandler(l, logger.With("component", "ledger_handler")),
		pushH:       pushH,
		backupH:     backupH,
		pushNotify:  pushNotify,
		emailNotify: emailNotify,
		rateLimiter: middleware.NewRateLimiter(),
		origins:     cfg.AllowedOrigins,
		clientIP:    middleware.ClientIP(cfg.TrustProxy),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Drain waits for queued push and email deliveries, or until ctx is done.
func (s *Server) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		if s.pushNotify != nil {
			s.pushNotify.Wait()
		}
		if s.emailNotify != nil {
			s.emailNotify.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("notifications still pending at shutdown")
	}
}

// Router registers every route on one mux so the request logger sees the
// matched pattern.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	requireAuth := middleware.RequireAuth(s.issuer)
	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, requireAuth(h))
	}

	// Family, children and PINs
	api("GET /api/family", s.familyH.Family)
	api("PUT /api/family", s.familyH.UpdateSettings)
	api("GET /api/children", s.familyH.List)
	api("POST /api/children", s.familyH.Create)
	api("PUT /api/children/{id}", s.familyH.Update)
	api("DELETE /api/children/{id}", s.familyH.Delete)
	api("POST /api/children/{id}/pin", s.familyH.SetPIN)
	api("DELETE /api/children/{id}/pin", s.familyH.ClearPIN)
	api("POST /api/children/{id}/pin/verify", s.rateLimited(s.familyH.VerifyPIN))

	// Chores, assignments, completions
	api("GET /api/chores", s.choreH.List)
	api("POST /api/chores", s.choreH.Create)
	api("PUT /api/chores/{id}", s.choreH.Update)
	api("DELETE /api/chores/{id}", s.choreH.Delete)
	api("POST /api/chores/{id}/assignments", s.choreH.Assign)
	api("GET /api/children/{id}/assignments", s.choreH.ChildAssignments)
	api("GET /api/children/{id}/assignments/today", s.choreH.TodayAssignments)
	api("POST /api/assignments/{id}/completions", s.choreH.Submit)
	api("GET /api/assignments/{id}/completions", s.choreH.AssignmentCompletions)
	api("GET /api/completions/pending", s.choreH.Pending)
	api("GET /api/children/{id}/completions", s.choreH.ChildCompletions)
	api("POST /api/completions/{id}/approve", s.choreH.Approve)
	api("POST /api/completions/{id}/reject", s.choreH.Reject)

	// Rewards and redemptions
	api("GET /api/rewards", s.rewardH.List)
	api("POST /api/rewards", s.rewardH.Create)
	api("PUT /api/rewards/{id}", s.rewardH.Update)
	api("DELETE /api/rewards/{id}", s.rewardH.Delete)
	api("POST /api/rewards/{id}/redemptions", s.rewardH.Request)
	api("GET /api/redemptions/pending", s.rewardH.Pending)
	api("GET /api/children/{id}/redemptions", s.rewardH.ChildRedemptions)
	api("POST /api/redemptions/{id}/approve", s.rewardH.Approve)
	api("POST /api/redemptions/{id}/reject", s.rewardH.Reject)
	api("POST /api/redemptions/{id}/fulfill", s.rewardH.Fulfill)

	// Ledger
	api("GET /api/children/{id}/balance", s.ledgerH.Balance)
	api("GET /api/children/{id}/ledger", s.ledgerH.History)
	api("POST /api/children/{id}/adjustments", s.ledgerH.Adjust)
	api("GET /api/leaderboard", s.ledgerH.Leaderboard)

	api("GET /api/dashboard", s.choreH.Dashboard)

	// Push notification routes
	if s.pushH != nil {
		api("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		api("POST /api/push/subscriptions", s.pushH.Subscribe)
		api("DELETE /api/push/subscriptions", s.pushH.Unsubscribe)
	}

	if s.backupH != nil {
		parentOnly := func(h http.HandlerFunc) http.Handler { return requireAuth(middleware.RequireParent(h)) }
		mux.Handle("GET /api/backups", parentOnly(s.backupH.List))
		mux.Handle("POST /api/backups", parentOnly(s.backupH.Run))
	}

	// WebSocket
	api("GET /ws", ws.HandleWebSocket(s.hub, s.origins))

	return middleware.RequestLogger(s.logger.With("component", "http"), s.metrics, s.clientIP)(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.hub.ClientCount()})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.PathKey(s.clientIP), pinAttempts, pinWindow)
	return rl(h).ServeHTTP
}
