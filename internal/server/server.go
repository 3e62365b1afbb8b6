package server

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukerupert/ideacapture/internal/auth"
	"github.com/dukerupert/ideacapture/internal/billing"
	billingstripe "github.com/dukerupert/ideacapture/internal/billing/stripe"
	"github.com/dukerupert/ideacapture/internal/handler"
	"github.com/dukerupert/ideacapture/internal/metrics"
	"github.com/dukerupert/ideacapture/internal/middleware"
	"github.com/dukerupert/ideacapture/internal/quota"
	"github.com/dukerupert/ideacapture/internal/store"
)

type Config struct {
	Stripe          billingstripe.Config
	JWTSecret       string
	JWTIssuer       string
	CORSAllowOrigin string
}

type Server struct {
	db            *sql.DB
	logger        *slog.Logger
	metrics       *metrics.Metrics
	verifier      *auth.Verifier
	sessionLimit  *middleware.Limiter
	corsOrigin    string
	snapshots     *store.SnapshotStore
	subscriptionH *handler.SubscriptionHandler
	settingsH     *handler.SettingsHandler
	webhookH      *handler.WebhookHandler
	checkoutH     *handler.CheckoutHandler
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) (*Server, error) {
	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("auth verifier: %w", err)
	}

	m := metrics.New()
	snapshots := store.NewSnapshotStore(db)
	gate := quota.NewGate(snapshots)

	s := &Server{
		db:            db,
		logger:        logger,
		metrics:       m,
		verifier:      verifier,
		sessionLimit:  middleware.NewLimiter(middleware.SessionPolicy),
		corsOrigin:    cfg.CORSAllowOrigin,
		snapshots:     snapshots,
		subscriptionH: handler.NewSubscriptionHandler(gate, snapshots, m, logger),
		settingsH:     handler.NewSettingsHandler(snapshots, logger),
	}

	// Stripe routes are only served when a secret key is configured.
	if cfg.Stripe.SecretKey != "" {
		stripeClient := billingstripe.NewClient(cfg.Stripe)
		sync := billing.NewSynchronizer(stripeClient, snapshots, m, logger.With("component", "billing"))
		s.webhookH = handler.NewWebhookHandler(stripeClient, sync, m, logger)
		s.checkoutH = handler.NewCheckoutHandler(stripeClient, snapshots, logger)
	}

	return s, nil
}

// SessionLimiter returns the limiter guarding checkout and portal session
// creation so the caller can run its pruning loop.
func (s *Server) SessionLimiter() *middleware.Limiter {
	return s.sessionLimit
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Stripe webhook (public, signature-verified)
	if s.webhookH != nil {
		mux.HandleFunc("POST /api/stripe/webhook", s.webhookH.HandleStripeWebhook)
	}

	authMw := middleware.RequireAuth(s.verifier)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMw(h)
	}

	mux.Handle("GET /api/subscription", protected(s.subscriptionH.Get))
	mux.Handle("POST /api/quota/{action}", protected(s.subscriptionH.Check))

	mux.Handle("POST /api/usage/ideas", protected(s.subscriptionH.IdeaCreated))
	mux.Handle("DELETE /api/usage/ideas", protected(s.subscriptionH.IdeaDeleted))
	mux.Handle("DELETE /api/usage/ideas/all", protected(s.subscriptionH.IdeasCleared))

	mux.Handle("GET /api/settings", protected(s.settingsH.Get))
	mux.Handle("PATCH /api/settings", protected(s.settingsH.Update))

	if s.checkoutH != nil {
		limited := middleware.RateLimit(s.sessionLimit, middleware.UserOrIP)
		mux.Handle("POST /api/stripe/create-checkout-session", authMw(limited(http.HandlerFunc(s.checkoutH.CreateCheckoutSession))))
		mux.Handle("POST /api/stripe/create-portal-session", authMw(limited(http.HandlerFunc(s.checkoutH.BillingPortal))))
	}

	var h http.Handler = mux
	h = middleware.CORS(s.corsOrigin)(h)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	h = middleware.Recover(s.logger)(h)
	return h
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check: database unreachable", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}
