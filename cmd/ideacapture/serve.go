package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	billingstripe "github.com/dukerupert/ideacapture/internal/billing/stripe"
	"github.com/dukerupert/ideacapture/internal/config"
	"github.com/dukerupert/ideacapture/internal/database"
	"github.com/dukerupert/ideacapture/internal/logging"
	"github.com/dukerupert/ideacapture/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg)
	},
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	srv, err := server.New(db, server.Config{
		Stripe: billingstripe.Config{
			SecretKey:       cfg.Stripe.SecretKey,
			WebhookSecret:   cfg.Stripe.WebhookSecret,
			MonthlyPriceID:  cfg.Stripe.PriceIDMonthly,
			YearlyPriceID:   cfg.Stripe.PriceIDYearly,
			SuccessURL:      cfg.BaseURL + "/dashboard?checkout=success",
			CancelURL:       cfg.BaseURL + "/pricing?checkout=canceled",
			PortalReturnURL: cfg.BaseURL + "/settings",
			APITimeout:      cfg.Stripe.APITimeout,
		},
		JWTSecret:       cfg.JWTSecret,
		JWTIssuer:       cfg.JWTIssuer,
		CORSAllowOrigin: cfg.CORSAllowOrigin,
	}, logger)
	if err != nil {
		return err
	}
	if !cfg.Stripe.Enabled() {
		logger.Warn("STRIPE_SECRET_KEY not set; billing endpoints disabled")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.SessionLimiter().Run(ctx, time.Hour)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ideacapture starting", "addr", httpServer.Addr, "version", Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
