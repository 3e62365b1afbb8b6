package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/ideacapture/internal/auth"
	"github.com/dukerupert/ideacapture/internal/config"
)

var (
	tokenUser  string
	tokenEmail string
	tokenTTL   time.Duration
)

// tokenCmd mints a bearer token with the configured secret, for local
// development against the API.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser == "" {
			return errors.New("--user is required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		v, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return err
		}
		tok, err := v.Issue(tokenUser, tokenEmail, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (UUID)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
