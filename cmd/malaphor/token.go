package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/malaphor/pkg/auth"
)

func newTokenCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API credentials",
	}
	cmd.AddCommand(newTokenJWTCmd(global), newTokenAPIKeyCmd())
	return cmd
}

func newTokenJWTCmd(global *globalOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "jwt",
		Short: "Sign a bearer token with server.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not set")
			}
			m, err := auth.NewJWTManager(cfg.Server.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, err := m.GenerateToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleAnalyst, "role: admin, analyst or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newTokenAPIKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apikey",
		Short: "Generate an API key and the bcrypt hash to configure",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, hash, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:  %s\n", key)
			fmt.Fprintf(out, "hash: %s\n", hash)
			fmt.Fprintln(out, "Add the hash to server.api_key_hashes; the key is not shown again.")
			return nil
		},
	}
}
