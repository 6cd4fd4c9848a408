package main

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bher20/erateestimator/internal/auth"
	"github.com/bher20/erateestimator/internal/logger"
	"github.com/bher20/erateestimator/internal/storage"
)

// withAuth opens storage only; token management does not need the rate
// registry.
func withAuth(cmd *cobra.Command, load loadFunc, fn func(svc *auth.Service) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	if cfg.DB.Driver == "" || cfg.DB.Driver == "memory" {
		return fmt.Errorf("token management needs a persistent db driver, got %q", cfg.DB.Driver)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	store, err := storage.Open(cmd.Context(), storage.Config{
		Driver:      cfg.DB.Driver,
		DSN:         cfg.DB.DSN,
		AutoMigrate: cfg.DB.AutoMigrate,
	}, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close storage")
		}
	}()

	svc, err := auth.NewService(store, cfg.Auth.AdminTokenHash, log)
	if err != nil {
		return err
	}
	return fn(svc)
}

func newTokenCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	var name, role, expires string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API token and print it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			expiresAt, err := auth.ParseExpiry(expires, time.Now().UTC())
			if err != nil {
				return err
			}
			return withAuth(cmd, load, func(svc *auth.Service) error {
				tok, raw, err := svc.CreateToken(cmd.Context(), name, role, expiresAt)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "id:    %s\n", tok.ID)
				fmt.Fprintf(w, "role:  %s\n", tok.Role)
				fmt.Fprintf(w, "token: %s\n", raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "token name")
	create.Flags().StringVar(&role, "role", auth.RoleViewer, "role (admin, operator, viewer)")
	create.Flags().StringVar(&expires, "expires", "never", "lifetime: never, a duration, Nd, Nw or YYYY-MM-DD")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd, load, func(svc *auth.Service) error {
				tokens, err := svc.ListTokens(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tROLE\tEXPIRES\tLAST USED")
				for _, t := range tokens {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Role, formatTime(t.ExpiresAt), formatTime(t.LastUsedAt))
				}
				return tw.Flush()
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd, load, func(svc *auth.Service) error {
				return svc.RevokeToken(cmd.Context(), args[0])
			})
		},
	}

	hashAdmin := &cobra.Command{
		Use:   "hash-admin",
		Short: "Read a bootstrap admin token from stdin and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			hash, err := auth.HashAdminToken(strings.TrimSpace(line))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.AddCommand(create, list, revoke, hashAdmin)
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
