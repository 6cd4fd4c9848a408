package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bher20/erateestimator/internal/alerting"
	"github.com/bher20/erateestimator/internal/api"
	"github.com/bher20/erateestimator/internal/config"
	"github.com/bher20/erateestimator/internal/cron"
	"github.com/bher20/erateestimator/internal/estimate"
	"github.com/bher20/erateestimator/internal/logger"
	"github.com/bher20/erateestimator/internal/migrate"
	"github.com/bher20/erateestimator/internal/notification"
	"github.com/bher20/erateestimator/internal/ratesource"
	"github.com/bher20/erateestimator/internal/tariff"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parsePeriod(start, end string) (time.Time, time.Time, error) {
	s, err := tariff.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
	}
	e, err := tariff.ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
	}
	return s, e, nil
}

func newWorker(a *app, runImmediately bool) (*cron.Worker, error) {
	ec := a.cfg.Email
	mailer, err := notification.NewMailer(notification.EmailConfig{
		Provider:    ec.Provider,
		Host:        ec.Host,
		Port:        ec.Port,
		Username:    ec.Username,
		Password:    ec.Password,
		Encryption:  ec.Encryption,
		APIKey:      ec.APIKey,
		FromAddress: ec.FromAddress,
		FromName:    ec.FromName,
		To:          ec.To,
	}, a.log)
	if err != nil {
		return nil, err
	}
	alerter := alerting.NewAlerter(alerting.AlertConfig{
		WebhookURL:             a.cfg.Alert.WebhookURL,
		WebhookType:            a.cfg.Alert.WebhookType,
		MinFailuresBeforeAlert: a.cfg.Alert.MinFailures,
	}, a.log, mailer)
	return cron.NewWorker(cron.Config{
		Loader:         a.loader,
		Store:          a.store,
		Alerter:        alerter,
		Interval:       a.cfg.Rates.RefreshInterval,
		RunImmediately: runImmediately,
	}, a.log), nil
}

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			// Embedded tables never change, so there is nothing to refresh.
			if cfg.Rates.Source != "embedded" {
				worker, err := newWorker(a, false)
				if err != nil {
					return err
				}
				go func() {
					if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.log.Error().Err(err).Msg("cron worker stopped")
					}
				}()
			}

			srv := &http.Server{
				Addr:              cfg.HTTP.Addr(),
				Handler:           api.NewMux(api.Deps{Service: a.svc, Loader: a.loader, Store: a.store, Auth: a.auth, Log: a.log}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", srv.Addr).Msg("erateestimator listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newEstimateCmd(load loadFunc) *cobra.Command {
	var bill float64
	var start, end string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate usage and water volume from a paid bill",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, e, err := parsePeriod(start, end)
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			est, err := a.svc.Estimate(cmd.Context(), estimate.Request{BillAmount: bill, Start: s, End: e})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), est)
		},
	}
	cmd.Flags().Float64Var(&bill, "bill", 0, "paid bill amount")
	cmd.Flags().StringVar(&start, "start", "", "billing period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "billing period end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("bill")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newBillCmd(load loadFunc) *cobra.Command {
	var kwh float64
	var start, end string
	cmd := &cobra.Command{
		Use:   "bill",
		Short: "Compute the bill for a usage over a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, e, err := parsePeriod(start, end)
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Bill(cmd.Context(), kwh, s, e)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Float64Var(&kwh, "kwh", 0, "usage in kWh")
	cmd.Flags().StringVar(&start, "start", "", "billing period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "billing period end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("kwh")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newSeasonCmd(load loadFunc) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "season",
		Short: "Show how a period splits across summer and non-summer",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, e, err := parsePeriod(start, end)
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			// The split needs no rate tables, so nothing is loaded.
			log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
			svc, err := estimate.NewService(tariff.NewHolder(nil), serviceConfig(cfg), nil, log)
			if err != nil {
				return err
			}
			info, err := svc.Season(s, e)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "period end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newVersionsCmd(load loadFunc) *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List the loaded rate versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			versions := a.loader.Holder().Load().Versions()
			if export != "" {
				if err := ratesource.Export(export, versions); err != nil {
					return err
				}
				a.log.Info().Str("path", export).Int("versions", len(versions)).Msg("rate versions exported")
				return nil
			}
			w := cmd.OutOrStdout()
			for _, v := range versions {
				fmt.Fprintf(w, "%-10s %s .. %s  summer tiers=%d non-summer tiers=%d\n",
					v.VersionID, tariff.FormatDate(v.EffectiveFrom), tariff.FormatDate(v.EffectiveTo),
					len(v.Summer), len(v.NonSummer))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&export, "export", "", "write the versions as a JSON rate document to this path")
	return cmd
}

func newMigrateCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	run := func(fn func(ctx context.Context, cfg config.Config) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			migrate.SetLogger(logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}))
			return fn(cmd.Context(), cfg)
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(ctx context.Context, cfg config.Config) error {
				return migrate.Up(ctx, cfg.DB.Driver, cfg.DB.DSN)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: run(func(ctx context.Context, cfg config.Config) error {
				return migrate.Down(ctx, cfg.DB.Driver, cfg.DB.DSN)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: run(func(ctx context.Context, cfg config.Config) error {
				return migrate.Status(ctx, cfg.DB.Driver, cfg.DB.DSN)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(func(ctx context.Context, cfg config.Config) error {
					v, err := migrate.Version(ctx, cfg.DB.Driver, cfg.DB.DSN)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				})(cmd, args)
			},
		},
	)
	return cmd
}

func newWorkerCmd(load loadFunc) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Periodically reload rate tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := newWorker(a, true)
			if err != nil {
				return err
			}
			if once {
				return w.RunOnce(ctx)
			}
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "reload once and exit")
	return cmd
}
