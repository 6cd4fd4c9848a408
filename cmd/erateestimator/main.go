package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bher20/erateestimator/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadFunc resolves the configuration once flags have been parsed.
type loadFunc func() (config.Config, error)

func newRootCmd() *cobra.Command {
	var cfgFile string
	v := config.NewViper()

	root := &cobra.Command{
		Use:          "erateestimator",
		Short:        "Agricultural electricity bill estimator",
		Long:         "Estimates pumping electricity usage and water volume from a paid bimonthly bill, and computes bills from usage.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.String("log-level", "", "log level (trace, debug, info, warn, error)")
	pf.String("log-format", "", "log format (console, json)")
	pf.String("db-driver", "", "storage driver (memory, sqlite, postgres, postgrespool)")
	pf.String("db-dsn", "", "storage DSN")
	pf.String("rates-source", "", "rate table source (embedded, file, http)")
	pf.String("rates-file", "", "rate table file or directory")
	pf.String("rates-url", "", "rate table URL")

	// Flags only override when set, so env and file values still apply.
	for key, name := range map[string]string{
		"log.level":    "log-level",
		"log.format":   "log-format",
		"db.driver":    "db-driver",
		"db.dsn":       "db-dsn",
		"rates.source": "rates-source",
		"rates.file":   "rates-file",
		"rates.url":    "rates-url",
	} {
		_ = v.BindPFlag(key, pf.Lookup(name))
	}

	load := func() (config.Config, error) { return config.Load(v, cfgFile) }

	root.AddCommand(
		newServeCmd(load),
		newEstimateCmd(load),
		newBillCmd(load),
		newSeasonCmd(load),
		newVersionsCmd(load),
		newMigrateCmd(load),
		newWorkerCmd(load),
		newTokenCmd(load),
	)
	return root
}
