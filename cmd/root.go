package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:     "leadscrape",
	Short:   "Enrich leads and companies with hosted Apify scrapers",
	Version: version,
	Long: `leadscrape submits Apify scraper runs for a collection, company or lead,
polls each run to a terminal state and maps the results onto deduplicated
lead and company records, keeping a run and usage ledger.

  run        enrich one target with one scraper
  batch      enrich many targets from a YAML or JSON file
  serve      expose the same operations over HTTP
  runs       list, inspect and summarize recorded runs
  scrapers   show the scraper catalog
  migrate    create or update the database schema`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// initConfig loads configuration and installs the global logger before any
// subcommand runs.
func initConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
