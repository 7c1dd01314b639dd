package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/orchestrate"
	"github.com/sells-group/leadscrape/internal/scraper"
)

var runFlags struct {
	scraperID    string
	userID       string
	collectionID string
	companyID    string
	leadID       string
	params       string
	force        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scraper against a collection, company or lead",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := buildRunRequest()
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		metrics, err := env.Service.Run(ctx, req)
		if metrics != nil {
			if wErr := writeMetrics(os.Stdout, metrics); wErr != nil {
				zap.L().Warn("write metrics", zap.Error(wErr))
			}
		}
		if err != nil {
			return eris.Wrapf(err, "run %s (%s)", req.ScraperID, model.Classify(err))
		}

		zap.L().Info("enrichment complete",
			zap.String("scraper_id", req.ScraperID),
			zap.Int("created", metrics.Created),
			zap.Int("enriched", metrics.Enriched),
			zap.Int("runs", len(metrics.RunIDs)),
		)
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.scraperID, "scraper", "", "scraper id from the catalog (required)")
	f.StringVar(&runFlags.userID, "user", "", "owning user id (required)")
	f.StringVar(&runFlags.collectionID, "collection", "", "target collection id")
	f.StringVar(&runFlags.companyID, "company", "", "target company id")
	f.StringVar(&runFlags.leadID, "lead", "", "target lead id")
	f.StringVar(&runFlags.params, "params", "", "scraper params as a JSON object")
	f.BoolVar(&runFlags.force, "force", false, "re-enrich entities that already have results")
	_ = runCmd.MarkFlagRequired("scraper")
	_ = runCmd.MarkFlagRequired("user")
	runCmd.MarkFlagsMutuallyExclusive("collection", "company", "lead")
	rootCmd.AddCommand(runCmd)
}

func buildRunRequest() (orchestrate.Request, error) {
	req := orchestrate.Request{
		ScraperID:       runFlags.scraperID,
		UserID:          runFlags.userID,
		CollectionID:    runFlags.collectionID,
		CompanyID:       runFlags.companyID,
		LeadID:          runFlags.leadID,
		ForceEnrichment: runFlags.force,
	}
	if runFlags.params != "" {
		var p scraper.Params
		if err := json.Unmarshal([]byte(runFlags.params), &p); err != nil {
			return req, eris.Wrap(err, "parse --params")
		}
		req.Params = p
	}
	return req, req.Validate()
}

func writeMetrics(w io.Writer, m *model.Metrics) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
