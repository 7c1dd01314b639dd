package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadscrape/internal/scraper"
)

var scrapersCmd = &cobra.Command{
	Use:   "scrapers",
	Short: "List the configured scrapers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		infos, err := loadCatalog(cfg.Catalog)
		if err != nil {
			return err
		}
		formatScrapers(os.Stdout, infos)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scrapersCmd)
}

// formatScrapers writes the catalog as a table.
func formatScrapers(out io.Writer, infos []scraper.Info) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tACTOR\tPER ITEM\tPER RUN\tREQUIRED")
	for _, in := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t$%.4f\t%s\n",
			in.ID, in.MapperType, in.ActorID, in.CostPerItemUSD, in.CostPerRunUSD, strings.Join(in.RequiredParams, ","))
	}
	_ = w.Flush()
}
