package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tokenledger/quota-proxy/pkg/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's token usage per tier",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := initApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.ledger.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("read usage stats: %w", err)
	}

	fmt.Printf("Token usage for %s (resets at 00:00 UTC)\n\n", stats.Date)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TIER\tUSED\tLIMIT\tUSAGE\n")
	for _, tier := range model.AllTiers() {
		ts, ok := stats.Tiers[tier]
		if !ok {
			continue
		}

		status := ""
		switch {
		case ts.Percentage >= 100:
			status = " [EXCEEDED]"
		case ts.Percentage >= 95:
			status = " [CRITICAL]"
		case ts.Percentage >= 80:
			status = " [WARNING]"
		}

		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%%s\n",
			tier, ts.Used, ts.Limit, ts.Percentage, status,
		)
	}
	w.Flush()

	return nil
}
