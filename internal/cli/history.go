package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokenledger/quota-proxy/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent proxied requests",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", history.DefaultLimit, "Maximum entries to show")
	historyCmd.Flags().Int("offset", 0, "Entries to skip")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := initApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	page, err := a.history.List(cmd.Context(), limit, offset)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}

	if len(page.Entries) == 0 {
		fmt.Println("No requests recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TIME\tMODEL\tTIER\tPROMPT\tCOMPLETION\tTOTAL\tSTATUS\n")
	for _, e := range page.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Model, e.Tier,
			e.PromptTokens, e.CompletionTokens, e.TotalTokens,
			e.Status,
		)
	}
	w.Flush()

	fmt.Printf("\nShowing %d of %d entries", len(page.Entries), page.Pagination.Total)
	if page.Pagination.HasMore {
		fmt.Printf(" (use --offset %d for more)", page.Pagination.Offset+len(page.Entries))
	}
	fmt.Println()

	return nil
}
