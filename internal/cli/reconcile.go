package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tokenledger/quota-proxy/pkg/model"
	"github.com/tokenledger/quota-proxy/pkg/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the ledger against the provider's usage report",
	Long: `Fetches the provider's per-model usage report for a day and raises each
tier's counter to match when the local ledger undercounts. Streaming requests
are not accounted at proxy time, so this closes the gap they leave. Counters
are never lowered. Requires an admin-scoped API key.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringP("date", "d", "", "UTC day to reconcile, YYYY-MM-DD (default: today)")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, err := initApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Upstream.AdminAPIKey == "" {
		return fmt.Errorf("reconciliation requires upstream.admin_api_key (or QP_UPSTREAM_ADMIN_API_KEY)")
	}

	date, _ := cmd.Flags().GetString("date")

	fetcher := reconcile.NewOpenAIUsageClient(a.cfg.Upstream.BaseURL, a.cfg.Upstream.AdminAPIKey)
	reconciler := reconcile.New(a.ledger, a.classifier, fetcher, a.logger)

	result, err := reconciler.Reconcile(cmd.Context(), date)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	fmt.Printf("Reconciliation for %s\n\n", result.Date)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TIER\tLOCAL BEFORE\tUPSTREAM\tADDED\tLOCAL AFTER\n")
	for _, tier := range model.AllTiers() {
		c, ok := result.Tiers[tier]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			tier, c.Before, c.Upstream, c.Added, c.After,
		)
	}
	w.Flush()

	if len(result.Details) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "MODEL\tTIER\tINPUT\tOUTPUT\tREQUESTS\n")
		for _, d := range result.Details {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
				d.Model, d.Tier, d.InputTokens, d.OutputTokens, d.Requests,
			)
		}
		w.Flush()
	}

	return nil
}
