package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/realfolio/realfolio/internal/server"
	"github.com/realfolio/realfolio/internal/service"
	"github.com/realfolio/realfolio/internal/worker"
	"github.com/spf13/cobra"
)

var (
	repairDryRun bool
	repairYes    bool
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair membership data",
}

var repairOwnersCmd = &cobra.Command{
	Use:   "owners",
	Short: "Restore owner memberships for portfolio creators",
	Long: `Find portfolios whose creator has no owner membership and restore it.

A creator with no membership row gets one; a creator holding a lower role is
promoted back to owner. Every change is written to the audit log as a
system action.

Examples:
  # Preview changes without modifying
  realfolio repair owners --dry-run

  # Auto-confirm (for scripting)
  realfolio repair owners -y`,
	Args: cobra.NoArgs,
	RunE: runRepairOwners,
}

func init() {
	repairOwnersCmd.Flags().BoolVar(&repairDryRun, "dry-run", false, "Show what would change without modifying")
	repairOwnersCmd.Flags().BoolVarP(&repairYes, "yes", "y", false, "Auto-confirm all actions")
	repairCmd.AddCommand(repairOwnersCmd)
}

func runRepairOwners(cmd *cobra.Command, args []string) error {
	_, database, err := server.Open(configFile)
	if err != nil {
		return err
	}
	ledger := service.NewMembershipLedger(database)
	ctx := context.Background()

	preview, err := ledger.RepairOwnerMemberships(ctx, true)
	if err != nil {
		return err
	}
	if len(preview.Items) == 0 {
		fmt.Printf("Scanned %d portfolios, nothing to repair.\n", preview.Scanned)
		return nil
	}

	printRepairItems(preview.Items)
	if repairDryRun {
		fmt.Printf("\n%d of %d portfolios would be repaired (dry run).\n", len(preview.Items), preview.Scanned)
		return nil
	}
	if !repairYes && !confirm(fmt.Sprintf("Repair %d portfolios?", len(preview.Items))) {
		fmt.Println("Aborted.")
		return nil
	}

	report, err := worker.RunOwnerRepair(ctx, database, ledger, false)
	if err != nil {
		return err
	}
	fmt.Printf("Repaired %d portfolios in %s.\n", len(report.Items), report.Duration)
	return nil
}

func printRepairItems(items []service.RepairItem) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORTFOLIO\tNAME\tCREATOR\tCURRENT ROLE")
	for _, it := range items {
		current := string(it.PreviousRole)
		if current == "" {
			current = "(none)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(it.PortfolioID.String()), it.PortfolioName, shortID(it.CreatorID.String()), current)
	}
	w.Flush()
}
