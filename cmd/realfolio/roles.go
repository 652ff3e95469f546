package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/realfolio/realfolio/internal/rbac"
	"github.com/spf13/cobra"
)

var rolesOutput string

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Show what each portfolio role may do",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows := rbac.Table()
		return writeOutput(os.Stdout, rolesOutput, rows, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "ROLE\tBASELINE\tMANAGE MEMBERS\tASSIGN OWNER\tDELETE PORTFOLIO")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\n", r.Role, r.Baseline, r.ManageMembers, r.AssignOwner, r.DeletePortfolio)
			}
		})
	},
}

func init() {
	rolesCmd.Flags().StringVarP(&rolesOutput, "output", "o", "table", "Output format: table, json, yaml")
}
