package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/realfolio/realfolio/internal/audit"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/server"
	"github.com/spf13/cobra"
)

var (
	auditUser      string
	auditPortfolio string
	auditAction    string
	auditSince     time.Duration
	auditLimit     int
	auditOutput    string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read the permission audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List permission changes, newest first",
	Example: `  realfolio audit list --portfolio 3f2a... --since 24h
  realfolio audit list --action invitation_accepted -o yaml`,
	Args: cobra.NoArgs,
	RunE: runAuditList,
}

func init() {
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "Only entries where this user is subject or actor")
	auditListCmd.Flags().StringVar(&auditPortfolio, "portfolio", "", "Only entries for this portfolio")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "role_change, invitation_sent, invitation_accepted or access_revoked")
	auditListCmd.Flags().DurationVar(&auditSince, "since", 0, "Only entries newer than this (e.g. 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", audit.DefaultLimit, "Maximum entries")
	auditListCmd.Flags().StringVarP(&auditOutput, "output", "o", "table", "Output format: table, json, yaml")
	auditCmd.AddCommand(auditListCmd)
}

func buildAuditFilter() (audit.Filter, error) {
	f := audit.Filter{Limit: auditLimit}
	if auditUser != "" {
		id, err := uuid.Parse(auditUser)
		if err != nil {
			return f, fmt.Errorf("invalid --user: %w", err)
		}
		f.User = &id
	}
	if auditPortfolio != "" {
		id, err := uuid.Parse(auditPortfolio)
		if err != nil {
			return f, fmt.Errorf("invalid --portfolio: %w", err)
		}
		f.Portfolio = &id
	}
	if auditAction != "" {
		f.Action = models.AuditAction(auditAction)
		if !f.Action.Valid() {
			return f, fmt.Errorf("invalid --action %q", auditAction)
		}
	}
	if auditSince > 0 {
		f.Since = time.Now().UTC().Add(-auditSince)
	}
	return f, nil
}

func runAuditList(cmd *cobra.Command, args []string) error {
	f, err := buildAuditFilter()
	if err != nil {
		return err
	}
	_, database, err := server.Open(configFile)
	if err != nil {
		return err
	}

	entries, err := audit.Query(context.Background(), database, f)
	if err != nil {
		return err
	}
	return writeOutput(os.Stdout, auditOutput, entries, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "TIME\tACTION\tPORTFOLIO\tSUBJECT\tACTOR\tOLD\tNEW")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.CreatedAt.Format(time.RFC3339), e.Action,
				optionalID(e.PortfolioID), optionalID(e.SubjectUserID), actorLabel(e.ActorUserID),
				jsonCell(e.OldValue), jsonCell(e.NewValue))
		}
	})
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return shortID(id.String())
}

func actorLabel(id *uuid.UUID) string {
	if id == nil {
		return "system"
	}
	return shortID(id.String())
}

func jsonCell(b []byte) string {
	if len(b) == 0 || string(b) == "null" {
		return "-"
	}
	return string(b)
}
