package main

import (
	"os"

	"github.com/spf13/cobra"

	_ "github.com/realfolio/realfolio/docs" // Load swagger docs
)

// Version is set via ldflags at build time
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "realfolio",
	Short: "Realfolio - portfolio access control server",
	Long:  `Realfolio manages who can see and change the properties of a shared real-estate portfolio.`,
	Example: `  # Run the API server and notification worker
  realfolio serve

  # Preview and apply the owner membership repair
  realfolio repair owners --dry-run
  realfolio repair owners -y

  # Inspect recent permission changes
  realfolio audit list --action role_change -o json`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./config.yaml or /etc/realfolio/config.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "admin", Title: "Admin Commands:"},
	)

	serveCmd.GroupID = "server"
	migrateCmd.GroupID = "server"

	repairCmd.GroupID = "admin"
	auditCmd.GroupID = "admin"
	userCmd.GroupID = "admin"
	rolesCmd.GroupID = "admin"

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
