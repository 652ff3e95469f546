package main

import (
	"fmt"
	"os"

	"github.com/realfolio/realfolio/internal/server"
	"github.com/spf13/cobra"
)

var (
	servePort int
	serveMode string
)

// @title Realfolio API
// @version 1.0
// @description Portfolio membership, invitation and access control API
// @host localhost:8460
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Realfolio server",
	Long: `Start the Realfolio server with API and/or worker components.

Examples:
  realfolio serve                    # Run both API server and worker
  realfolio serve --mode server      # Run API server only
  realfolio serve --mode worker      # Run notification worker and scheduler only
  realfolio serve --port 8080        # Override port

Environment variables:
  REALFOLIO_SERVER_PORT            Server port (default: 8460)
  REALFOLIO_DATABASE_DRIVER        Database driver: sqlite, postgres
  REALFOLIO_DATABASE_DSN           Database connection string
  REALFOLIO_QUEUE_TYPE             Queue type: memory, valkey
  REALFOLIO_AUTH_JWT_SECRET        JWT signing secret
  REALFOLIO_MAIL_PROVIDER          Mail provider: log, sendgrid
  ADMIN_USERNAME                   Bootstrap operator username
  ADMIN_PASSWORD                   Bootstrap operator password`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
	serveCmd.Flags().StringVarP(&serveMode, "mode", "m", "both", "Run mode: server, worker, or both")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := server.Config{
		ConfigFile: configFile,
		Port:       servePort,
		Mode:       serveMode,
		Version:    Version,
	}

	if err := server.RunWithSignalHandling(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
