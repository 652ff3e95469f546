package main

import (
	"fmt"

	"github.com/realfolio/realfolio/internal/db"
	"github.com/realfolio/realfolio/internal/server"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, err := server.Open(configFile)
		if err != nil {
			return err
		}
		serverID, err := db.GetOrCreateServerID(database)
		if err != nil {
			return err
		}
		fmt.Printf("Schema is up to date (server %s)\n", serverID)
		return nil
	},
}
