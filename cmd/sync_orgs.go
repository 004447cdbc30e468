package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/support-chat-service/internal/config"
	"github.com/psds-microservice/support-chat-service/internal/database"
	"github.com/psds-microservice/support-chat-service/internal/orgdir"
	"github.com/spf13/cobra"
)

var syncOrgsCmd = &cobra.Command{
	Use:   "sync-orgs",
	Short: "Sync the organization directory into the local organizations table. Requires ORG_DIRECTORY_URL.",
	RunE:  runSyncOrgs,
}

func runSyncOrgs(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../../.env") // repo root when running from bin/
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.OrgDirectoryURL == "" {
		log.Println("sync-orgs: ORG_DIRECTORY_URL is not set, nothing to sync")
		return nil
	}
	conn, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	client := orgdir.NewClient(cfg.OrgDirectoryURL, conn)
	n, err := client.SyncLocal(ctx)
	if err != nil {
		return fmt.Errorf("sync organizations: %w", err)
	}
	log.Printf("sync-orgs: done, upserted %d organizations", n)
	return nil
}
