package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/keywatch/internal/store"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune report events past the retention window",
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Storage.Retention.MaxReportAge <= 0 {
		fmt.Println("Retention is disabled (storage.retention.max_report_age is not set)")
		return nil
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer st.Close()

	deleted, err := st.CleanupReports(context.Background(), cfg.Storage.Retention.MaxReportAge)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Printf("Cleanup complete: %d reports deleted\n", deleted)
	return nil
}
