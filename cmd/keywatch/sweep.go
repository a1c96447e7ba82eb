package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/keywatch/internal/lifecycle"
	"github.com/foxzi/keywatch/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single lifecycle sweep over all programs",
	Long:  `Apply the key lifecycle rules to every stored program once and persist the resulting status changes.`,
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	sweeper := lifecycle.Sweeper{NewKeyMaxAge: cfg.Lifecycle.NewKeyMaxAge}
	now := time.Now()

	programs, err := st.Programs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list programs: %w", err)
	}

	total := 0
	for _, p := range programs {
		keys, transitions := sweeper.Sweep(p.Keys, now)
		if len(transitions) == 0 {
			continue
		}
		p.Keys = keys
		if err := st.SaveProgram(ctx, p); err != nil {
			return fmt.Errorf("failed to save program %s: %w", p.Slug, err)
		}
		for _, tr := range transitions {
			fmt.Printf("%s %s: %s -> %s\n", p.Slug, tr.KeyHash, tr.From, tr.To)
		}
		total += len(transitions)
	}

	fmt.Printf("Sweep complete: %d programs, %d transitions\n", len(programs), total)
	return nil
}
