package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/collector/internal/reconcile"
	"github.com/opensource-finance/collector/internal/repository"
	"github.com/opensource-finance/collector/internal/rules"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation sweep and print the report",
	Long: `Recomputes days past due for every open or in-progress case, reapplies the
current rules and records a decision for each case whose routing changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, err := repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("initialize repository: %w", err)
		}
		defer repo.Close()

		report, err := reconcile.NewJob(repo, rules.NewCatalog(cfg.Rules.Path)).Run(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d case(s) failed to reconcile", report.Failed)
		}
		return nil
	},
}
