package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xiezhi/internal/config"
	"xiezhi/internal/patterns"
	"xiezhi/internal/scope"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load config, scope and pattern corpora, then exit",
	Long: `Load the YAML config (with .env and XIEZHI_* overrides), compile the engagement
scope and the destructive/risky pattern corpora. Exit status 0 on success.`,
	RunE: runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	tbl, err := patterns.Load(cfg.PatternsPath)
	if err != nil {
		return fmt.Errorf("patterns validate: %w", err)
	}
	s, err := config.LoadScope(cfg.ScopePath)
	if err != nil {
		return err
	}
	if _, err := scope.NewEngine(s, scope.WithPatterns(tbl)); err != nil {
		return fmt.Errorf("scope validate: %w", err)
	}
	fmt.Fprintf(os.Stderr, "[xiezhi] config validate ok: %s\n", path)
	color.Green("  ✓ engagement %s, %d patterns, %d approvers, %d approval rules", s.EngagementID, tbl.Len(), len(cfg.Approvers), len(cfg.ApprovalRules))
	return nil
}
