package main

import (
	"github.com/spf13/cobra"

	"xiezhi/internal/config"
	"xiezhi/internal/patterns"
	"xiezhi/internal/risk"
)

var (
	assessAction     string
	assessProduction bool
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Score an action's risk",
	Long: `Compute the weighted risk score, level, flags, recommended conditions,
timeout and required approver role for one action. Nothing is audited.

Examples:
  xiezhi assess --action exploit.yaml
  xiezhi assess --action exploit.yaml --production`,
	RunE: runAssess,
}

func init() {
	assessCmd.Flags().StringVar(&assessAction, "action", "", "action file (YAML or JSON)")
	assessCmd.Flags().BoolVar(&assessProduction, "production", false, "treat the target as a production environment")
	_ = assessCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(assessCmd)
}

func runAssess(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := config.LoadAction(assessAction)
	if err != nil {
		return err
	}
	tbl, err := patterns.Load(cfg.PatternsPath)
	if err != nil {
		return err
	}
	ev, err := risk.NewEvaluator(cfg.Risk, risk.WithPatterns(tbl))
	if err != nil {
		return err
	}
	env := cfg.Environment
	if assessProduction {
		env.Production = true
	}
	ra := ev.Assess(a, &env)
	if output == "json" {
		return printJSON(ra)
	}
	printAssessment(ra)
	return nil
}
