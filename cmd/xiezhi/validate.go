package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"xiezhi/internal/config"
)

var validateAction string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check an action against the engagement scope",
	Long: `Run the structural, deterministic and network layers against one action.
The verdict is audited. Exit status 2 means the action is out of scope or malformed.

Examples:
  xiezhi validate --action action.yaml
  xiezhi validate --action action.json -o json`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateAction, "action", "", "action file (YAML or JSON)")
	_ = validateCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := config.LoadAction(validateAction)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.engine.Validate(ctx, a)
	if err != nil {
		return &exitError{code: 2, msg: err.Error()}
	}
	if output == "json" {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		printValidation(res)
	}
	if !res.Valid {
		return &exitError{code: 2}
	}
	return nil
}
