package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"xiezhi/internal/gate"
	"xiezhi/internal/models"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func levelColor(l models.RiskLevel) *color.Color {
	switch l {
	case models.RiskCritical:
		return color.New(color.FgRed, color.Bold)
	case models.RiskHigh:
		return color.New(color.FgRed)
	case models.RiskMedium:
		return color.New(color.FgYellow)
	}
	return color.New(color.FgGreen)
}

func printValidation(res *models.ValidationResult) {
	for _, l := range res.Layers {
		switch {
		case l.Skipped:
			color.Cyan("  - %-13s skipped", l.Layer)
		case l.Valid:
			color.Green("  ✓ %-13s ok (%s)", l.Layer, l.Duration)
		default:
			color.Red("  ✗ %-13s blocked", l.Layer)
		}
		for _, v := range l.Violations {
			color.Red("      violation: %s", v)
		}
		for _, w := range l.Warnings {
			color.Yellow("      warning: %s", w)
		}
	}
	if res.Valid {
		color.Green("\n  ✓ action %s within scope", res.ActionID)
	} else {
		color.Red("\n  ✗ action %s blocked at %s layer", res.ActionID, res.BlockedAt)
	}
}

func printAssessment(ra *models.RiskAssessment) {
	levelColor(ra.RiskLevel).Printf("  risk: %s (%.4f)\n", strings.ToUpper(ra.RiskLevel.String()), ra.RiskScore)
	for _, f := range ra.RiskFactors {
		fmt.Printf("    - %s\n", f)
	}
	fmt.Printf("  impact: %s\n", ra.Impact)
	fmt.Printf("  likelihood: %s\n", ra.Likelihood)
	var flags []string
	if ra.DestructivePotential {
		flags = append(flags, "destructive")
	}
	if ra.DataExposureRisk {
		flags = append(flags, "data-exposure")
	}
	if ra.AvailabilityRisk {
		flags = append(flags, "availability")
	}
	if ra.ComplianceRisk {
		flags = append(flags, "compliance")
	}
	if len(flags) > 0 {
		color.Yellow("  flags: %s", strings.Join(flags, ", "))
	}
	for _, c := range ra.RecommendedConditions {
		fmt.Printf("  condition: %s\n", c)
	}
	fmt.Printf("  approver: %s, timeout: %d min\n", ra.RequiredApproverLevel, ra.RecommendedTimeoutMinutes)
}

func printVerdict(v *gate.Verdict) {
	if v.Validation != nil {
		printValidation(v.Validation)
	}
	if v.Request != nil {
		fmt.Println()
		printAssessment(&v.Request.Risk)
	}
	fmt.Println()
	switch {
	case v.Executable && v.Reused:
		color.Green("  ✓ 复用已有授权 %s，可执行", v.Grant.RequestID)
	case v.Executable && v.Request != nil && v.Request.AutoApproved:
		color.Green("  ✓ 自动放行（低风险）")
	case v.Executable:
		color.Green("  ✓ 已批准: %s", v.Request.DecidedBy)
	default:
		color.Red("  ✗ 不可执行: %s", v.Rejection.Kind)
		if v.Rejection.Reason != "" {
			color.Red("    %s", v.Rejection.Reason)
		}
	}
}
