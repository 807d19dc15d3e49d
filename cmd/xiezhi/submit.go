package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xiezhi/internal/approval"
	"xiezhi/internal/config"
	"xiezhi/internal/models"
)

var (
	submitAction        string
	submitRequester     string
	submitJustification string
	submitInteractive   bool
	submitApprover      string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Validate, assess and await approval for an action",
	Long: `Submit one action through the full gate: scope validation, grant reuse,
risk assessment and, above the auto-approve floor, a pending approval request that
is notified to approvers and awaited until decided or timed out.

Exit status 0 means the action may be executed; 2 means it was rejected, denied,
cancelled or timed out.

Examples:
  xiezhi submit --action exploit.yaml --requester agent-1
  xiezhi submit --action exploit.yaml --interactive --approver lead-1`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitAction, "action", "", "action file (YAML or JSON)")
	submitCmd.Flags().StringVar(&submitRequester, "requester", "", "requester identity (default: $XIEZHI_REQUESTER or $USER)")
	submitCmd.Flags().StringVar(&submitJustification, "justification", "", "why the action is needed")
	submitCmd.Flags().BoolVar(&submitInteractive, "interactive", false, "decide pending requests at this terminal")
	submitCmd.Flags().StringVar(&submitApprover, "approver", "", "approver identity for --interactive (default: $USER)")
	_ = submitCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(submitCmd)
}

func envOr(def string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := config.LoadAction(submitAction)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()

	requester := submitRequester
	if requester == "" {
		requester = envOr("default", "XIEZHI_REQUESTER", "USER")
	}
	rt.startFeishuListener(ctx)
	if submitInteractive {
		approver := submitApprover
		if approver == "" {
			approver = envOr("terminal", "USER")
		}
		go promptApproval(ctx, rt.workflow, a.ActionID, approver, os.Stdin)
	}

	fmt.Fprintf(os.Stderr, "[xiezhi] 提交动作 %s（requester=%s）\n", a.ActionID, requester)
	v, err := rt.gate.Submit(ctx, a, requester, submitJustification, &cfg.Environment)
	if err != nil {
		return err
	}
	if output == "json" {
		if err := printJSON(v); err != nil {
			return err
		}
	} else {
		printVerdict(v)
	}
	if v.Denied() {
		return &exitError{code: 2}
	}
	return nil
}

// promptApproval 等到动作出现挂起请求后在终端询问 y/n，并按 approver 身份提交决策。
func promptApproval(ctx context.Context, wf *approval.Workflow, actionID, approver string, in io.Reader) {
	var req *models.ApprovalRequest
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for req == nil {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		for _, p := range wf.Pending() {
			if p.Action.ActionID == actionID {
				req = p
				break
			}
		}
	}

	color.Yellow("\n╔════════════════════════════════════════════╗")
	color.Yellow("║              需要人工审批                  ║")
	color.Yellow("╚════════════════════════════════════════════╝")
	fmt.Printf("  请求: %s\n", req.RequestID)
	levelColor(req.Risk.RiskLevel).Printf("  风险: %s (%.4f)\n", strings.ToUpper(req.Risk.RiskLevel.String()), req.Risk.RiskScore)
	fmt.Printf("  审批角色: %s\n", req.RequiredRole)
	fmt.Printf("  截止: %s\n", req.TimeoutAt.Format(time.RFC3339))
	for _, c := range req.Conditions {
		fmt.Printf("  条件: %s\n", c)
	}

	reader := bufio.NewReader(in)
	for {
		color.Yellow("\n是否批准此操作? (y/n): ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		var approved bool
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			approved = true
		case "n", "no":
		default:
			continue
		}
		st, err := wf.ProcessApproval(ctx, req.RequestID, approved, approver, "decided at terminal", req.Conditions)
		if err != nil {
			color.Red("  ✗ 审批未生效: %v", err)
			if st == models.ApprovalPending {
				continue
			}
			return
		}
		if st == models.ApprovalApproved {
			color.Green("\n  ✓ 操作已批准")
		} else {
			color.Red("\n  ✗ 操作已拒绝")
		}
		return
	}
}
