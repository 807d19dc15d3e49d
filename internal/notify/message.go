package notify

import (
	"fmt"
	"strings"
	"time"

	"xiezhi/internal/models"
)

// Compose 由审批请求生成渠道无关的标题与正文。
func Compose(req *models.ApprovalRequest, t Type) *Message {
	a := &req.Action
	msg := &Message{
		Type:       t,
		RequestID:  req.RequestID,
		ActionID:   a.ActionID,
		Status:     req.Status,
		RiskLevel:  req.Risk.RiskLevel,
		Actionable: t == TypeApprovalRequest && req.Status == models.ApprovalPending,
		Request:    req,
	}
	target := targetOf(a)
	switch t {
	case TypeApprovalRequest:
		msg.Title = fmt.Sprintf("[xiezhi] approval required: %s on %s (%s)", a.ActionType, target, req.Risk.RiskLevel)
	case TypeApprovalResult:
		by := req.DecidedBy
		if by == "" {
			by = "unknown"
		}
		msg.Title = fmt.Sprintf("[xiezhi] action %s %s by %s", a.ActionID, req.Status, by)
	case TypeTimeout:
		msg.Title = fmt.Sprintf("[xiezhi] approval timed out: action %s", a.ActionID)
	default:
		msg.Title = fmt.Sprintf("[xiezhi] %s: action %s", t, a.ActionID)
	}

	var b strings.Builder
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	line("Request", req.RequestID)
	line("Action", fmt.Sprintf("%s (%s)", a.ActionID, a.ActionType))
	line("Target", target)
	if len(a.TargetPorts) > 0 {
		line("Ports", joinInts(a.TargetPorts))
	}
	line("Phase", a.Phase.String())
	line("Tool", a.ToolName)
	line("Command", a.Command)
	line("Risk", fmt.Sprintf("%s (%.2f)", req.Risk.RiskLevel, req.Risk.RiskScore))
	if len(req.Risk.RiskFactors) > 0 {
		line("Factors", strings.Join(req.Risk.RiskFactors, "; "))
	}
	line("Requested by", req.RequestedBy)
	line("Justification", req.Justification)
	switch t {
	case TypeApprovalRequest:
		line("Required role", req.RequiredRole.String())
		if len(req.Conditions) > 0 {
			line("Conditions", strings.Join(req.Conditions, "; "))
		}
		line("Deadline", req.TimeoutAt.UTC().Format(time.RFC3339))
	default:
		line("Status", req.Status.String())
		line("Reason", req.Reason)
		if len(req.AcceptedConditions) > 0 {
			line("Accepted conditions", strings.Join(req.AcceptedConditions, "; "))
		}
	}
	msg.Body = strings.TrimRight(b.String(), "\n")
	return msg
}

func targetOf(a *models.SecurityAction) string {
	for _, s := range []string{a.Target, a.TargetDomain, a.TargetIP} {
		if s != "" {
			return s
		}
	}
	return "(no target)"
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ",")
}
