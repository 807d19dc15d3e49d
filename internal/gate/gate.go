// Package gate 串联授权边界校验与审批：只有校验通过且已批准（自动或人工）的动作才可交给执行器。
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"xiezhi/internal/approval"
	"xiezhi/internal/audit"
	"xiezhi/internal/models"
	"xiezhi/internal/risk"
	"xiezhi/internal/scope"
)

// ErrAuditHalted 审计写入失败后拒绝一切新的校验与审批，直到审计恢复。
var ErrAuditHalted = errors.New("gate: audit halted")

// RejectionKind 拒绝原因类别。
type RejectionKind string

const (
	KindScopeViolation      RejectionKind = "scope_violation"
	KindMalformedAction     RejectionKind = "malformed_action"
	KindMutatedResubmission RejectionKind = "mutated_resubmission"
	KindApprovalDenied      RejectionKind = "approval_denied"
	KindApprovalTimeout     RejectionKind = "approval_timeout"
	KindApprovalCancelled   RejectionKind = "approval_cancelled"
)

// Rejection 描述动作为何不可执行。
type Rejection struct {
	Kind   RejectionKind    `json:"kind"`
	Layer  models.LayerName `json:"layer,omitempty"`
	Rules  []string         `json:"rules,omitempty"`
	Reason string           `json:"reason"`
}

// Verdict Submit 的结论。Executable 为 true 时 Rejection 为 nil。
type Verdict struct {
	ActionID   string                   `json:"action_id"`
	Executable bool                     `json:"executable"`
	Status     models.ApprovalStatus    `json:"status"`
	Reused     bool                     `json:"reused,omitempty"`
	Validation *models.ValidationResult `json:"validation,omitempty"`
	Request    *models.ApprovalRequest  `json:"request,omitempty"`
	Grant      *models.ApprovalRecord   `json:"grant,omitempty"`
	Rejection  *Rejection               `json:"rejection,omitempty"`
}

// Denied 执行器视角：拒绝、超时、取消与越界一律不可执行。
func (v *Verdict) Denied() bool { return v == nil || !v.Executable }

// Approvals Gate 依赖的审批工作流能力。
type Approvals interface {
	RequestApproval(ctx context.Context, a *models.SecurityAction, requester, justification string, env *risk.Environment) (*models.ApprovalRequest, error)
	CheckActionApproval(ctx context.Context, actionID string) *models.ApprovalRecord
	Wait(ctx context.Context, requestID string) (*models.ApprovalRequest, error)
}

type halter interface {
	Halted() bool
}

// Gate 单进程治理入口。
type Gate struct {
	validator scope.Validator
	approvals Approvals
	recorder  audit.Recorder
	session   string
	log       *slog.Logger
}

// Option 配置 Gate。
type Option func(*Gate)

// WithRecorder 审计写入点；实现 Halted() 时 Submit 先检查停写状态。
func WithRecorder(r audit.Recorder) Option { return func(g *Gate) { g.recorder = r } }

// WithSessionID 动作未带 session_id 时复用授权事件使用的会话。
func WithSessionID(id string) Option { return func(g *Gate) { g.session = id } }

func WithLogger(l *slog.Logger) Option { return func(g *Gate) { g.log = l } }

func New(v scope.Validator, a Approvals, opts ...Option) *Gate {
	g := &Gate{validator: v, approvals: a, session: "default", log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Submit 校验、复用或申请审批并等待决策。越界、畸形、拒绝、超时、取消都以 Verdict 返回；
// error 仅表示审计失败（包装 ErrAuditHalted）或 ctx 结束。
func (g *Gate) Submit(ctx context.Context, a *models.SecurityAction, requester, justification string, env *risk.Environment) (*Verdict, error) {
	if h, ok := g.recorder.(halter); ok && h.Halted() {
		return nil, ErrAuditHalted
	}

	res, err := g.validator.Validate(ctx, a)
	if err != nil {
		var merr *scope.MalformedActionError
		if errors.As(err, &merr) {
			rules := make([]string, len(merr.Fields))
			for i, f := range merr.Fields {
				rules[i] = f.String()
			}
			return &Verdict{
				ActionID:  merr.ActionID,
				Status:    models.ApprovalDenied,
				Rejection: &Rejection{Kind: KindMalformedAction, Rules: rules, Reason: merr.Error()},
			}, nil
		}
		return nil, g.fatal(err)
	}
	v := &Verdict{ActionID: a.ActionID, Validation: res}
	if !res.Valid {
		v.Status = models.ApprovalDenied
		v.Rejection = &Rejection{
			Kind:   KindScopeViolation,
			Layer:  res.BlockedAt,
			Rules:  res.Violations(),
			Reason: fmt.Sprintf("blocked at %s layer", res.BlockedAt),
		}
		return v, nil
	}

	if grant := g.approvals.CheckActionApproval(ctx, a.ActionID); grant != nil {
		return g.reuse(ctx, v, a, grant)
	}

	req, err := g.approvals.RequestApproval(ctx, a, requester, justification, env)
	if errors.Is(err, approval.ErrMutatedResubmission) {
		return g.rejectMutated(ctx, v, a, err)
	}
	if err != nil {
		return nil, g.fatal(err)
	}
	if req.Status == models.ApprovalPending {
		g.log.Info("awaiting approval", "action_id", a.ActionID, "request_id", req.RequestID, "timeout_at", req.TimeoutAt)
		final, err := g.approvals.Wait(ctx, req.RequestID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, g.fatal(err)
		}
		req = final
	}
	v.Request = req
	v.Status = req.Status
	switch req.Status {
	case models.ApprovalApproved:
		v.Executable = true
	case models.ApprovalDenied:
		v.Rejection = &Rejection{Kind: KindApprovalDenied, Reason: req.Reason}
	case models.ApprovalTimeout:
		v.Rejection = &Rejection{Kind: KindApprovalTimeout, Reason: req.Reason}
	default:
		v.Rejection = &Rejection{Kind: KindApprovalCancelled, Reason: req.Reason}
	}
	return v, nil
}

// reuse 复用已有授权；指纹不一致视为同一 action_id 下的篡改重提。
func (g *Gate) reuse(ctx context.Context, v *Verdict, a *models.SecurityAction, grant *models.ApprovalRecord) (*Verdict, error) {
	fp := a.Fingerprint()
	match := grant.ActionFingerprint == fp
	sev, tags := models.SeverityInfo, []string{"approval", "grant"}
	if !match {
		sev, tags = models.SeverityCritical, append(tags, "mutated")
	}
	if g.recorder != nil {
		ev := &models.AuditEvent{
			EventType: models.EventGrantReused,
			SessionID: g.sessionOf(a),
			Details: map[string]any{
				"request_id":        grant.RequestID,
				"action":            a.AuditSnapshot(),
				"grant_fingerprint": grant.ActionFingerprint,
				"reused":            match,
				"approved_by":       grant.ApprovedBy,
				"valid_until":       grant.ValidUntil.UTC().Format(time.RFC3339Nano),
			},
			ActorType:     models.ActorSystem,
			ActorID:       "gate",
			CorrelationID: a.ActionID,
			Severity:      sev,
			Tags:          tags,
		}
		if err := g.recorder.Record(ctx, ev); err != nil {
			return nil, g.fatal(err)
		}
	}
	v.Grant = grant
	if !match {
		g.log.Warn("mutated resubmission rejected", "action_id", a.ActionID, "request_id", grant.RequestID)
		v.Status = models.ApprovalDenied
		v.Rejection = &Rejection{
			Kind:   KindMutatedResubmission,
			Reason: "action differs from the approved request " + grant.RequestID,
		}
		return v, nil
	}
	g.log.Debug("approval grant reused", "action_id", a.ActionID, "request_id", grant.RequestID)
	v.Executable = true
	v.Reused = true
	v.Status = models.ApprovalApproved
	return v, nil
}

// rejectMutated 同一 action_id 的挂起请求仍在等待决策，而重提的动作内容已变。
func (g *Gate) rejectMutated(ctx context.Context, v *Verdict, a *models.SecurityAction, cause error) (*Verdict, error) {
	if g.recorder != nil {
		ev := &models.AuditEvent{
			EventType: models.EventResubmissionRejected,
			SessionID: g.sessionOf(a),
			Details: map[string]any{
				"action": a.AuditSnapshot(),
				"reason": cause.Error(),
			},
			ActorType:     models.ActorSystem,
			ActorID:       "gate",
			CorrelationID: a.ActionID,
			Severity:      models.SeverityCritical,
			Tags:          []string{"approval", "pending", "mutated"},
		}
		if err := g.recorder.Record(ctx, ev); err != nil {
			return nil, g.fatal(err)
		}
	}
	g.log.Warn("mutated resubmission rejected", "action_id", a.ActionID, "error", cause)
	v.Status = models.ApprovalDenied
	v.Rejection = &Rejection{Kind: KindMutatedResubmission, Reason: cause.Error()}
	return v, nil
}

func (g *Gate) sessionOf(a *models.SecurityAction) string {
	if a.SessionID != "" {
		return a.SessionID
	}
	return g.session
}

func (g *Gate) fatal(err error) error {
	if errors.Is(err, audit.ErrWriteFailure) || errors.Is(err, audit.ErrHalted) {
		g.log.Error("audit failure; refusing further actions", "error", err)
		return fmt.Errorf("%w: %w", ErrAuditHalted, err)
	}
	return err
}
