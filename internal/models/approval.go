package models

import "time"

// SystemApprover 自动审批时记录的审批人标识。
const SystemApprover = "system"

// ApprovalRequest 表示一次有时限的人工审批单元。
// 由 approval.Workflow 在不满足自动审批时创建；只在终态决策时修改一次，之后归档。
type ApprovalRequest struct {
	RequestID          string          `json:"request_id"`
	Action             SecurityAction  `json:"action"`
	Risk               RiskAssessment  `json:"risk"`
	RequestedBy        string          `json:"requested_by"`
	Justification      string          `json:"justification,omitempty"`
	RequestedAt        time.Time       `json:"requested_at"`
	TimeoutAt          time.Time       `json:"timeout_at"`
	RequiredRole       ApproverRole    `json:"required_approver_role"`
	Conditions         []string        `json:"approval_conditions,omitempty"`
	Status             ApprovalStatus  `json:"status"`
	AutoApproved       bool            `json:"auto_approved,omitempty"`
	DecidedBy          string          `json:"decided_by,omitempty"`
	DecidedAt          time.Time       `json:"decided_at,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	AcceptedConditions []string        `json:"accepted_conditions,omitempty"`
	Notifications      map[string]bool `json:"notifications,omitempty"` // channel -> 投递是否成功
}

// Clone 返回深拷贝，避免调用方持有内部可变状态。
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Action.TargetPorts = append([]int(nil), r.Action.TargetPorts...)
	if r.Action.Metadata != nil {
		c.Action.Metadata = make(map[string]string, len(r.Action.Metadata))
		for k, v := range r.Action.Metadata {
			c.Action.Metadata[k] = v
		}
	}
	c.Risk.RiskFactors = append([]string(nil), r.Risk.RiskFactors...)
	c.Risk.RecommendedConditions = append([]string(nil), r.Risk.RecommendedConditions...)
	if r.Risk.SubScores != nil {
		c.Risk.SubScores = make(map[RiskFactor]float64, len(r.Risk.SubScores))
		for k, v := range r.Risk.SubScores {
			c.Risk.SubScores[k] = v
		}
	}
	c.Conditions = append([]string(nil), r.Conditions...)
	c.AcceptedConditions = append([]string(nil), r.AcceptedConditions...)
	if r.Notifications != nil {
		c.Notifications = make(map[string]bool, len(r.Notifications))
		for k, v := range r.Notifications {
			c.Notifications[k] = v
		}
	}
	return &c
}

// Expired 返回 pending 请求在 now 时是否已过截止时间。
func (r *ApprovalRequest) Expired(now time.Time) bool {
	return r.Status == ApprovalPending && !now.Before(r.TimeoutAt)
}

// ApprovalRecord 是供存储协作者持久化的审批记录。
type ApprovalRecord struct {
	RequestID          string         `json:"request_id"`
	ActionID           string         `json:"action_id"`
	ActionFingerprint  string         `json:"action_fingerprint"`
	Action             SecurityAction `json:"action"`
	Risk               RiskAssessment `json:"risk"`
	RequestedBy        string         `json:"requested_by"`
	RequestedAt        time.Time      `json:"requested_at"`
	TimeoutAt          time.Time      `json:"timeout_at"`
	RequiredRole       ApproverRole   `json:"required_approver_role"`
	Conditions         []string       `json:"approval_conditions,omitempty"`
	Status             ApprovalStatus `json:"status"`
	ApprovedBy         string         `json:"approved_by,omitempty"`
	ApprovedAt         time.Time      `json:"approved_at,omitempty"`
	DenialReason       string         `json:"denial_reason,omitempty"`
	DecidedBy          string         `json:"decided_by,omitempty"` // 任一终态的决策者；超时为 system
	DecidedAt          time.Time      `json:"decided_at,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	AcceptedConditions []string       `json:"accepted_conditions,omitempty"`
	ValidUntil         time.Time      `json:"valid_until,omitempty"` // 仅 approved 有效：在此之前重复提交可复用授权
}

// Record 从请求生成持久化记录；validity 为批准后授权的有效期。
func (r *ApprovalRequest) Record(validity time.Duration) *ApprovalRecord {
	c := r.Clone()
	rec := &ApprovalRecord{
		RequestID:          c.RequestID,
		ActionID:           c.Action.ActionID,
		ActionFingerprint:  c.Action.Fingerprint(),
		Action:             c.Action,
		Risk:               c.Risk,
		RequestedBy:        c.RequestedBy,
		RequestedAt:        c.RequestedAt,
		TimeoutAt:          c.TimeoutAt,
		RequiredRole:       c.RequiredRole,
		Conditions:         c.Conditions,
		Status:             c.Status,
		AcceptedConditions: c.AcceptedConditions,
	}
	if c.Status.IsTerminal() {
		rec.DecidedBy = c.DecidedBy
		rec.DecidedAt = c.DecidedAt
		rec.Reason = c.Reason
	}
	switch c.Status {
	case ApprovalApproved:
		rec.ApprovedBy = c.DecidedBy
		rec.ApprovedAt = c.DecidedAt
		rec.ValidUntil = c.DecidedAt.Add(validity)
	case ApprovalDenied, ApprovalTimeout, ApprovalCancelled:
		rec.DenialReason = c.Reason
	}
	return rec
}

// Grants 返回该记录在 now 时是否仍可作为有效授权复用。
func (r *ApprovalRecord) Grants(now time.Time) bool {
	return r != nil && r.Status == ApprovalApproved && now.Before(r.ValidUntil)
}
