package models

import "time"

// AuditEventType 审计事件类型。
type AuditEventType string

const (
	EventScopeValidation      AuditEventType = "scope_validation"
	EventApprovalRequested    AuditEventType = "approval_requested"
	EventApprovalDecided      AuditEventType = "approval_decided"
	EventApprovalTimeout      AuditEventType = "approval_timeout"
	EventApprovalCancelled    AuditEventType = "approval_cancelled"
	EventGrantReused          AuditEventType = "grant_reused"
	EventResubmissionRejected AuditEventType = "resubmission_rejected"
	EventAuditResumed         AuditEventType = "audit_resumed"
)

// Severity 审计事件严重级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ActorType 审计事件发起方类型。
type ActorType string

const (
	ActorAgent  ActorType = "agent"
	ActorHuman  ActorType = "human"
	ActorSystem ActorType = "system"
)

// AuditEvent 不可变、按会话哈希链接的审计事件。
// IntegrityHash 覆盖事件自身内容以及 PreviousHash，构成可验证的只追加链。
type AuditEvent struct {
	EventID       string         `json:"event_id"`
	EventType     AuditEventType `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	SessionID     string         `json:"session_id"`
	Details       map[string]any `json:"details,omitempty"`
	ActorType     ActorType      `json:"actor_type"`
	ActorID       string         `json:"actor_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Severity      Severity       `json:"severity"`
	Tags          []string       `json:"tags,omitempty"`
	PreviousHash  string         `json:"previous_hash"`
	IntegrityHash string         `json:"integrity_hash"`
}
