package models

import "fmt"

// PentestPhase 表示渗透测试阶段（封闭枚举）。零值为未知阶段，校验时视为无效。
type PentestPhase int

const (
	PhaseUnknown PentestPhase = iota
	PhaseReconnaissance
	PhaseScanning
	PhaseEnumeration
	PhaseVulnerabilityAnalysis
	PhaseExploitation
	PhasePostExploitation
	PhaseReporting
)

var phaseNames = map[PentestPhase]string{
	PhaseUnknown:               "unknown",
	PhaseReconnaissance:        "reconnaissance",
	PhaseScanning:              "scanning",
	PhaseEnumeration:           "enumeration",
	PhaseVulnerabilityAnalysis: "vulnerability_analysis",
	PhaseExploitation:          "exploitation",
	PhasePostExploitation:      "post_exploitation",
	PhaseReporting:             "reporting",
}

func (p PentestPhase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Valid 返回是否为已知阶段。
func (p PentestPhase) Valid() bool { return p > PhaseUnknown && p <= PhaseReporting }

// MarshalText 未知阶段写为空串，与 UnmarshalText 对称。
func (p PentestPhase) MarshalText() ([]byte, error) {
	if p == PhaseUnknown {
		return nil, nil
	}
	return []byte(p.String()), nil
}

func (p *PentestPhase) UnmarshalText(b []byte) error {
	if s := string(b); s == "" || s == phaseNames[PhaseUnknown] {
		*p = PhaseUnknown
		return nil
	}
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePhase 将名称解析为阶段；未知名称返回错误。
func ParsePhase(s string) (PentestPhase, error) {
	for k, v := range phaseNames {
		if v == s && k != PhaseUnknown {
			return k, nil
		}
	}
	return PhaseUnknown, fmt.Errorf("models: unknown pentest phase %q", s)
}

// RiskLevel 离散风险等级。比较一律走 Rank()，不依赖声明顺序。
type RiskLevel int

const (
	RiskUnset RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

// riskRank 显式数值等级表。
var riskRank = map[RiskLevel]int{
	RiskUnset:    0,
	RiskLow:      10,
	RiskMedium:   20,
	RiskHigh:     30,
	RiskCritical: 40,
}

var riskNames = map[RiskLevel]string{
	RiskUnset:    "",
	RiskLow:      "low",
	RiskMedium:   "medium",
	RiskHigh:     "high",
	RiskCritical: "critical",
}

// Rank 返回等级数值；未知值按 0 处理。
func (r RiskLevel) Rank() int { return riskRank[r] }

// AtMost 返回 r 是否不高于 other。
func (r RiskLevel) AtMost(other RiskLevel) bool { return r.Rank() <= other.Rank() }

// AtLeast 返回 r 是否不低于 other。
func (r RiskLevel) AtLeast(other RiskLevel) bool { return r.Rank() >= other.Rank() }

// MaxRisk 返回两者中较高者。
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func (r RiskLevel) String() string {
	if s, ok := riskNames[r]; ok {
		if s == "" {
			return "unset"
		}
		return s
	}
	return fmt.Sprintf("risk(%d)", int(r))
}

func (r RiskLevel) MarshalText() ([]byte, error) { return []byte(riskNames[r]), nil }

func (r *RiskLevel) UnmarshalText(b []byte) error {
	v, err := ParseRiskLevel(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRiskLevel 解析风险等级名称（大小写不敏感）；空串为 RiskUnset。
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "":
		return RiskUnset, nil
	case "low", "LOW", "Low":
		return RiskLow, nil
	case "medium", "MEDIUM", "Medium":
		return RiskMedium, nil
	case "high", "HIGH", "High":
		return RiskHigh, nil
	case "critical", "CRITICAL", "Critical":
		return RiskCritical, nil
	}
	return RiskUnset, fmt.Errorf("models: unknown risk level %q", s)
}

// ApproverRole 审批人角色，按 Rank 升序：analyst < senior_pentester < security_lead < ciso。
type ApproverRole int

const (
	RoleNone ApproverRole = iota
	RoleAnalyst
	RoleSeniorPentester
	RoleSecurityLead
	RoleCISO
)

var roleNames = map[ApproverRole]string{
	RoleNone:            "",
	RoleAnalyst:         "analyst",
	RoleSeniorPentester: "senior_pentester",
	RoleSecurityLead:    "security_lead",
	RoleCISO:            "ciso",
}

var roleRank = map[ApproverRole]int{
	RoleNone:            0,
	RoleAnalyst:         1,
	RoleSeniorPentester: 2,
	RoleSecurityLead:    3,
	RoleCISO:            4,
}

func (r ApproverRole) Rank() int { return roleRank[r] }

// Escalate 返回上一级角色；ciso 为顶。
func (r ApproverRole) Escalate() ApproverRole {
	switch r {
	case RoleNone, RoleAnalyst:
		return RoleSeniorPentester
	case RoleSeniorPentester:
		return RoleSecurityLead
	default:
		return RoleCISO
	}
}

// Satisfies 返回 r 是否有资格审批要求 required 的请求。
func (r ApproverRole) Satisfies(required ApproverRole) bool { return r.Rank() >= required.Rank() }

func (r ApproverRole) String() string {
	if s, ok := roleNames[r]; ok && s != "" {
		return s
	}
	if r == RoleNone {
		return "none"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r ApproverRole) MarshalText() ([]byte, error) { return []byte(roleNames[r]), nil }

func (r *ApproverRole) UnmarshalText(b []byte) error {
	v, err := ParseApproverRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseApproverRole 解析角色名称；空串为 RoleNone。
func ParseApproverRole(s string) (ApproverRole, error) {
	for k, v := range roleNames {
		if v == s {
			return k, nil
		}
	}
	return RoleNone, fmt.Errorf("models: unknown approver role %q", s)
}

// ApprovalStatus 审批状态机：pending 为唯一非终态。
type ApprovalStatus int

const (
	ApprovalPending ApprovalStatus = iota
	ApprovalApproved
	ApprovalDenied
	ApprovalTimeout
	ApprovalCancelled
)

var statusNames = map[ApprovalStatus]string{
	ApprovalPending:   "pending",
	ApprovalApproved:  "approved",
	ApprovalDenied:    "denied",
	ApprovalTimeout:   "timeout",
	ApprovalCancelled: "cancelled",
}

// IsTerminal 返回是否已终态（不再接受任何转移）。
func (s ApprovalStatus) IsTerminal() bool {
	switch s {
	case ApprovalApproved, ApprovalDenied, ApprovalTimeout, ApprovalCancelled:
		return true
	}
	return false
}

func (s ApprovalStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s ApprovalStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ApprovalStatus) UnmarshalText(b []byte) error {
	for k, v := range statusNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("models: unknown approval status %q", string(b))
}
