// Package models 提供 scope、risk、approval、audit 等组件共用的治理数据类型。
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SecurityAction 表示上游规划器提交的一次待校验/审批的安全动作。
// 创建后不可修改，只被引用；同一 action_id 不得以修改后的副本重复提交。
type SecurityAction struct {
	ActionID        string            `json:"action_id" yaml:"action_id" validate:"required,max=128"`
	SessionID       string            `json:"session_id,omitempty" yaml:"session_id,omitempty" validate:"max=128"`
	ActionType      string            `json:"action_type" yaml:"action_type" validate:"required,max=64"`
	Method          string            `json:"method,omitempty" yaml:"method,omitempty" validate:"max=64"` // 空时回退到 ActionType
	Target          string            `json:"target,omitempty" yaml:"target,omitempty" validate:"max=2048"`
	TargetIP        string            `json:"target_ip,omitempty" yaml:"target_ip,omitempty" validate:"max=256"`
	TargetDomain    string            `json:"target_domain,omitempty" yaml:"target_domain,omitempty" validate:"max=253"`
	TargetPorts     []int             `json:"target_ports,omitempty" yaml:"target_ports,omitempty" validate:"max=65535"`
	ToolName        string            `json:"tool_name,omitempty" yaml:"tool_name,omitempty" validate:"max=128"`
	Command         string            `json:"command,omitempty" yaml:"command,omitempty" validate:"max=16384"`
	Phase           PentestPhase      `json:"phase" yaml:"phase" validate:"required"`
	RiskLevel       RiskLevel         `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	RequiresNetwork bool              `json:"requires_network" yaml:"requires_network"`
	IsDestructive   bool              `json:"is_destructive" yaml:"is_destructive"`
	CreatedAt       time.Time         `json:"created_at" yaml:"created_at"`
	CreatedBy       string            `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// EffectiveMethod 返回用于方法白名单比对的名称。
func (a *SecurityAction) EffectiveMethod() string {
	if a.Method != "" {
		return a.Method
	}
	return a.ActionType
}

// HasTarget 返回动作是否声明了任何目标字段。
func (a *SecurityAction) HasTarget() bool {
	return a.Target != "" || a.TargetIP != "" || a.TargetDomain != ""
}

// Fingerprint 对决定执行语义的字段做 SHA-256，用于识别被篡改后以同一 action_id 重复提交的动作。
func (a *SecurityAction) Fingerprint() string {
	ports := append([]int(nil), a.TargetPorts...)
	sort.Ints(ports)
	ps := make([]string, len(ports))
	for i, p := range ports {
		ps[i] = strconv.Itoa(p)
	}
	fields := []string{
		a.ActionID,
		a.ActionType,
		a.EffectiveMethod(),
		a.Target,
		a.TargetIP,
		a.TargetDomain,
		strings.Join(ps, ","),
		a.ToolName,
		a.Command,
		a.Phase.String(),
		strconv.FormatBool(a.RequiresNetwork),
		strconv.FormatBool(a.IsDestructive),
	}
	data, _ := json.Marshal(fields)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// AuditSnapshot 审计 details 中的动作快照。
func (a *SecurityAction) AuditSnapshot() map[string]any {
	return map[string]any{
		"action_id":        a.ActionID,
		"action_type":      a.ActionType,
		"method":           a.EffectiveMethod(),
		"target":           a.Target,
		"target_ip":        a.TargetIP,
		"target_domain":    a.TargetDomain,
		"target_ports":     a.TargetPorts,
		"tool_name":        a.ToolName,
		"command":          a.Command,
		"phase":            a.Phase.String(),
		"requires_network": a.RequiresNetwork,
		"fingerprint":      a.Fingerprint(),
	}
}
