package ownership

import (
	"strings"

	"xiezhi/internal/models"
)

// Rule 按动作方法前缀与风险等级覆盖审批参数。空前缀、RiskUnset 表示任意。
type Rule struct {
	MethodPrefix   string              `json:"method_prefix,omitempty" yaml:"method_prefix,omitempty"`
	RiskLevel      models.RiskLevel    `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	TimeoutMinutes int                 `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty" validate:"gte=0"`
	MinRole        models.ApproverRole `json:"min_role,omitempty" yaml:"min_role,omitempty"`
}

// RuleMatch 单条规则匹配结果；零值表示不覆盖。
type RuleMatch struct {
	Matched        bool
	TimeoutMinutes int
	MinRole        models.ApproverRole
}

// RuleMatcher 顺序匹配审批规则，第一条命中生效。
type RuleMatcher struct {
	rules []Rule
}

// NewRuleMatcher 复制规则列表。
func NewRuleMatcher(rules []Rule) *RuleMatcher {
	return &RuleMatcher{rules: append([]Rule(nil), rules...)}
}

// Match 返回 method 与 level 命中的第一条规则；无命中或 m 为 nil 时返回零值。
func (m *RuleMatcher) Match(method string, level models.RiskLevel) RuleMatch {
	if m == nil {
		return RuleMatch{}
	}
	for _, r := range m.rules {
		if r.MethodPrefix != "" && !strings.HasPrefix(method, r.MethodPrefix) {
			continue
		}
		if r.RiskLevel != models.RiskUnset && r.RiskLevel != level {
			continue
		}
		return RuleMatch{Matched: true, TimeoutMinutes: r.TimeoutMinutes, MinRole: r.MinRole}
	}
	return RuleMatch{}
}

// Apply 将规则叠加到评估给出的角色与超时上：角色只升不降，超时仅在规则指定时替换。
func (m RuleMatch) Apply(role models.ApproverRole, timeoutMinutes int) (models.ApproverRole, int) {
	if !m.Matched {
		return role, timeoutMinutes
	}
	if m.MinRole.Rank() > role.Rank() {
		role = m.MinRole
	}
	if m.TimeoutMinutes > 0 {
		timeoutMinutes = m.TimeoutMinutes
	}
	return role, timeoutMinutes
}
