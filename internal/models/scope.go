package models

import "time"

// EngagementScope 表示一次已签署、有时限的渗透测试授权边界；会话内不可变。
// 排除项永远优先于包含项。端口、方法、时间窗的空白名单表示不限制；
// IP 段与域名的空白名单表示不授权任何目标。
type EngagementScope struct {
	EngagementID      string       `json:"engagement_id" yaml:"engagement_id"`
	SessionID         string       `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	IPRanges          []string     `json:"ip_ranges,omitempty" yaml:"ip_ranges,omitempty"`               // CIDR 或单个 IP
	Domains           []string     `json:"domains,omitempty" yaml:"domains,omitempty"`                   // example.com 或 *.example.com
	ExcludedIPs       []string     `json:"excluded_ips,omitempty" yaml:"excluded_ips,omitempty"`         // CIDR 或单个 IP
	ExcludedDomains   []string     `json:"excluded_domains,omitempty" yaml:"excluded_domains,omitempty"` // 同 Domains 语法
	AllowedPorts      []int        `json:"allowed_ports,omitempty" yaml:"allowed_ports,omitempty"`
	ExcludedPorts     []int        `json:"excluded_ports,omitempty" yaml:"excluded_ports,omitempty"`
	AllowedMethods    []string     `json:"allowed_methods,omitempty" yaml:"allowed_methods,omitempty"`
	ProhibitedMethods []string     `json:"prohibited_methods,omitempty" yaml:"prohibited_methods,omitempty"`
	TimeWindows       []TimeWindow `json:"time_windows,omitempty" yaml:"time_windows,omitempty"`
	StartDate         time.Time    `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate           time.Time    `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	ApprovalThreshold RiskLevel    `json:"approval_threshold,omitempty" yaml:"approval_threshold,omitempty"`
}

// TimeWindow 允许执行的时间窗。Days 为空表示每天；End 早于 Start 表示跨午夜。
type TimeWindow struct {
	Days     []string `json:"days,omitempty" yaml:"days,omitempty"` // mon..sun
	Start    string   `json:"start" yaml:"start"`                   // HH:MM
	End      string   `json:"end" yaml:"end"`                       // HH:MM
	Timezone string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}
