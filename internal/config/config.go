// Package config 提供统一配置模型与加载（YAML + .env + env override + 校验）。
package config

import (
	"xiezhi/internal/models"
	"xiezhi/internal/ownership"
	"xiezhi/internal/risk"
)

// Config 根配置；敏感项由 env 覆盖（见 Load）。CLI 各子命令共用。
type Config struct {
	ScopePath    string `yaml:"scope_path" validate:"required"`
	PatternsPath string `yaml:"patterns_path,omitempty"` // 语料扩展文件，空则只用内置语料

	Audit       AuditConfig      `yaml:"audit"`
	Approval    ApprovalConfig   `yaml:"approval"`
	Risk        risk.Config      `yaml:"risk"`
	Environment risk.Environment `yaml:"environment"`
	Network     NetworkConfig    `yaml:"network"`
	Notify      NotifyConfig     `yaml:"notify"`

	Approvers        []ownership.Approver `yaml:"approvers,omitempty" validate:"dive"`
	ApproverDefaults map[string][]string  `yaml:"approver_defaults,omitempty"` // channel（或 "*"）-> 无人登记时的默认地址
	ApprovalRules    []ownership.Rule     `yaml:"approval_rules,omitempty" validate:"dive"`
}

// AuditConfig 审计 JSONL 路径与 Merkle 存证。
type AuditConfig struct {
	Path   string       `yaml:"path" validate:"required"`
	Anchor AnchorConfig `yaml:"anchor"`
}

// AnchorConfig 审计存证：按批把 integrity_hash 写入本地 Merkle 账本。
type AnchorConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Dir             string `yaml:"dir" validate:"required_if=Enabled true"`
	BatchSize       int    `yaml:"batch_size" validate:"gte=0"`
	IntervalSeconds int    `yaml:"interval_seconds" validate:"gte=0"`
}

// ApprovalConfig 审批工作流参数。
type ApprovalConfig struct {
	AutoApproveMax       models.RiskLevel `yaml:"auto_approve_max"`     // 不高于此等级自动批准，默认 low
	TimeoutUnitSeconds   int              `yaml:"timeout_unit_seconds" validate:"gte=0"` // 超时分钟数的换算单位，默认 60
	GrantValidityMinutes int              `yaml:"grant_validity_minutes" validate:"gte=0"`
	PollIntervalSeconds  int              `yaml:"poll_interval_seconds" validate:"gte=0"`
	EnforceApproverRoles bool             `yaml:"enforce_approver_roles"` // 为 true 时审批人必须在 approvers 中且角色足够
	Store                StoreConfig      `yaml:"store"`
}

// StoreConfig 审批记录存储：memory / json / postgres。
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=memory json postgres"`
	Path   string `yaml:"path" validate:"required_if=Driver json"` // json：目录
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// NetworkConfig 网络层解析与出口策略。
type NetworkConfig struct {
	DNSServers        []string `yaml:"dns_servers,omitempty" validate:"dive,required"`
	DNSTimeoutSeconds int      `yaml:"dns_timeout_seconds" validate:"gte=0"`
	CacheTTLSeconds   int      `yaml:"cache_ttl_seconds"` // <0 关闭缓存
	BlockedCIDRs      []string `yaml:"blocked_cidrs,omitempty" validate:"dive,cidr"`
	BlockedPorts      []int    `yaml:"blocked_ports,omitempty" validate:"dive,gte=1,lte=65535"`
	AllowAll          bool     `yaml:"allow_all"` // 关闭出口策略（仅测试环境）
}

// NotifyConfig 通知渠道。
type NotifyConfig struct {
	TimeoutSeconds int           `yaml:"timeout_seconds" validate:"gte=0"` // 单渠道投递超时
	Log            bool          `yaml:"log"`
	Feishu         FeishuConfig  `yaml:"feishu"`
	Webhook        WebhookConfig `yaml:"webhook"`
}

// FeishuConfig 飞书应用配置；敏感项从 env 覆盖。
type FeishuConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AppID         string `yaml:"app_id" validate:"required_if=Enabled true"`
	AppSecret     string `yaml:"app_secret" validate:"required_if=Enabled true"` // 实际从 XIEZHI_FEISHU_APP_SECRET 覆盖
	ChatID        string `yaml:"chat_id"`                                        // 群聊 ID（无收件人时兜底投递）
	ReceiveIDType string `yaml:"receive_id_type" validate:"omitempty,oneof=open_id user_id union_id email chat_id"`
	// UseCardDelivery 为 true 时发交互卡片（批准/拒绝按钮）；UseLongConnection 为 true 时启动长连接接收卡片点击。
	UseCardDelivery            bool `yaml:"use_card_delivery"`
	UseLongConnection          bool `yaml:"use_long_connection"`
	RetryMaxAttempts           int  `yaml:"retry_max_attempts" validate:"gte=0"`
	RetryInitialBackoffSeconds int  `yaml:"retry_initial_backoff_seconds" validate:"gte=0"`
}

// WebhookConfig 通用 JSON webhook（企业微信、钉钉、Slack 兼容网关等）。
type WebhookConfig struct {
	Enabled        bool              `yaml:"enabled"`
	URL            string            `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Secret         string            `yaml:"secret,omitempty"` // 非空时附 HMAC-SHA256 签名头
	TimeoutSeconds int               `yaml:"timeout_seconds" validate:"gte=0"`
	Headers        map[string]string `yaml:"headers,omitempty"`
}

// Default 返回全部默认值；Load 只补齐配置文件中的零值字段。
func Default() Config {
	return Config{
		ScopePath: "scope.yaml",
		Audit:     AuditConfig{Path: "data/audit.jsonl", Anchor: AnchorConfig{BatchSize: 50, IntervalSeconds: 30}},
		Approval: ApprovalConfig{
			AutoApproveMax:       models.RiskLow,
			TimeoutUnitSeconds:   60,
			GrantValidityMinutes: 60,
			PollIntervalSeconds:  5,
			Store:                StoreConfig{Driver: "memory"},
		},
		Risk:    risk.DefaultConfig(),
		Network: NetworkConfig{DNSTimeoutSeconds: 3, CacheTTLSeconds: 300},
		Notify:  NotifyConfig{TimeoutSeconds: 10, Log: true},
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.ScopePath == "" {
		c.ScopePath = d.ScopePath
	}
	if c.Audit.Path == "" {
		c.Audit.Path = d.Audit.Path
	}
	if c.Audit.Anchor.BatchSize == 0 {
		c.Audit.Anchor.BatchSize = d.Audit.Anchor.BatchSize
	}
	if c.Audit.Anchor.IntervalSeconds == 0 {
		c.Audit.Anchor.IntervalSeconds = d.Audit.Anchor.IntervalSeconds
	}
	if c.Approval.AutoApproveMax == models.RiskUnset {
		c.Approval.AutoApproveMax = d.Approval.AutoApproveMax
	}
	if c.Approval.TimeoutUnitSeconds == 0 {
		c.Approval.TimeoutUnitSeconds = d.Approval.TimeoutUnitSeconds
	}
	if c.Approval.GrantValidityMinutes == 0 {
		c.Approval.GrantValidityMinutes = d.Approval.GrantValidityMinutes
	}
	if c.Approval.PollIntervalSeconds == 0 {
		c.Approval.PollIntervalSeconds = d.Approval.PollIntervalSeconds
	}
	if c.Approval.Store.Driver == "" {
		c.Approval.Store.Driver = d.Approval.Store.Driver
	}
	if c.Network.DNSTimeoutSeconds == 0 {
		c.Network.DNSTimeoutSeconds = d.Network.DNSTimeoutSeconds
	}
	if c.Network.CacheTTLSeconds == 0 {
		c.Network.CacheTTLSeconds = d.Network.CacheTTLSeconds
	}
	if c.Notify.TimeoutSeconds == 0 {
		c.Notify.TimeoutSeconds = d.Notify.TimeoutSeconds
	}
}
