package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"xiezhi/internal/models"
)

// EnvPrefix 环境变量覆盖前缀。
const EnvPrefix = "XIEZHI_"

// LoadEnvFile 从 path 读取 .env 风格文件（KEY=VALUE），并 set 到当前进程环境变量。
// 空行与 # 开头行忽略；不覆盖已存在的环境变量（override 为 true 时覆盖）。
// 在 Load 之前调用，则 env 覆盖会使用 .env 中的值。
func LoadEnvFile(path string, override bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		if !ok || key == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if override || os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
	return sc.Err()
}

// Load 从 path 加载 YAML 配置，补齐默认值，应用 XIEZHI_ 环境变量覆盖后校验。
// 配置中的相对路径以配置文件所在目录为基准。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	c.applyDefaults()
	applyEnvOverrides(&c)
	c.resolvePaths(filepath.Dir(path))
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	abs(&c.ScopePath)
	abs(&c.PatternsPath)
	abs(&c.Audit.Path)
	abs(&c.Audit.Anchor.Dir)
	if c.Approval.Store.Driver == "json" {
		abs(&c.Approval.Store.Path)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 按 validate 标签校验，并检查标签无法表达的约束。
func Validate(c *Config) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("config invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config invalid: %w", err)
	}
	if c.Approval.AutoApproveMax.AtLeast(models.RiskCritical) {
		return errors.New("config invalid: approval.auto_approve_max must be below critical")
	}
	if c.Approval.EnforceApproverRoles && len(c.Approvers) == 0 {
		return errors.New("config invalid: approval.enforce_approver_roles requires approvers")
	}
	seen := make(map[string]bool, len(c.Approvers))
	for _, a := range c.Approvers {
		if seen[a.ID] {
			return fmt.Errorf("config invalid: duplicate approver id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

func envBool(v string) bool {
	v = strings.ToLower(v)
	return v == "true" || v == "1" || v == "yes"
}

// applyEnvOverrides 用 XIEZHI_ 前缀环境变量覆盖敏感或常用项。
func applyEnvOverrides(c *Config) {
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }
	if v := env("SCOPE_PATH"); v != "" {
		c.ScopePath = v
	}
	if v := env("PATTERNS_PATH"); v != "" {
		c.PatternsPath = v
	}
	if v := env("AUDIT_PATH"); v != "" {
		c.Audit.Path = v
	}
	if v := env("APPROVAL_STORE_DRIVER"); v != "" {
		c.Approval.Store.Driver = v
	}
	if v := env("APPROVAL_STORE_DSN"); v != "" {
		c.Approval.Store.DSN = v
	}
	if v := env("APPROVAL_TIMEOUT_UNIT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Approval.TimeoutUnitSeconds = n
		}
	}
	if v := env("AUTO_APPROVE_MAX"); v != "" {
		if l, err := models.ParseRiskLevel(v); err == nil && l != models.RiskUnset {
			c.Approval.AutoApproveMax = l
		}
	}
	if v := env("DNS_SERVERS"); v != "" {
		c.Network.DNSServers = strings.Split(v, ",")
	}
	if v := env("PRODUCTION"); v != "" {
		c.Environment.Production = envBool(v)
	}
	if v := env("FEISHU_APP_ID"); v != "" {
		c.Notify.Feishu.AppID = v
	}
	if v := env("FEISHU_APP_SECRET"); v != "" {
		c.Notify.Feishu.AppSecret = v
	}
	if v := env("FEISHU_CHAT_ID"); v != "" {
		c.Notify.Feishu.ChatID = v
	}
	if v := env("FEISHU_RECEIVE_ID_TYPE"); v != "" {
		c.Notify.Feishu.ReceiveIDType = v
	}
	if v := env("FEISHU_ENABLED"); v != "" {
		c.Notify.Feishu.Enabled = envBool(v)
	}
	if v := env("FEISHU_USE_CARD_DELIVERY"); v != "" {
		c.Notify.Feishu.UseCardDelivery = envBool(v)
	}
	if v := env("FEISHU_USE_LONG_CONNECTION"); v != "" {
		c.Notify.Feishu.UseLongConnection = envBool(v)
	}
	if v := env("FEISHU_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Notify.Feishu.RetryMaxAttempts = n
		}
	}
	if v := env("WEBHOOK_URL"); v != "" {
		c.Notify.Webhook.URL = v
		c.Notify.Webhook.Enabled = true
	}
	if v := env("WEBHOOK_SECRET"); v != "" {
		c.Notify.Webhook.Secret = v
	}
}

// LoadScope 读取授权范围文件（.json 以 JSON 解析，其余按 YAML）。
func LoadScope(path string) (*models.EngagementScope, error) {
	var s models.EngagementScope
	if err := decodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("scope file: %w", err)
	}
	return &s, nil
}

// LoadAction 读取单个动作文件（.json 以 JSON 解析，其余按 YAML）。
func LoadAction(path string) (*models.SecurityAction, error) {
	var a models.SecurityAction
	if err := decodeFile(path, &a); err != nil {
		return nil, fmt.Errorf("action file: %w", err)
	}
	return &a, nil
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}
