// Package approval 提供带超时状态机的人工审批工作流：自动批准低风险动作，其余挂起、通知并等待决策。
package approval

import (
	"errors"
	"time"

	"xiezhi/internal/models"
)

// ErrNotFound 审批请求不存在。
var ErrNotFound = errors.New("approval: request not found")

// ErrAlreadyProcessed 请求已处于终态（重复提交决策时返回）。
var ErrAlreadyProcessed = errors.New("approval: request already processed")

// ErrExpired 决策到达时已过截止时间；请求随即转为 timeout。
var ErrExpired = errors.New("approval: request expired")

// ErrInsufficientRole 审批人未登记或角色低于请求要求的角色。
var ErrInsufficientRole = errors.New("approval: approver role insufficient")

// ErrMutatedResubmission 同一 action_id 已有挂起请求，但重提的动作内容与之不同。
var ErrMutatedResubmission = errors.New("approval: action differs from pending request")

// Config 工作流参数；零值字段取默认。
type Config struct {
	AutoApproveMax models.RiskLevel // 不高于此等级自动批准，默认 low
	TimeoutUnit    time.Duration    // 评估给出的超时分钟数乘以此单位，默认 1 分钟
	GrantValidity  time.Duration    // 批准后授权可复用的时长，默认 1 小时
	PollInterval   time.Duration    // Wait 的兜底轮询间隔，默认 5s
	SessionID      string           // 动作未带 session_id 时审计使用的会话
}

func (c Config) withDefaults() Config {
	if c.AutoApproveMax == models.RiskUnset {
		c.AutoApproveMax = models.RiskLow
	}
	if c.TimeoutUnit <= 0 {
		c.TimeoutUnit = time.Minute
	}
	if c.GrantValidity <= 0 {
		c.GrantValidity = time.Hour
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.SessionID == "" {
		c.SessionID = "default"
	}
	return c
}

// 审计与通知中使用的固定原因。
const (
	ReasonTimeout     = "approval timed out"
	ReasonAutoApprove = "risk at or below auto-approve floor"
)

// ErrClosed 工作流已关闭，不再接受新请求。
var ErrClosed = errors.New("approval: workflow closed")
