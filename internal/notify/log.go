package notify

import (
	"context"
	"log/slog"
)

// LogChannel 把通知写入结构化日志；开发环境与兜底渠道。
type LogChannel struct {
	log *slog.Logger
}

// NewLogChannel l 为 nil 时使用 slog.Default()。
func NewLogChannel(l *slog.Logger) *LogChannel {
	if l == nil {
		l = slog.Default()
	}
	return &LogChannel{log: l}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, msg *Message) error {
	c.log.InfoContext(ctx, msg.Title,
		"notification", string(msg.Type),
		"request_id", msg.RequestID,
		"action_id", msg.ActionID,
		"status", msg.Status.String(),
		"risk_level", msg.RiskLevel.String(),
		"recipients", msg.Recipients,
	)
	return nil
}
