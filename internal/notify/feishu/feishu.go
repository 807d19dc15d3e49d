// Package feishu 飞书通知渠道：通过官方 SDK 发送文本或交互卡片，长连接接收卡片按钮点击完成审批。
package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"xiezhi/internal/config"
	"xiezhi/internal/notify"
)

// 卡片按钮 value 中的动作取值。
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

type sendFunc func(ctx context.Context, receiveIDType, receiveID, msgType, content string) error

// Channel 飞书渠道。收件人为空时投递到 chat_id。
type Channel struct {
	cfg   config.FeishuConfig
	send  sendFunc
	sleep func(context.Context, time.Duration) error
	log   *slog.Logger
}

// New 根据飞书配置创建；app_secret 应从环境变量读取（config.Load 已做 env 覆盖）。
func New(cfg config.FeishuConfig, lg *slog.Logger) *Channel {
	if lg == nil {
		lg = slog.Default()
	}
	c := &Channel{cfg: cfg, sleep: sleepCtx, log: lg}
	client := lark.NewClient(cfg.AppID, cfg.AppSecret)
	c.send = func(ctx context.Context, receiveIDType, receiveID, msgType, content string) error {
		resp, err := client.Im.Message.Create(ctx, larkim.NewCreateMessageReqBuilder().
			ReceiveIdType(receiveIDType).
			Body(larkim.NewCreateMessageReqBodyBuilder().
				ReceiveId(receiveID).
				MsgType(msgType).
				Content(content).
				Build()).
			Build())
		if err != nil {
			return err
		}
		if !resp.Success() {
			return fmt.Errorf("feishu API code=%d msg=%s", resp.Code, resp.Msg)
		}
		return nil
	}
	return c
}

func (c *Channel) Name() string { return "feishu" }

// Send 逐个收件人发送，失败按指数退避重试；open_id cross app 时回退到 chat_id。
func (c *Channel) Send(ctx context.Context, msg *notify.Message) error {
	if msg == nil {
		return errors.New("feishu: nil message")
	}
	if !c.cfg.Enabled || c.cfg.AppID == "" || c.cfg.AppSecret == "" {
		return errors.New("feishu: not enabled or missing app_id/app_secret")
	}
	msgType, content, err := c.render(msg)
	if err != nil {
		return err
	}
	type target struct{ idType, id string }
	var targets []target
	for _, r := range msg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			targets = append(targets, target{c.receiveIDType(r), r})
		}
	}
	if len(targets) == 0 && c.cfg.ChatID != "" {
		targets = append(targets, target{larkim.ReceiveIdTypeChatId, c.cfg.ChatID})
	}
	if len(targets) == 0 {
		return errors.New("feishu: no receive_id (recipients or chat_id)")
	}
	var errs []error
	for _, t := range targets {
		err := c.sendWithRetry(ctx, t.idType, t.id, msgType, content)
		if err != nil && strings.Contains(err.Error(), "open_id cross app") && c.cfg.ChatID != "" && t.id != c.cfg.ChatID {
			c.log.Warn("feishu open_id cross app, falling back to chat_id", "receive_id", t.id)
			err = c.sendWithRetry(ctx, larkim.ReceiveIdTypeChatId, c.cfg.ChatID, msgType, content)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Channel) sendWithRetry(ctx context.Context, idType, id, msgType, content string) error {
	attempts := c.cfg.RetryMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := time.Duration(c.cfg.RetryInitialBackoffSeconds) * time.Second
	if backoff <= 0 {
		backoff = time.Second
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.send(ctx, idType, id, msgType, content); err == nil {
			return nil
		}
		if i == attempts-1 || strings.Contains(err.Error(), "open_id cross app") {
			break
		}
		c.log.Debug("feishu delivery retry", "attempt", i+1, "max", attempts, "backoff", backoff, "error", err)
		if serr := c.sleep(ctx, backoff); serr != nil {
			return serr
		}
		backoff *= 2
	}
	return err
}

// receiveIDType 配置优先；否则 ou_ 为 open_id，oc_ 为 chat_id，含 @ 为 email，其余按 user_id。
func (c *Channel) receiveIDType(id string) string {
	if c.cfg.ReceiveIDType != "" {
		return c.cfg.ReceiveIDType
	}
	switch {
	case strings.HasPrefix(id, "ou_"):
		return larkim.ReceiveIdTypeOpenId
	case strings.HasPrefix(id, "oc_"):
		return larkim.ReceiveIdTypeChatId
	case strings.Contains(id, "@"):
		return larkim.ReceiveIdTypeEmail
	}
	return larkim.ReceiveIdTypeUserId
}

func (c *Channel) render(msg *notify.Message) (msgType, content string, err error) {
	if msg.Actionable && c.cfg.UseCardDelivery {
		card, err := json.Marshal(approvalCard(msg))
		if err != nil {
			return "", "", err
		}
		return larkim.MsgTypeInteractive, string(card), nil
	}
	text := msg.Title + "\n\n" + msg.Body
	// content 为 JSON 字符串，即对 {"text":"..."} 再序列化一次
	b, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", "", err
	}
	return larkim.MsgTypeText, string(b), nil
}

var headerColors = map[string]string{
	"low":      "green",
	"medium":   "yellow",
	"high":     "orange",
	"critical": "red",
}

// approvalCard 按钮 value 为 {"request_id":"<id>","action":"approve"|"reject"}，由长连接回调解析。
func approvalCard(msg *notify.Message) map[string]any {
	template := headerColors[msg.RiskLevel.String()]
	if template == "" {
		template = "blue"
	}
	button := func(label, kind, action string) map[string]any {
		return map[string]any{
			"tag":   "button",
			"text":  map[string]any{"tag": "plain_text", "content": label},
			"type":  kind,
			"value": map[string]string{"request_id": msg.RequestID, "action": action},
		}
	}
	return map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"template": template,
			"title":    map[string]any{"tag": "plain_text", "content": msg.Title},
		},
		"elements": []any{
			map[string]any{
				"tag":  "div",
				"text": map[string]any{"tag": "lark_md", "content": msg.Body},
			},
			map[string]any{
				"tag": "action",
				"actions": []any{
					button("Approve", "primary", ActionApprove),
					button("Reject", "danger", ActionReject),
				},
			},
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ notify.Channel = (*Channel)(nil)
