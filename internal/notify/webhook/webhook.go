// Package webhook 通用 JSON webhook 通知渠道。
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"xiezhi/internal/config"
	"xiezhi/internal/notify"
)

// 签名请求头；签名覆盖 "<timestamp>.<body>"。
const (
	HeaderSignature = "X-Xiezhi-Signature"
	HeaderTimestamp = "X-Xiezhi-Timestamp"
)

// Payload webhook 请求体。
type Payload struct {
	Type       string   `json:"type"`
	RequestID  string   `json:"request_id"`
	ActionID   string   `json:"action_id"`
	Status     string   `json:"status"`
	RiskLevel  string   `json:"risk_level"`
	Title      string   `json:"title"`
	Text       string   `json:"text"`
	Recipients []string `json:"recipients,omitempty"`
	Actionable bool     `json:"actionable"`
	SentAt     string   `json:"sent_at"`
}

// Channel POST JSON 到配置的 URL；非 2xx 视为失败。
type Channel struct {
	cfg    config.WebhookConfig
	client *http.Client
	now    func() time.Time
}

// New timeout 取 cfg.TimeoutSeconds，默认 10s。
func New(cfg config.WebhookConfig) *Channel {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Channel{cfg: cfg, client: &http.Client{Timeout: timeout}, now: time.Now}
}

func (c *Channel) Name() string { return "webhook" }

func (c *Channel) Send(ctx context.Context, msg *notify.Message) error {
	if msg == nil {
		return errors.New("webhook: nil message")
	}
	if !c.cfg.Enabled || c.cfg.URL == "" {
		return errors.New("webhook: not enabled or missing url")
	}
	now := c.now().UTC()
	body, err := json.Marshal(Payload{
		Type:       string(msg.Type),
		RequestID:  msg.RequestID,
		ActionID:   msg.ActionID,
		Status:     msg.Status.String(),
		RiskLevel:  msg.RiskLevel.String(),
		Title:      msg.Title,
		Text:       msg.Body,
		Recipients: msg.Recipients,
		Actionable: msg.Actionable,
		SentAt:     now.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if c.cfg.Secret != "" {
		ts := strconv.FormatInt(now.Unix(), 10)
		req.Header.Set(HeaderTimestamp, ts)
		req.Header.Set(HeaderSignature, "sha256="+Sign(c.cfg.Secret, ts, body))
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sign 返回 hex(HMAC-SHA256(secret, timestamp + "." + body))。
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ notify.Channel = (*Channel)(nil)
