// Package notify 将审批请求、审批结果与超时通知并发扇出到各渠道；渠道失败只记录，不影响审批。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"xiezhi/internal/models"
	"xiezhi/internal/ownership"
)

// Type 通知类型。
type Type string

const (
	TypeApprovalRequest Type = "approval_request"
	TypeApprovalResult  Type = "approval_result"
	TypeTimeout         Type = "timeout"
)

// Message 单次投递到某一渠道的消息；Request 为只读快照。
type Message struct {
	Type       Type
	RequestID  string
	ActionID   string
	Status     models.ApprovalStatus
	RiskLevel  models.RiskLevel
	Recipients []string
	Title      string
	Body       string
	Actionable bool // 审批请求：渠道可附带批准/拒绝操作
	Request    *models.ApprovalRequest
}

// Channel 通知渠道。
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// DeliveryError 渠道投递失败；仅用于诊断。
type DeliveryError struct {
	Channel   string
	RequestID string
	Type      Type
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: %s delivery of %s for %s failed: %v", e.Channel, e.Type, e.RequestID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Dispatcher 审批工作流依赖的通知接口。
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.ApprovalRequest, t Type) map[string]bool
}

// Manager 按渠道解析收件人并并发投递。
type Manager struct {
	channels []Channel
	dir      ownership.Directory
	timeout  time.Duration
	log      *slog.Logger
	failures func(*DeliveryError)
}

// Option 配置 Manager。
type Option func(*Manager)

// WithTimeout 单渠道投递超时，默认 10s。
func WithTimeout(d time.Duration) Option { return func(m *Manager) { m.timeout = d } }

// WithLogger 设置结构化日志。
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithFailureHook 每次渠道失败时回调（测试与指标用）。
func WithFailureHook(f func(*DeliveryError)) Option { return func(m *Manager) { m.failures = f } }

// NewManager dir 可为 nil（此时不解析收件人，由渠道自行兜底）。
func NewManager(dir ownership.Directory, channels []Channel, opts ...Option) *Manager {
	m := &Manager{
		channels: append([]Channel(nil), channels...),
		dir:      dir,
		timeout:  10 * time.Second,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Channels 返回已注册渠道名。
func (m *Manager) Channels() []string {
	out := make([]string, len(m.channels))
	for i, c := range m.channels {
		out[i] = c.Name()
	}
	return out
}

// Dispatch 每个渠道一个 goroutine，各自带超时，全部返回后汇总 channel -> 是否成功。
func (m *Manager) Dispatch(ctx context.Context, req *models.ApprovalRequest, t Type) map[string]bool {
	out := make(map[string]bool, len(m.channels))
	if req == nil || len(m.channels) == 0 {
		return out
	}
	snap := req.Clone()
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, ch := range m.channels {
		msg := Compose(snap.Clone(), t)
		msg.Recipients = m.recipients(ctx, ch.Name(), snap, t)
		wg.Add(1)
		go func(ch Channel, msg *Message) {
			defer wg.Done()
			err := m.send(ctx, ch, msg)
			if err != nil {
				derr := &DeliveryError{Channel: ch.Name(), RequestID: snap.RequestID, Type: t, Err: err}
				m.log.Warn("notification delivery failed", "channel", ch.Name(), "type", string(t), "request_id", snap.RequestID, "error", err)
				if m.failures != nil {
					m.failures(derr)
				}
			}
			mu.Lock()
			out[ch.Name()] = err == nil
			mu.Unlock()
		}(ch, msg)
	}
	wg.Wait()
	return out
}

func (m *Manager) send(ctx context.Context, ch Channel, msg *Message) (err error) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panic: %v", r)
		}
	}()
	return ch.Send(cctx, msg)
}

func (m *Manager) recipients(ctx context.Context, channel string, req *models.ApprovalRequest, t Type) []string {
	if m.dir == nil {
		return nil
	}
	if t == TypeApprovalRequest {
		return m.dir.Recipients(ctx, channel, req.RequiredRole)
	}
	if addr, ok := m.dir.ContactOf(ctx, channel, req.RequestedBy); ok {
		return []string{addr}
	}
	return nil
}
