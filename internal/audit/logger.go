package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"xiezhi/internal/models"
)

var (
	// ErrWriteFailure 存储写入失败；Logger 随即进入停写状态。
	ErrWriteFailure = errors.New("audit: write failure")
	// ErrHalted 此前写入失败且尚未 Resume。
	ErrHalted = errors.New("audit: logger halted")
)

// Logger 审计链的唯一写入点：一把追加锁串行化所有会话的 previous_hash 推进。
// 任何写入失败都会锁存停写，之后的 Record 一律返回 ErrHalted，直到 Resume 成功。
type Logger struct {
	mu     sync.Mutex
	store  Store
	last   map[string]string // session_id -> 最后一条 integrity_hash
	halted error
	now    func() time.Time
	log    *slog.Logger
}

// Option 配置 Logger。
type Option func(*Logger)

// WithClock 替换时钟（测试用）。
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithLogger 设置结构化日志。
func WithLogger(lg *slog.Logger) Option {
	return func(l *Logger) { l.log = lg }
}

// NewLogger 基于 store 创建 Logger。
func NewLogger(store Store, opts ...Option) *Logger {
	l := &Logger{
		store: store,
		last:  make(map[string]string),
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record 补齐 event_id、timestamp、previous_hash、integrity_hash 后追加；e 会被原地填充。
func (l *Logger) Record(ctx context.Context, e *models.AuditEvent) error {
	if e == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, l.halted)
	}
	return l.appendLocked(ctx, e)
}

func (l *Logger) appendLocked(ctx context.Context, e *models.AuditEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Severity == "" {
		e.Severity = models.SeverityInfo
	}
	details, err := canonicalDetails(e.Details)
	if err != nil {
		return fmt.Errorf("audit: details not serializable: %w", err)
	}
	e.Details = details

	prev, ok := l.last[e.SessionID]
	if !ok {
		last, err := l.store.Last(ctx, e.SessionID)
		if err != nil {
			return l.haltLocked(err)
		}
		prev = GenesisHash
		if last != nil {
			prev = last.IntegrityHash
		}
	}
	e.PreviousHash = prev
	h, err := ComputeHash(e)
	if err != nil {
		return fmt.Errorf("audit: hash: %w", err)
	}
	e.IntegrityHash = h
	if err := l.store.Append(ctx, e); err != nil {
		return l.haltLocked(err)
	}
	l.last[e.SessionID] = h
	return nil
}

func (l *Logger) haltLocked(cause error) error {
	l.halted = cause
	// 缓存的链头可能与存储不一致，恢复后从存储重新读取
	l.last = make(map[string]string)
	l.log.Error("audit write failed; governance halted", "error", cause)
	return fmt.Errorf("%w: %v", ErrWriteFailure, cause)
}

// Halted 返回 Logger 是否处于停写状态。
func (l *Logger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted != nil
}

// Resume 以一条 audit_resumed 探测事件验证存储可写；成功后解除停写。
func (l *Logger) Resume(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted == nil {
		return nil
	}
	cause := l.halted
	marker := &models.AuditEvent{
		EventType: models.EventAuditResumed,
		SessionID: sessionID,
		ActorType: models.ActorSystem,
		ActorID:   models.SystemApprover,
		Severity:  models.SeverityWarning,
		Details:   map[string]any{"previous_failure": cause.Error()},
		Tags:      []string{"audit"},
	}
	l.halted = nil
	if err := l.appendLocked(ctx, marker); err != nil {
		return err
	}
	l.log.Info("audit path restored", "session_id", sessionID)
	return nil
}
