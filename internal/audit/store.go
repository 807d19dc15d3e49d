// Package audit 提供按会话哈希链接的只追加审计链：存储接口、单写者 Logger、校验与 Merkle 存证。
package audit

import (
	"context"

	"xiezhi/internal/models"
)

// Store 审计存储接口：仅追加写，按 session_id 查询。
type Store interface {
	// Append 追加一条已计算 integrity_hash 的事件。
	Append(ctx context.Context, e *models.AuditEvent) error
	// QueryBySession 按写入顺序返回会话的全部事件。
	QueryBySession(ctx context.Context, sessionID string) ([]*models.AuditEvent, error)
	// Last 返回会话最后一条事件；会话为空时返回 nil, nil。
	Last(ctx context.Context, sessionID string) (*models.AuditEvent, error)
}

// Recorder 治理组件发出审计事件的唯一入口。
type Recorder interface {
	Record(ctx context.Context, e *models.AuditEvent) error
}
