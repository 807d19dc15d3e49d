package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"xiezhi/internal/models"
)

// JSONLStore 追加写 JSONL 文件，按 session_id 线性扫描查询。
type JSONLStore struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewJSONLStore 创建或打开 path 对应的 JSONL 文件；目录不存在会创建。
func NewJSONLStore(path string) (*JSONLStore, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONLStore{path: path, f: f}, nil
}

// Append 追加一行 JSON 并 fsync；写入落盘前不返回成功。
func (s *JSONLStore) Append(ctx context.Context, e *models.AuditEvent) error {
	if e == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.f.Write(data); err != nil {
		return err
	}
	return s.f.Sync()
}

// QueryBySession 读取整个文件并过滤 session_id。
func (s *JSONLStore) QueryBySession(ctx context.Context, sessionID string) ([]*models.AuditEvent, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var out []*models.AuditEvent
	for _, e := range all {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Last 返回会话最后一条事件。
func (s *JSONLStore) Last(ctx context.Context, sessionID string) (*models.AuditEvent, error) {
	list, err := s.QueryBySession(ctx, sessionID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[len(list)-1], nil
}

// Sessions 按首次出现顺序返回文件中的全部 session_id。
func (s *JSONLStore) Sessions(ctx context.Context) ([]string, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range all {
		if !seen[e.SessionID] {
			seen[e.SessionID] = true
			out = append(out, e.SessionID)
		}
	}
	return out, nil
}

func (s *JSONLStore) readAll() ([]*models.AuditEvent, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*models.AuditEvent
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var e models.AuditEvent
		if err := json.Unmarshal(line, &e); err != nil {
			// 损坏行保留为空哈希事件，交给 Verify 报告断链
			e = models.AuditEvent{EventID: "corrupt"}
		}
		out = append(out, &e)
	}
	return out, nil
}

// Close 关闭底层文件。
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
