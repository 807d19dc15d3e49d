package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"xiezhi/internal/models"
)

// JSONStore 将每条审批记录存为单独 JSON 文件：<dir>/<request_id>.json。
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSONStore 使用 dir 作为存储目录；不存在则创建。
func NewJSONStore(dir string) (*JSONStore, error) {
	if dir == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JSONStore{dir: dir}, nil
}

func (s *JSONStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("approval: invalid request id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Put 写临时文件后 rename，同 id 覆盖。
func (s *JSONStore) Put(ctx context.Context, rec *models.ApprovalRecord) error {
	if rec == nil {
		return nil
	}
	p, err := s.path(rec.RequestID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Get 读取记录；不存在返回 nil, nil。
func (s *JSONStore) Get(ctx context.Context, requestID string) (*models.ApprovalRecord, error) {
	p, err := s.path(requestID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return readRecord(p)
}

// ByAction 扫描目录返回同一 action_id 的全部记录。
func (s *JSONStore) ByAction(ctx context.Context, actionID string) ([]*models.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var out []*models.ApprovalRecord
	for _, p := range matches {
		rec, err := readRecord(p)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.ActionID == actionID {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func readRecord(p string) (*models.ApprovalRecord, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec models.ApprovalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("approval: %s: %w", filepath.Base(p), err)
	}
	return &rec, nil
}
