package approval

import (
	"context"
	"sort"
	"sync"

	"xiezhi/internal/models"
)

// Store 审批记录持久化。Get 不存在时返回 nil, nil；ByAction 按 requested_at 升序。
type Store interface {
	Put(ctx context.Context, rec *models.ApprovalRecord) error
	Get(ctx context.Context, requestID string) (*models.ApprovalRecord, error)
	ByAction(ctx context.Context, actionID string) ([]*models.ApprovalRecord, error)
}

// MemoryStore 进程内存储（默认、测试用）。
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*models.ApprovalRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*models.ApprovalRecord)}
}

func (s *MemoryStore) Put(ctx context.Context, rec *models.ApprovalRecord) error {
	if rec == nil {
		return nil
	}
	s.mu.Lock()
	s.recs[rec.RequestID] = cloneRecord(rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, requestID string) (*models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.recs[requestID]; ok {
		return cloneRecord(r), nil
	}
	return nil, nil
}

func (s *MemoryStore) ByAction(ctx context.Context, actionID string) ([]*models.ApprovalRecord, error) {
	s.mu.RLock()
	var out []*models.ApprovalRecord
	for _, r := range s.recs {
		if r.ActionID == actionID {
			out = append(out, cloneRecord(r))
		}
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func sortRecords(recs []*models.ApprovalRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].RequestedAt.Equal(recs[j].RequestedAt) {
			return recs[i].RequestedAt.Before(recs[j].RequestedAt)
		}
		return recs[i].RequestID < recs[j].RequestID
	})
}

func cloneRecord(r *models.ApprovalRecord) *models.ApprovalRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Action.TargetPorts = append([]int(nil), r.Action.TargetPorts...)
	if r.Action.Metadata != nil {
		c.Action.Metadata = make(map[string]string, len(r.Action.Metadata))
		for k, v := range r.Action.Metadata {
			c.Action.Metadata[k] = v
		}
	}
	if r.Risk.SubScores != nil {
		c.Risk.SubScores = make(map[models.RiskFactor]float64, len(r.Risk.SubScores))
		for k, v := range r.Risk.SubScores {
			c.Risk.SubScores[k] = v
		}
	}
	c.Risk.RiskFactors = append([]string(nil), r.Risk.RiskFactors...)
	c.Risk.RecommendedConditions = append([]string(nil), r.Risk.RecommendedConditions...)
	c.Conditions = append([]string(nil), r.Conditions...)
	c.AcceptedConditions = append([]string(nil), r.AcceptedConditions...)
	return &c
}
