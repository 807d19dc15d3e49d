package chain

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("chain: not found")
	ErrEmptyBatch  = errors.New("chain: empty batch")
	ErrNilBatch    = errors.New("chain: nil BatchRecord")
	ErrInvalidFile = errors.New("chain: invalid proof file")
)

// Ledger 存证批次的写入与验真查询。
type Ledger interface {
	// AppendBatch 按给定顺序追加一批事件哈希，构建 Merkle 树并持久化，返回批次根。
	AppendBatch(ctx context.Context, batchID string, leaves []Leaf) (merkleRoot string, err error)
	// GetMerkleProof 返回事件所在批次的根与验真路径。
	GetMerkleProof(ctx context.Context, eventID string) (*MerkleProof, error)
}

// Backend 可插拔存储后端。
type Backend interface {
	AppendBatch(ctx context.Context, batch *BatchRecord, leaves []Leaf) (merkleRoot string, err error)
	GetMerkleProof(ctx context.Context, eventID string) (*MerkleProof, error)
	Close() error
}

// NewLedger 基于给定 Backend 构造 Ledger。
func NewLedger(be Backend) Ledger {
	return &ledgerImpl{backend: be}
}

type ledgerImpl struct {
	backend Backend
}

func (l *ledgerImpl) AppendBatch(ctx context.Context, batchID string, leaves []Leaf) (string, error) {
	return l.backend.AppendBatch(ctx, &BatchRecord{BatchID: batchID}, leaves)
}

func (l *ledgerImpl) GetMerkleProof(ctx context.Context, eventID string) (*MerkleProof, error) {
	return l.backend.GetMerkleProof(ctx, eventID)
}
