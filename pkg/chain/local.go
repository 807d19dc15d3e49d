package chain

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LocalStore 内存 + 可选目录持久化后端。basePath 为空时仅内存；非空时批次与验真路径写入 batches/、proofs/。
type LocalStore struct {
	mu       sync.RWMutex
	proofs   map[string]*MerkleProof // eventID -> proof，basePath 为空时使用
	basePath string
}

// NewLocalStore 创建仅内存的 LocalStore。
func NewLocalStore() *LocalStore {
	return NewLocalStoreWithPath("")
}

// NewLocalStoreWithPath 创建支持目录持久化的 LocalStore。
func NewLocalStoreWithPath(basePath string) *LocalStore {
	s := &LocalStore{
		proofs:   make(map[string]*MerkleProof),
		basePath: strings.TrimSuffix(basePath, string(os.PathSeparator)),
	}
	if s.basePath != "" {
		_ = os.MkdirAll(filepath.Join(s.basePath, "batches"), 0755)
		_ = os.MkdirAll(filepath.Join(s.basePath, "proofs"), 0755)
	}
	return s
}

// AppendBatch 构建 Merkle 树，持久化批次与每个事件的验真数据。
func (s *LocalStore) AppendBatch(ctx context.Context, batch *BatchRecord, leaves []Leaf) (string, error) {
	_ = ctx
	if batch == nil {
		return "", ErrNilBatch
	}
	if len(leaves) == 0 {
		return "", ErrEmptyBatch
	}
	root, paths := BuildMerkleTree(leaves)
	batch.MerkleRoot = root
	batch.LeafCount = len(leaves)
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.basePath != "" {
		b, _ := json.MarshalIndent(batch, "", "  ")
		if err := os.WriteFile(s.batchPath(batch.BatchID), b, 0644); err != nil {
			return "", err
		}
	}
	for i := range leaves {
		proof := &MerkleProof{
			EventID:    leaves[i].EventID,
			BatchID:    batch.BatchID,
			MerkleRoot: root,
			LeafIndex:  paths[i].LeafIndex,
			LeafHash:   paths[i].LeafHash,
			Siblings:   paths[i].Siblings,
		}
		if s.basePath == "" {
			s.proofs[proof.EventID] = proof
			continue
		}
		b, _ := json.MarshalIndent(proof, "", "  ")
		if err := os.WriteFile(s.proofPath(proof.EventID), b, 0644); err != nil {
			return "", err
		}
	}
	return root, nil
}

// GetMerkleProof basePath 非空时从文件读，否则从内存读。
func (s *LocalStore) GetMerkleProof(ctx context.Context, eventID string) (*MerkleProof, error) {
	_ = ctx
	if s.basePath != "" {
		b, err := os.ReadFile(s.proofPath(eventID))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		var proof MerkleProof
		if json.Unmarshal(b, &proof) != nil {
			return nil, ErrInvalidFile
		}
		return &proof, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if proof, ok := s.proofs[eventID]; ok {
		return proof, nil
	}
	return nil, ErrNotFound
}

// Close 实现 Backend.Close。
func (s *LocalStore) Close() error {
	return nil
}

// sanitize 将 ID 转为安全文件名。
func sanitize(id string) string {
	return strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(id)
}

func (s *LocalStore) batchPath(batchID string) string {
	return filepath.Join(s.basePath, "batches", sanitize(batchID)+".json")
}

func (s *LocalStore) proofPath(eventID string) string {
	return filepath.Join(s.basePath, "proofs", sanitize(eventID)+".json")
}
