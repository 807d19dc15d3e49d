// Package chain 提供审计事件的 Merkle 批次存证：批次根、单事件验真路径与可插拔存储后端。
package chain

import "time"

// BatchRecord 存证批次元数据。
type BatchRecord struct {
	BatchID    string    `json:"batch_id"`
	MerkleRoot string    `json:"merkle_root"` // 十六进制
	LeafCount  int       `json:"leaf_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Leaf 批次中的一条叶节点：审计事件 ID 与其 integrity_hash。
type Leaf struct {
	EventID string `json:"event_id"`
	Hash    string `json:"hash"`
}

// MerkleProof 给定 event_id 返回所在批次的根与路径，便于离线重算比对。
type MerkleProof struct {
	EventID    string   `json:"event_id"`
	BatchID    string   `json:"batch_id"`
	MerkleRoot string   `json:"merkle_root"`
	LeafIndex  int      `json:"leaf_index"`
	LeafHash   string   `json:"leaf_hash"`
	Siblings   []string `json:"siblings"` // 由叶到根
}
