package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"xiezhi/internal/models"
)

// GenesisHash 会话第一条事件的 previous_hash。
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeHash 对 integrity_hash 置空后的事件做规范 JSON（map 键有序、时间为 UTC）并取 SHA-256。
func ComputeHash(e *models.AuditEvent) (string, error) {
	c := *e
	c.IntegrityHash = ""
	c.Timestamp = c.Timestamp.UTC()
	data, err := json.Marshal(&c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalDetails 经一次 JSON 往返把 Details 归一为 JSON 原生类型，使写入前与读回后的哈希一致。
func canonicalDetails(d map[string]any) (map[string]any, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChainError 指出链上第一处断裂。
type ChainError struct {
	Index   int
	EventID string
	Reason  string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at index %d (event %s): %s", e.Index, e.EventID, e.Reason)
}

// Verify 按顺序重算每条事件的哈希与链接；全部通过返回 nil，否则返回 *ChainError。
func Verify(events []*models.AuditEvent) error {
	prev := GenesisHash
	for i, e := range events {
		if e.PreviousHash != prev {
			return &ChainError{Index: i, EventID: e.EventID, Reason: "previous_hash does not link to prior event"}
		}
		h, err := ComputeHash(e)
		if err != nil {
			return &ChainError{Index: i, EventID: e.EventID, Reason: err.Error()}
		}
		if h != e.IntegrityHash {
			return &ChainError{Index: i, EventID: e.EventID, Reason: "integrity_hash mismatch"}
		}
		prev = e.IntegrityHash
	}
	return nil
}
