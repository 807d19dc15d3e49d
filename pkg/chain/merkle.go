package chain

import (
	"crypto/sha256"
	"encoding/hex"
)

// MerkleProofPath 单个叶节点的验真路径（叶哈希 + 兄弟序列）。
type MerkleProofPath struct {
	LeafIndex int
	LeafHash  string
	Siblings  []string
}

// BuildMerkleTree 按叶顺序构建 Merkle 树，返回根哈希与每个叶节点由叶到根的兄弟路径。
// 奇数层末尾节点与自身配对，路径中记录其自身哈希。
func BuildMerkleTree(leaves []Leaf) (rootHash string, proofs []MerkleProofPath) {
	if len(leaves) == 0 {
		return "", nil
	}
	layer := make([]string, len(leaves))
	for i := range leaves {
		layer[i] = leaves[i].Hash
	}
	layers := [][]string{layer}
	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			right := layer[i]
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, hashPair(layer[i], right))
		}
		layer = next
		layers = append(layers, layer)
	}
	rootHash = layer[0]

	proofs = make([]MerkleProofPath, len(leaves))
	for leafIdx := range leaves {
		var path []string
		idx := leafIdx
		for l := 0; l < len(layers)-1; l++ {
			row := layers[l]
			sib := idx ^ 1
			if sib >= len(row) {
				sib = idx
			}
			path = append(path, row[sib])
			idx /= 2
		}
		proofs[leafIdx] = MerkleProofPath{LeafIndex: leafIdx, LeafHash: leaves[leafIdx].Hash, Siblings: path}
	}
	return rootHash, proofs
}

// VerifyProof 由叶哈希、叶序号与兄弟路径重算根，并与 proof.MerkleRoot 比对。
func VerifyProof(p *MerkleProof) bool {
	if p == nil || p.LeafHash == "" || p.MerkleRoot == "" || p.LeafIndex < 0 {
		return false
	}
	cur := p.LeafHash
	idx := p.LeafIndex
	for _, sib := range p.Siblings {
		if idx%2 == 0 {
			cur = hashPair(cur, sib)
		} else {
			cur = hashPair(sib, cur)
		}
		idx /= 2
	}
	return idx == 0 && cur == p.MerkleRoot
}

func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}
