package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
)

func TestBuildMerkleTree(t *testing.T) {
	leaves := []Leaf{
		{EventID: "e1", Hash: hash("a")},
		{EventID: "e2", Hash: hash("b")},
		{EventID: "e3", Hash: hash("c")},
	}
	root, proofs := BuildMerkleTree(leaves)
	if root == "" {
		t.Fatal("empty root")
	}
	if len(proofs) != 3 {
		t.Fatalf("want 3 proofs, got %d", len(proofs))
	}
	for i, p := range proofs {
		if p.LeafHash != leaves[i].Hash {
			t.Errorf("proof[%d].LeafHash = %s, want %s", i, p.LeafHash, leaves[i].Hash)
		}
	}
}

func TestVerifyProof_AllSizes(t *testing.T) {
	for n := 1; n <= 9; n++ {
		leaves := make([]Leaf, n)
		for i := range leaves {
			leaves[i] = Leaf{EventID: fmt.Sprintf("e%d", i), Hash: hash(fmt.Sprint(i))}
		}
		root, paths := BuildMerkleTree(leaves)
		for i, p := range paths {
			proof := &MerkleProof{MerkleRoot: root, LeafIndex: p.LeafIndex, LeafHash: p.LeafHash, Siblings: p.Siblings}
			if !VerifyProof(proof) {
				t.Errorf("n=%d leaf=%d: proof did not verify", n, i)
			}
			proof.LeafHash = hash("tampered")
			if VerifyProof(proof) {
				t.Errorf("n=%d leaf=%d: tampered leaf verified", n, i)
			}
		}
	}
}

func TestVerifyProof_Nil(t *testing.T) {
	if VerifyProof(nil) {
		t.Error("nil proof verified")
	}
}

func hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
