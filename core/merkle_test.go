package core

import "testing"

func TestMerkleProofRoundTripForEveryLeaf(t *testing.T) {
	txs := [][]byte{
		[]byte("tx-a"), []byte("tx-b"), []byte("tx-c"),
		[]byte("tx-d"), []byte("tx-e"),
	}
	root := MerkleRoot(txs)

	for i := range txs {
		proof, err := BuildMerkleProof(txs, i)
		if err != nil {
			t.Fatalf("BuildMerkleProof(%d): %v", i, err)
		}
		if !MerkleVerify(txs[i], proof, root) {
			t.Fatalf("MerkleVerify failed for leaf %d", i)
		}
	}
}

func TestMerkleVerifyRejectsWrongLeaf(t *testing.T) {
	txs := [][]byte{[]byte("tx-a"), []byte("tx-b"), []byte("tx-c")}
	root := MerkleRoot(txs)
	proof, err := BuildMerkleProof(txs, 1)
	if err != nil {
		t.Fatalf("BuildMerkleProof: %v", err)
	}
	if MerkleVerify([]byte("not-tx-b"), proof, root) {
		t.Fatal("verification must fail for a leaf that wasn't included")
	}
}

func TestMerkleRootEmptyInput(t *testing.T) {
	if root := MerkleRoot(nil); !root.IsZero() {
		t.Fatal("merkle root of an empty transaction set must be the zero hash")
	}
}
