package merkle

import (
	"testing"

	"github.com/metanode/chaincore/pkg/crypto/hashing"
)

func leafHash(b byte) hashing.Hash {
	return hashing.Sum("TEST_LEAF", []byte{b})
}

func TestBuildTreeSingleLeaf(t *testing.T) {
	leaf := leafHash(1)
	tree, err := BuildTree([]hashing.Hash{leaf})
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if tree.Root() != leaf {
		t.Fatalf("single leaf root = %x, want %x", tree.Root(), leaf)
	}
	if tree.LeafCount() != 1 {
		t.Fatalf("LeafCount() = %d, want 1", tree.LeafCount())
	}
}

func TestBuildTreeTwoLeaves(t *testing.T) {
	leaf1, leaf2 := leafHash(1), leafHash(2)
	tree, err := BuildTree([]hashing.Hash{leaf1, leaf2})
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	want := hashPair(leaf1, leaf2)
	if tree.Root() != want {
		t.Fatalf("two leaf root = %x, want %x", tree.Root(), want)
	}
}

func TestBuildTreeEmpty(t *testing.T) {
	if _, err := BuildTree(nil); err != ErrEmptyTree {
		t.Fatalf("BuildTree(nil) error = %v, want ErrEmptyTree", err)
	}
}

func TestProofRoundTripEveryLeaf(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 100} {
		leaves := make([]hashing.Hash, n)
		for i := range leaves {
			leaves[i] = hashing.Sum("TEST_LEAF", []byte{byte(i), byte(i >> 8)})
		}
		tree, err := BuildTree(leaves)
		if err != nil {
			t.Fatalf("n=%d: BuildTree: %v", n, err)
		}
		for i, leaf := range leaves {
			proof, err := tree.Proof(i)
			if err != nil {
				t.Fatalf("n=%d: Proof(%d): %v", n, i, err)
			}
			if proof.LeafIndex != i {
				t.Fatalf("n=%d: Proof(%d).LeafIndex = %d, want %d", n, i, proof.LeafIndex, i)
			}
			if !VerifyProof(leaf, proof, tree.Root()) {
				t.Fatalf("n=%d: VerifyProof failed for leaf %d", n, i)
			}
		}
	}
}

func TestProofForLeaf(t *testing.T) {
	leaves := []hashing.Hash{leafHash(1), leafHash(2), leafHash(3)}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	proof, err := tree.ProofForLeaf(leaves[2])
	if err != nil {
		t.Fatalf("ProofForLeaf: %v", err)
	}
	if proof.LeafIndex != 2 {
		t.Fatalf("ProofForLeaf.LeafIndex = %d, want 2", proof.LeafIndex)
	}
	if !VerifyProof(leaves[2], proof, tree.Root()) {
		t.Fatal("VerifyProof failed for proof from ProofForLeaf")
	}
	if _, err := tree.ProofForLeaf(leafHash(99)); err != ErrLeafNotFound {
		t.Fatalf("ProofForLeaf(unknown) error = %v, want ErrLeafNotFound", err)
	}
}

func TestVerifyProofRejectsWrongLeafOrRoot(t *testing.T) {
	leaves := []hashing.Hash{leafHash(1), leafHash(2)}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if VerifyProof(leafHash(99), proof, tree.Root()) {
		t.Fatal("VerifyProof succeeded for the wrong leaf")
	}
	if VerifyProof(leaves[0], proof, leafHash(99)) {
		t.Fatal("VerifyProof succeeded against the wrong root")
	}
}

func TestProofIndexOutOfRange(t *testing.T) {
	tree, err := BuildTree([]hashing.Hash{leafHash(1)})
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if _, err := tree.Proof(-1); err == nil {
		t.Fatal("Proof(-1) succeeded, want error")
	}
	if _, err := tree.Proof(1); err == nil {
		t.Fatal("Proof(1) succeeded on a single-leaf tree, want error")
	}
}
