package merkle

import "testing"

func leafSet(n int) [][32]byte {
	leaves := make([][32]byte, n)
	for i := 0; i < n; i++ {
		leaves[i] = LeafHash([]byte{byte(i)})
	}
	return leaves
}

func TestBuildRejectsEmpty(t *testing.T) {
	if _, err := Build(nil); err != ErrEmptyLeaves {
		t.Fatalf("Build(nil): got %v, want ErrEmptyLeaves", err)
	}
}

func TestBuildSingleLeafRootIsLeaf(t *testing.T) {
	leaves := leafSet(1)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tree.Root() != leaves[0] {
		t.Fatalf("single-leaf root should equal the leaf itself")
	}
}

func TestInclusionProofVerifiesForEverySize(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 16, 17} {
		leaves := leafSet(n)
		tree, err := Build(leaves)
		if err != nil {
			t.Fatalf("Build(%d): %v", n, err)
		}
		root := tree.Root()
		for i := 0; i < n; i++ {
			proof, err := tree.InclusionProof(i)
			if err != nil {
				t.Fatalf("InclusionProof(%d) at n=%d: %v", i, n, err)
			}
			if !Verify(leaves[i], proof, root) {
				t.Fatalf("Verify failed for leaf %d at n=%d", i, n)
			}
		}
	}
}

func TestVerifyRejectsWrongLeaf(t *testing.T) {
	leaves := leafSet(4)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proof, err := tree.InclusionProof(1)
	if err != nil {
		t.Fatalf("InclusionProof: %v", err)
	}
	if Verify(leaves[2], proof, tree.Root()) {
		t.Fatalf("Verify must reject a leaf that wasn't at this index")
	}
}

func TestVerifyRejectsTamperedRoot(t *testing.T) {
	leaves := leafSet(3)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proof, err := tree.InclusionProof(0)
	if err != nil {
		t.Fatalf("InclusionProof: %v", err)
	}
	tamperedRoot := tree.Root()
	tamperedRoot[0] ^= 0xFF
	if Verify(leaves[0], proof, tamperedRoot) {
		t.Fatalf("Verify must reject a tampered root")
	}
}

func TestInclusionProofForLeafResolvesIndex(t *testing.T) {
	leaves := leafSet(6)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proof, idx, err := tree.InclusionProofForLeaf(leaves[4])
	if err != nil {
		t.Fatalf("InclusionProofForLeaf: %v", err)
	}
	if idx != 4 {
		t.Fatalf("idx = %d, want 4", idx)
	}
	if !Verify(leaves[4], proof, tree.Root()) {
		t.Fatalf("Verify failed for resolved leaf")
	}
}

func TestInclusionProofForLeafNotFound(t *testing.T) {
	leaves := leafSet(3)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	unknown := LeafHash([]byte("not-in-tree"))
	if _, _, err := tree.InclusionProofForLeaf(unknown); err != ErrLeafNotFound {
		t.Fatalf("got %v, want ErrLeafNotFound", err)
	}
}

func TestInclusionProofOutOfRange(t *testing.T) {
	leaves := leafSet(3)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := tree.InclusionProof(-1); err != ErrIndexRange {
		t.Fatalf("got %v, want ErrIndexRange", err)
	}
	if _, err := tree.InclusionProof(3); err != ErrIndexRange {
		t.Fatalf("got %v, want ErrIndexRange", err)
	}
}

func TestLeafHashIsDomainSeparatedFromNodeHash(t *testing.T) {
	leaves := leafSet(2)
	tree, err := Build(leaves)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// The root of a 2-leaf tree is NODE(leaf0, leaf1); it must never equal
	// either leaf hash, proving the LEAF/NODE tags are distinct domains.
	if tree.Root() == leaves[0] || tree.Root() == leaves[1] {
		t.Fatalf("root collided with a leaf hash")
	}
}
