package trail

import (
	"fmt"
	"testing"
)

func leaves(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = hashBytes([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return out
}

func TestMerkleRootShape(t *testing.T) {
	if got := MerkleRoot(nil); got != "" {
		t.Fatalf("empty list should give empty root, got %q", got)
	}
	l := leaves(3)
	if got := MerkleRoot(l[:1]); got != l[0] {
		t.Fatalf("single leaf should be its own root")
	}
	if got, want := MerkleRoot(l[:2]), hashPair(l[0], l[1]); got != want {
		t.Fatalf("two leaves: got %s want %s", got, want)
	}
	want := hashPair(hashPair(l[0], l[1]), hashPair(l[2], l[2]))
	if got := MerkleRoot(l); got != want {
		t.Fatalf("odd leaf should be paired with itself: got %s want %s", got, want)
	}
}

func TestMerkleRootStableAndSensitive(t *testing.T) {
	l := leaves(7)
	if MerkleRoot(l) != MerkleRoot(append([]string(nil), l...)) {
		t.Fatalf("root must be deterministic")
	}
	if MerkleRoot(l) == MerkleRoot(leaves(8)) {
		t.Fatalf("appending a leaf must change the root")
	}
	changed := append([]string(nil), l...)
	changed[3] = hashBytes([]byte("other"))
	if MerkleRoot(l) == MerkleRoot(changed) {
		t.Fatalf("changing a leaf must change the root")
	}
}

func TestMerkleProofs(t *testing.T) {
	for n := 1; n <= 9; n++ {
		l := leaves(n)
		root := MerkleRoot(l)
		for i := 0; i < n; i++ {
			path, proofRoot := buildProof(l, i)
			if proofRoot != root {
				t.Fatalf("n=%d i=%d: proof root %s differs from %s", n, i, proofRoot, root)
			}
			p := MerkleProof{Leaf: l[i], Root: root, Path: path}
			if !VerifyMerkleProof(p) {
				t.Fatalf("n=%d i=%d: proof did not verify", n, i)
			}
			p.Leaf = hashBytes([]byte("forged"))
			if n > 1 && VerifyMerkleProof(p) {
				t.Fatalf("n=%d i=%d: forged leaf verified", n, i)
			}
		}
	}
}

func TestStoreProofMatchesLatestRoot(t *testing.T) {
	s := newTestStore(t)
	ids := appendN(t, s, "", 5)

	latest, _, _ := s.Event(ids[4])
	for _, id := range ids {
		p, err := s.Proof("", id)
		if err != nil {
			t.Fatalf("Proof() error = %v", err)
		}
		if p.Root != latest.Integrity.MerkleRoot {
			t.Fatalf("proof root should equal the root stored on the newest event")
		}
		if !VerifyMerkleProof(p) {
			t.Fatalf("proof for %s did not verify", id)
		}
	}
	if _, err := s.Proof("", "nope"); err == nil {
		t.Fatalf("expected error for unknown event")
	}

	before := latest.Integrity.MerkleRoot
	appendN(t, s, "", 1)
	chain, _ := s.Chain("")
	if chain.Events[5].Integrity.MerkleRoot == before {
		t.Fatalf("root should change after an append")
	}
}
