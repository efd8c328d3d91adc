package trail

import (
	"crypto/sha256"
	"encoding/hex"
)

// MerkleRoot reduces hex leaf hashes pairwise with SHA-256 over the
// concatenated hex strings. An odd node is paired with itself. One leaf is
// its own root and no leaves give "".
func MerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	level := leaves
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

func nextLevel(level []string) []string {
	next := make([]string, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hashPair(left, right))
	}
	return next
}

func hashPair(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

type ProofStep struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

type MerkleProof struct {
	ChainID  string      `json:"chainId"`
	EventID  string      `json:"eventId"`
	Sequence int         `json:"sequence"`
	Leaf     string      `json:"leaf"`
	Root     string      `json:"root"`
	Path     []ProofStep `json:"path"`
}

func buildProof(leaves []string, index int) ([]ProofStep, string) {
	var path []ProofStep
	level := leaves
	for len(level) > 1 {
		sibling := index ^ 1
		if sibling >= len(level) {
			sibling = index
		}
		path = append(path, ProofStep{Hash: level[sibling], Left: sibling < index})
		level = nextLevel(level)
		index /= 2
	}
	return path, level[0]
}

// VerifyMerkleProof recomputes the root from the leaf and its sibling path.
func VerifyMerkleProof(p MerkleProof) bool {
	if p.Leaf == "" || p.Root == "" {
		return false
	}
	cur := p.Leaf
	for _, step := range p.Path {
		if step.Left {
			cur = hashPair(step.Hash, cur)
		} else {
			cur = hashPair(cur, step.Hash)
		}
	}
	return cur == p.Root
}

// Proof builds an inclusion proof for an event against the current root of its chain.
func (s *Store) Proof(chainID, eventID string) (MerkleProof, error) {
	if chainID == "" {
		chainID = DefaultChainID
	}
	st, err := s.state(chainID)
	if err != nil {
		return MerkleProof{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	index := -1
	leaves := make([]string, len(st.chain.Events))
	for i, e := range st.chain.Events {
		leaves[i] = e.CurrentHash
		if e.ID == eventID {
			index = i
		}
	}
	if index < 0 {
		return MerkleProof{}, &EventNotFoundError{EventID: eventID}
	}
	path, root := buildProof(leaves, index)
	return MerkleProof{
		ChainID:  chainID,
		EventID:  eventID,
		Sequence: st.chain.Events[index].Sequence,
		Leaf:     leaves[index],
		Root:     root,
		Path:     path,
	}, nil
}
