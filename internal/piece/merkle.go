package piece

import "github.com/kumandra/kumandra-node/internal/kcrypto"

// BuildMerkleTree hashes MerkleNumLeaves records into leaves and builds a
// balanced binary Merkle tree over them, returning the root and, for each
// leaf position, the witness (sibling path) needed to verify that leaf
// against the root via CheckPiece.
//
// len(records) must equal MerkleNumLeaves.
func BuildMerkleTree(records [][]byte) (root [32]byte, witnesses []Witness, err error) {
	if len(records) != MerkleNumLeaves {
		return root, nil, ErrInvalidRecordSize
	}

	leaves := make([][32]byte, MerkleNumLeaves)
	for i, r := range records {
		leaves[i] = kcrypto.Sha256(r)
	}

	// levels[0] is the leaf layer; levels[merkleDepth] is the single root.
	levels := make([][][32]byte, merkleDepth+1)
	levels[0] = leaves

	for lvl := 0; lvl < merkleDepth; lvl++ {
		cur := levels[lvl]
		next := make([][32]byte, len(cur)/2)
		for i := 0; i < len(next); i++ {
			left := cur[2*i]
			right := cur[2*i+1]
			next[i] = kcrypto.Sha256(left[:], right[:])
		}
		levels[lvl+1] = next
	}

	root = levels[merkleDepth][0]

	witnesses = make([]Witness, MerkleNumLeaves)
	for leafIdx := 0; leafIdx < MerkleNumLeaves; leafIdx++ {
		var w Witness
		pos := leafIdx
		for lvl := 0; lvl < merkleDepth; lvl++ {
			siblingIdx := pos ^ 1
			sibling := levels[lvl][siblingIdx]
			copy(w[lvl*32:lvl*32+32], sibling[:])
			pos >>= 1
		}
		witnesses[leafIdx] = w
	}

	return root, witnesses, nil
}
