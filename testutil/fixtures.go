package testutil

import (
	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/piece"
)

// SampleRootBlock returns a minimal root block for testing, chained from
// genesis, with the given segment index and a fully-archived last block.
func SampleRootBlock(segmentIndex uint64, lastBlockNumber uint64) piece.RootBlock {
	return piece.NewRootBlock(
		segmentIndex,
		[32]byte{byte(segmentIndex), 0xAA},
		piece.GenesisRootBlockHash(),
		piece.LastArchivedBlock{
			Number:           lastBlockNumber,
			ArchivedProgress: piece.Complete(),
		},
	)
}

// EasySolutionRange returns a solution range that accepts any tag, for
// tests that don't care about range enforcement.
func EasySolutionRange() uint64 {
	return ^uint64(0)
}

// SampleIdentity returns a deterministic keypair for tests that need a
// stable public key across runs instead of a freshly generated one.
func SampleIdentity(seed byte) *kcrypto.KeyPair {
	var s [32]byte
	s[0] = seed
	return kcrypto.KeyPairFromSeed(s)
}
