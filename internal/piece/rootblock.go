package piece

import (
	"github.com/kumandra/kumandra-node/internal/codec"
	"github.com/kumandra/kumandra-node/internal/kcrypto"
)

// ArchivedProgressKind distinguishes a fully-archived block from one that
// has only had part of its encoded contents folded into the current
// segment so far.
type ArchivedProgressKind uint8

const (
	// ArchivedComplete means the whole block's contents were archived.
	ArchivedComplete ArchivedProgressKind = iota
	// ArchivedPartial means only PartialBytes of the block were archived so far.
	ArchivedPartial
)

// ArchivedBlockProgress records how much of a block has made it into the
// archived history so far.
type ArchivedBlockProgress struct {
	Kind         ArchivedProgressKind `cbor:"0,keyasint"`
	PartialBytes uint32               `cbor:"1,keyasint"`
}

// Complete constructs a fully-archived progress marker.
func Complete() ArchivedBlockProgress {
	return ArchivedBlockProgress{Kind: ArchivedComplete}
}

// Partial constructs a partially-archived progress marker.
func Partial(bytes uint32) ArchivedBlockProgress {
	return ArchivedBlockProgress{Kind: ArchivedPartial, PartialBytes: bytes}
}

// IsComplete reports whether archiving of this block has finished.
func (p ArchivedBlockProgress) IsComplete() bool {
	return p.Kind == ArchivedComplete
}

// LastArchivedBlock identifies the most recent block folded into archival
// history and how much of it has been archived.
type LastArchivedBlock struct {
	Number           uint64                `cbor:"0,keyasint"`
	ArchivedProgress ArchivedBlockProgress `cbor:"1,keyasint"`
}

// RootBlockVersion distinguishes root-block wire variants. Only V0 exists;
// the field exists so a future variant can be added without breaking the
// hash-linking scheme.
type RootBlockVersion uint8

const (
	// RootBlockV0 is the only root-block variant implemented.
	RootBlockV0 RootBlockVersion = 0
)

// RootBlock is the hash-linked descriptor of one archived segment.
type RootBlock struct {
	Version            RootBlockVersion  `cbor:"0,keyasint"`
	SegmentIndex_      uint64            `cbor:"1,keyasint"`
	RecordsRoot_       [32]byte          `cbor:"2,keyasint"`
	PrevRootBlockHash_ [32]byte          `cbor:"3,keyasint"`
	LastArchivedBlock_ LastArchivedBlock `cbor:"4,keyasint"`
}

// NewRootBlock constructs a V0 root block.
func NewRootBlock(segmentIndex uint64, recordsRoot, prevHash [32]byte, last LastArchivedBlock) RootBlock {
	return RootBlock{
		Version:            RootBlockV0,
		SegmentIndex_:      segmentIndex,
		RecordsRoot_:       recordsRoot,
		PrevRootBlockHash_: prevHash,
		LastArchivedBlock_: last,
	}
}

// SegmentIndex returns the segment this root block describes.
func (r RootBlock) SegmentIndex() uint64 { return r.SegmentIndex_ }

// RecordsRoot returns the Merkle root of the segment's records.
func (r RootBlock) RecordsRoot() [32]byte { return r.RecordsRoot_ }

// PrevRootBlockHash returns the hash of the previous root block in the chain.
func (r RootBlock) PrevRootBlockHash() [32]byte { return r.PrevRootBlockHash_ }

// LastArchivedBlockInfo returns the last block folded into this segment.
func (r RootBlock) LastArchivedBlockInfo() LastArchivedBlock { return r.LastArchivedBlock_ }

// Hash computes sha256(encode(r)), the value the next root block in the
// chain must reference as PrevRootBlockHash_.
func (r RootBlock) Hash() ([32]byte, error) {
	raw, err := codec.Encode(r)
	if err != nil {
		return [32]byte{}, err
	}
	return kcrypto.Sha256(raw), nil
}

// GenesisRootBlockHash is the conventional previous-hash of the first root
// block in the chain (no real predecessor exists).
func GenesisRootBlockHash() [32]byte {
	return [32]byte{}
}
