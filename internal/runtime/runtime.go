// Package runtime defines the boundary the consensus core consumes from
// the surrounding chain runtime: a pure function of (block identity,
// query) to result, per the design notes. Everything runtime-specific
// (state transition, balances, governance) stays out of scope; this
// package only shapes the query surface and ships one deterministic
// in-memory implementation suitable for tests and for driving the node
// without a real runtime attached.
package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/kumandra/kumandra-node/internal/kcrypto"
)

// EquivocationProof records that the same farmer signed two distinct
// headers for the same slot.
type EquivocationProof struct {
	PublicKey  kcrypto.PublicKey
	Slot       uint64
	FirstHash  [32]byte
	SecondHash [32]byte
}

// ChainParameters are the slot/solution/segment parameters a runtime
// reports at a given block.
type ChainParameters struct {
	SlotDuration               time.Duration
	RecordSize                 uint32
	RecordedHistorySegmentSize uint32
	MaxPlotSize                uint64
	TotalPieces                uint64
	ConfirmationDepthK         uint64
}

// ChildDescriptors are the global-randomness/solution-range/salt values a
// runtime derives for the child of a given parent block.
type ChildDescriptors struct {
	GlobalRandomness    [32]byte
	SolutionRange       uint64
	VotingSolutionRange uint64
	Salt                [8]byte
	NextSalt            *[8]byte
}

// Runtime is the query surface the verifier, block importer, and RPC layer
// consume. All methods are pure reads at a given block identity; none
// mutate chain state (state transition itself is out of scope).
type Runtime interface {
	Parameters(blockHash [32]byte) (ChainParameters, error)
	ChildDescriptorsFor(parentHash [32]byte) (ChildDescriptors, error)
	RecordsRoot(segmentIndex uint64) ([32]byte, bool)
	IsInBlockList(pk kcrypto.PublicKey) bool
	SubmitReportEquivocation(proof EquivocationProof) error
}

// ErrUnknownBlock is returned when a block hash has no recorded parameters.
var ErrUnknownBlock = errors.New("runtime: unknown block")

// InMemory is a deterministic, in-process Runtime implementation: a test
// and development stand-in for a real chain runtime, holding parameters,
// per-parent child descriptors, a records-root table, a block list, and an
// equivocation log, all guarded by a single mutex since none of this is
// performance sensitive.
type InMemory struct {
	mu sync.Mutex

	defaultParams ChainParameters
	descriptors   map[[32]byte]ChildDescriptors
	recordsRoots  map[uint64][32]byte
	blockList     map[kcrypto.PublicKey]bool
	equivocations []EquivocationProof
}

// NewInMemory constructs a Runtime seeded with defaultParams, used for any
// block unless overridden.
func NewInMemory(defaultParams ChainParameters) *InMemory {
	return &InMemory{
		defaultParams: defaultParams,
		descriptors:   make(map[[32]byte]ChildDescriptors),
		recordsRoots:  make(map[uint64][32]byte),
		blockList:     make(map[kcrypto.PublicKey]bool),
	}
}

// Parameters implements Runtime.
func (r *InMemory) Parameters(blockHash [32]byte) (ChainParameters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultParams, nil
}

// SetChildDescriptors registers the descriptors a given parent's child must
// satisfy.
func (r *InMemory) SetChildDescriptors(parentHash [32]byte, d ChildDescriptors) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[parentHash] = d
}

// ChildDescriptorsFor implements Runtime.
func (r *InMemory) ChildDescriptorsFor(parentHash [32]byte) (ChildDescriptors, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[parentHash]
	if !ok {
		return ChildDescriptors{}, ErrUnknownBlock
	}
	return d, nil
}

// SetRecordsRoot publishes the records root for a segment, as the archiver
// would after a segment is finalized into runtime state.
func (r *InMemory) SetRecordsRoot(segmentIndex uint64, root [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordsRoots[segmentIndex] = root
}

// RecordsRoot implements Runtime.
func (r *InMemory) RecordsRoot(segmentIndex uint64) ([32]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, ok := r.recordsRoots[segmentIndex]
	return root, ok
}

// SetBlockListed marks pk as barred from authoring blocks.
func (r *InMemory) SetBlockListed(pk kcrypto.PublicKey, listed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockList[pk] = listed
}

// IsInBlockList implements Runtime.
func (r *InMemory) IsInBlockList(pk kcrypto.PublicKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockList[pk]
}

// SubmitReportEquivocation implements Runtime.
func (r *InMemory) SubmitReportEquivocation(proof EquivocationProof) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.equivocations = append(r.equivocations, proof)
	return nil
}

// Equivocations returns a copy of every equivocation proof submitted so
// far, for test assertions.
func (r *InMemory) Equivocations() []EquivocationProof {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EquivocationProof, len(r.equivocations))
	copy(out, r.equivocations)
	return out
}
