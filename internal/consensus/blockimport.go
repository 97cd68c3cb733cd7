package consensus

import (
	"errors"
	"math/big"
	"sync"

	"github.com/kumandra/kumandra-node/internal/inherents"
	kcryptopkg "github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/lru"
	"github.com/kumandra/kumandra-node/internal/notification"
	"github.com/kumandra/kumandra-node/internal/piece"
	"github.com/kumandra/kumandra-node/internal/runtime"
	"go.uber.org/zap"
)

// BlockOrigin distinguishes blocks received while catching up on an
// already-finalized history from freshly gossiped/authored ones; it gates
// whether equivocation is reported (skipped during initial sync).
type BlockOrigin uint8

const (
	// OriginNetworkInitialSync marks blocks imported while syncing history.
	OriginNetworkInitialSync BlockOrigin = iota
	// OriginOther marks any other import (gossiped, own authoring, etc).
	OriginOther
)

// ParentSource resolves a header's parent. The on-disk block database that
// backs it is out of scope; this is the narrow read-only surface the
// importer needs.
type ParentSource interface {
	HeaderByHash(hash [32]byte) (Header, bool, error)
	IsInChain(hash [32]byte) (bool, error)
}

// InherentChecker validates inherents embedded in a block body against the
// inherent data providers in force for this import (§6 inherent
// identifier "kumandra"). The state-transition machinery that would
// actually execute a body is out of scope; only the check/recoverable-error
// contract is modeled.
type InherentChecker interface {
	CheckInherents(h Header, data inherents.Data) (unhandled []string, err error)
}

// Sink is the opaque inner import target the spec calls the "BlockImport
// sink" — acceptance of an already-verified block is delegated to it, and
// its own reasons for success/failure are outside this package's concern.
type Sink interface {
	Import(h Header) error
}

// ImportedBlockNotification is published after a successful import, paired
// with a reply channel the archiver uses to hand back any root blocks that
// must be cached for this block's child to consult.
type ImportedBlockNotification struct {
	BlockNumber  uint64
	ReplyForRoot chan<- []piece.RootBlock
}

var (
	// ErrFarmerInBlockList is returned when the solution's public key is barred.
	ErrFarmerInBlockList = errors.New("farmer public key is in block list")
	// ErrParentUnavailable is returned when the parent header cannot be found.
	ErrParentUnavailable = errors.New("parent header unavailable")
	// ErrParentBlockNoAssociatedWeight is returned when the parent has no recorded weight.
	ErrParentBlockNoAssociatedWeight = errors.New("parent block has no associated weight")
	// ErrInvalidGlobalRandomness is returned on a randomness mismatch with the parent-derived value.
	ErrInvalidGlobalRandomness = errors.New("invalid global randomness for this child")
	// ErrInvalidSolutionRange is returned on a solution-range mismatch.
	ErrInvalidSolutionRange = errors.New("invalid solution range for this child")
	// ErrInvalidSalt is returned on a salt mismatch.
	ErrInvalidSalt = errors.New("invalid salt for this child")
	// ErrSlotMustIncrease is returned when a child's slot does not exceed its parent's.
	ErrSlotMustIncrease = errors.New("slot did not increase over parent")
	// ErrInvalidEncoding is returned when a piece fails its Merkle check.
	ErrInvalidEncoding = errors.New("piece failed Merkle verification against records root")
	// ErrRecordsRootNotFound is returned when no records root is available
	// for the solution's segment, including after the block-1 LRU fallback.
	ErrRecordsRootNotFound = errors.New("records root not found for segment")
	// ErrCheckInherentsUnhandled is returned when inherent checking reports an
	// unrecoverable error.
	ErrCheckInherentsUnhandled = errors.New("unhandled inherent error")
)

// weightStore is the tiny "aux_schema" analogue: a process-local record of
// each imported block's cumulative weight, keyed by header hash.
type weightStore struct {
	mu      sync.Mutex
	weights map[[32]byte]*big.Int
}

func newWeightStore() *weightStore {
	return &weightStore{weights: make(map[[32]byte]*big.Int)}
}

func (w *weightStore) load(hash [32]byte) (*big.Int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.weights[hash]
	return v, ok
}

func (w *weightStore) store(hash [32]byte, weight *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.weights[hash] = weight
}

// equivocationKey identifies a (slot, author) pair for equivocation detection.
type equivocationKey struct {
	slot uint64
	pk   kcryptopkg.PublicKey
}

// BlockImport implements the stateful import-time checks: parent lookup,
// re-derived descriptor checks, piece verification, slot monotonicity,
// inherents, equivocation reporting, and fork choice by cumulative weight.
type BlockImport struct {
	runtime runtime.Runtime
	parents ParentSource
	sink    Sink
	checker InherentChecker
	logger  *zap.Logger

	rootBlocks *lru.RootBlockCache
	weights    *weightStore

	mu               sync.Mutex
	seenAtSlot       map[equivocationKey][32]byte
	bestHash         [32]byte
	bestNumber       uint64
	bestWeight       *big.Int
	genesisWeightSet bool

	importedSender notification.Sender[ImportedBlockNotification]
}

// NewBlockImport constructs a BlockImport. confirmationDepthK sizes the
// expected-root-blocks LRU, matching the Rust original's
// block_import() factory, which sizes it from the runtime at best block.
func NewBlockImport(
	rt runtime.Runtime,
	parents ParentSource,
	sink Sink,
	checker InherentChecker,
	confirmationDepthK int,
	importedSender notification.Sender[ImportedBlockNotification],
	logger *zap.Logger,
) (*BlockImport, error) {
	cache, err := lru.NewRootBlockCache(confirmationDepthK)
	if err != nil {
		return nil, err
	}
	return &BlockImport{
		runtime:        rt,
		parents:        parents,
		sink:           sink,
		checker:        checker,
		logger:         logger,
		rootBlocks:     cache,
		weights:        newWeightStore(),
		seenAtSlot:     make(map[equivocationKey][32]byte),
		bestWeight:     big.NewInt(0),
		importedSender: importedSender,
	}, nil
}

// RootBlocks exposes the expected-root-blocks cache so the archiver's
// downstream consumer and RPC layer can share it.
func (b *BlockImport) RootBlocks() *lru.RootBlockCache {
	return b.rootBlocks
}

// BestHash returns the hash of the current best block, for consumers
// (the slot worker, RPC metadata) that need a parent to build against.
func (b *BlockImport) BestHash() [32]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestHash
}

// BestNumber returns the height of the current best block.
func (b *BlockImport) BestNumber() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestNumber
}

// ImportBlock runs the full stateful import pipeline for an
// already-stateless-verified header and its pre-digest, returning whether
// this block becomes the new best (ForkChoice::Custom semantics).
func (b *BlockImport) ImportBlock(h Header, preDigest PreDigest, origin BlockOrigin, headerHash [32]byte) (becomesBest bool, err error) {
	alreadyInChain, err := b.parents.IsInChain(headerHash)
	if err != nil {
		return false, &VerificationError{Kind: KindTransport, Reason: err.Error()}
	}
	if alreadyInChain {
		return false, nil
	}

	sol := preDigest.Solution
	if h.Number != 0 && b.runtime.IsInBlockList(sol.PublicKey) {
		return false, &VerificationError{Kind: KindPolicy, Reason: ErrFarmerInBlockList.Error()}
	}

	var parent Header
	var parentHash [32]byte
	if h.Number != 0 {
		var found bool
		parent, found, err = b.parents.HeaderByHash(h.ParentHash)
		if err != nil {
			return false, &VerificationError{Kind: KindTransport, Reason: err.Error()}
		}
		if !found {
			return false, &VerificationError{Kind: KindStateMismatch, Reason: ErrParentUnavailable.Error()}
		}
		parentHash = h.ParentHash
		if err := b.verifyChildDescriptors(h, parentHash); err != nil {
			return false, err
		}
		if err := b.verifyPiece(h, sol); err != nil {
			return false, err
		}
		parentPreDigest, err := FindPreDigest(parent)
		if err != nil {
			return false, &VerificationError{Kind: KindMalformedHeader, Reason: err.Error()}
		}
		if preDigest.Slot <= parentPreDigest.Slot {
			return false, &VerificationError{Kind: KindStateMismatch, Reason: ErrSlotMustIncrease.Error()}
		}
		if h.HasBody && b.checker != nil {
			expectedRootBlocks, _ := b.rootBlocks.Get(h.Number)
			data := inherents.Data{Slot: preDigest.Slot, RootBlocks: expectedRootBlocks}
			unhandled, err := b.checker.CheckInherents(h, data)
			if err != nil {
				return false, &VerificationError{Kind: KindTransport, Reason: err.Error()}
			}
			if len(unhandled) > 0 {
				return false, &VerificationError{Kind: KindTransport, Reason: ErrCheckInherentsUnhandled.Error()}
			}
		}
	}

	b.checkAndReportEquivocation(origin, preDigest.Slot, sol.PublicKey, headerHash)

	parentWeight := big.NewInt(0)
	if h.Number != 0 {
		w, ok := b.weights.load(parentHash)
		switch {
		case ok:
			parentWeight = w
		case h.Number == 1:
			// The parent is genesis; a genesis header that was never run
			// through ImportBlock has no recorded weight and counts as zero.
		default:
			return false, &VerificationError{Kind: KindTransport, Reason: ErrParentBlockNoAssociatedWeight.Error()}
		}
	}
	totalWeight := new(big.Int).Add(parentWeight, new(big.Int).SetUint64(sol.AddedWeight()))
	b.weights.store(headerHash, totalWeight)

	becomesBest = b.updateForkChoice(headerHash, h.Number, totalWeight, parentHash)

	if err := b.sink.Import(h); err != nil {
		return false, &VerificationError{Kind: KindTransport, Reason: err.Error()}
	}

	reply := make(chan []piece.RootBlock, 1)
	b.importedSender.Notify(func() ImportedBlockNotification {
		return ImportedBlockNotification{BlockNumber: h.Number, ReplyForRoot: reply}
	})
	select {
	case rootBlocks := <-reply:
		if len(rootBlocks) > 0 {
			b.rootBlocks.Put(h.Number+1, rootBlocks)
		}
	default:
	}

	return becomesBest, nil
}

func (b *BlockImport) verifyChildDescriptors(h Header, parentHash [32]byte) error {
	expected, err := b.runtime.ChildDescriptorsFor(parentHash)
	if err != nil {
		return &VerificationError{Kind: KindTransport, Reason: err.Error()}
	}

	gotGlobal, err := FindGlobalRandomnessDescriptor(h)
	if err != nil {
		return &VerificationError{Kind: KindMalformedHeader, Reason: err.Error()}
	}
	if gotGlobal.GlobalRandomness != expected.GlobalRandomness {
		return &VerificationError{Kind: KindStateMismatch, Reason: ErrInvalidGlobalRandomness.Error()}
	}

	gotRange, err := FindSolutionRangeDescriptor(h)
	if err != nil {
		return &VerificationError{Kind: KindMalformedHeader, Reason: err.Error()}
	}
	if gotRange.SolutionRange != expected.SolutionRange {
		return &VerificationError{Kind: KindStateMismatch, Reason: ErrInvalidSolutionRange.Error()}
	}

	gotSalt, err := FindSaltDescriptor(h)
	if err != nil {
		return &VerificationError{Kind: KindMalformedHeader, Reason: err.Error()}
	}
	if gotSalt.Salt != expected.Salt {
		return &VerificationError{Kind: KindStateMismatch, Reason: ErrInvalidSalt.Error()}
	}

	return nil
}

func (b *BlockImport) verifyPiece(h Header, sol Solution) error {
	merkleNumLeaves := uint64(piece.MerkleNumLeaves)
	segmentIndex := sol.PieceIndex / merkleNumLeaves
	position := uint32(sol.PieceIndex % merkleNumLeaves)

	recordsRoot, ok := b.runtime.RecordsRoot(segmentIndex)
	if !ok && h.Number == 1 {
		if rb, found := b.rootBlocks.ForSegmentIndex(segmentIndex); found {
			recordsRoot = rb.RecordsRoot()
			ok = true
		}
	}
	if !ok {
		return &VerificationError{Kind: KindStateMismatch, Reason: ErrRecordsRootNotFound.Error()}
	}

	if !piece.CheckPiece(sol.Encoding, sol.PublicKey, recordsRoot, position) {
		return &VerificationError{Kind: KindBadSolution, Reason: ErrInvalidEncoding.Error()}
	}
	return nil
}

// checkAndReportEquivocation records (slot, author) -> header hash; if a
// different header by the same author at the same slot was already seen,
// it submits an equivocation report. It never rejects the import, and is
// skipped entirely for blocks received while catching up on history.
func (b *BlockImport) checkAndReportEquivocation(origin BlockOrigin, slot uint64, pk kcryptopkg.PublicKey, headerHash [32]byte) {
	if origin == OriginNetworkInitialSync {
		return
	}

	key := equivocationKey{slot: slot, pk: pk}

	b.mu.Lock()
	prior, seen := b.seenAtSlot[key]
	if !seen {
		b.seenAtSlot[key] = headerHash
	}
	b.mu.Unlock()

	if seen && prior != headerHash {
		proof := runtime.EquivocationProof{
			PublicKey:  pk,
			Slot:       slot,
			FirstHash:  prior,
			SecondHash: headerHash,
		}
		if err := b.runtime.SubmitReportEquivocation(proof); err != nil && b.logger != nil {
			b.logger.Warn("failed to submit equivocation report", zap.Error(err))
		}
	}
}

// updateForkChoice applies Custom(true) iff (totalWeight, number) >
// (bestWeight, bestNumber) lexicographically, weight first, height as the
// tiebreaker, and updates best-block bookkeeping when it does.
func (b *BlockImport) updateForkChoice(hash [32]byte, number uint64, totalWeight *big.Int, parentHash [32]byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bestWeight := b.bestWeight
	bestNumber := b.bestNumber

	var wins bool
	switch cmp := totalWeight.Cmp(bestWeight); {
	case cmp > 0:
		wins = true
	case cmp == 0:
		wins = number > bestNumber
	default:
		wins = false
	}

	if wins || !b.genesisWeightSet {
		b.bestHash = hash
		b.bestNumber = number
		b.bestWeight = totalWeight
		b.genesisWeightSet = true
	}

	return wins
}
