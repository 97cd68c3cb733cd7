package consensus

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/notification"
	"github.com/kumandra/kumandra-node/internal/piece"
	"github.com/kumandra/kumandra-node/internal/runtime"
)

// fakeParentSource is a minimal in-memory ParentSource backed by a map,
// enough to exercise the importer without a real block database.
type fakeParentSource struct {
	headers map[[32]byte]Header
	inChain map[[32]byte]bool
}

func newFakeParentSource() *fakeParentSource {
	return &fakeParentSource{headers: make(map[[32]byte]Header), inChain: make(map[[32]byte]bool)}
}

func (f *fakeParentSource) put(hash [32]byte, h Header) {
	f.headers[hash] = h
}

func (f *fakeParentSource) HeaderByHash(hash [32]byte) (Header, bool, error) {
	h, ok := f.headers[hash]
	return h, ok, nil
}

func (f *fakeParentSource) IsInChain(hash [32]byte) (bool, error) {
	return f.inChain[hash], nil
}

type fakeSink struct {
	imported []Header
}

func (s *fakeSink) Import(h Header) error {
	s.imported = append(s.imported, h)
	return nil
}

// builtChild bundles everything produced by buildValidChild for test use.
type builtChild struct {
	header        Header
	headerHash    [32]byte
	preDigest     PreDigest
	globalRandom  [32]byte
	solutionRange uint64
	salt          [8]byte
	recordsRoot   [32]byte
	segmentIndex  uint64
}

// buildValidChild constructs a fully self-consistent header: a real
// Merkle-proven piece, a genuine Schnorr VRF solution satisfying an
// effectively unbounded solution range, and a valid terminal seal.
func buildValidChild(t *testing.T, number uint64, parentHash [32]byte, slot uint64) builtChild {
	t.Helper()
	return buildChildWithRange(t, number, parentHash, slot, ^uint64(0))
}

// buildChildWithRange is buildValidChild with an explicit solution range,
// so callers can construct a solution that is deliberately outside too
// tight a range while still carrying a valid seal signature (the range
// digest is set before the header is signed).
func buildChildWithRange(t *testing.T, number uint64, parentHash [32]byte, slot uint64, solutionRange uint64) builtChild {
	t.Helper()

	kp, err := kcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	records := make([][]byte, piece.MerkleNumLeaves)
	for i := range records {
		r := make([]byte, piece.RecordSize)
		if _, err := rand.Read(r); err != nil {
			t.Fatalf("rand.Read: %v", err)
		}
		records[i] = r
	}
	root, witnesses, err := piece.BuildMerkleTree(records)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}

	const segmentIndex = 0
	const position = 3

	var plainRecord [piece.RecordSize]byte
	copy(plainRecord[:], records[position])
	encodedRecord := piece.EncodePiece(plainRecord, kp.PublicKey())

	var raw [piece.PieceSize]byte
	copy(raw[:piece.RecordSize], encodedRecord[:])
	copy(raw[piece.RecordSize:], witnesses[position][:])
	encodedPiece, err := piece.NewPiece(raw[:])
	if err != nil {
		t.Fatalf("NewPiece: %v", err)
	}

	var globalRandom [32]byte
	if _, err := rand.Read(globalRandom[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	var salt [8]byte
	if _, err := rand.Read(salt[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	globalChallenge := kcrypto.DeriveGlobalChallenge(globalRandom, slot)
	localChallenge, err := kp.DeriveLocalChallenge(globalChallenge)
	if err != nil {
		t.Fatalf("DeriveLocalChallenge: %v", err)
	}
	tag := kcrypto.CreateTag(encodedPiece[:], salt)
	tagSignature, err := kp.DeriveTagSignature(tag)
	if err != nil {
		t.Fatalf("DeriveTagSignature: %v", err)
	}

	sol := Solution{
		PublicKey:      kp.PublicKey(),
		PieceIndex:     segmentIndex*piece.MerkleNumLeaves + position,
		Encoding:       encodedPiece,
		TagSignature:   tagSignature,
		LocalChallenge: localChallenge,
		Tag:            tag,
	}
	preDigest := PreDigest{Slot: slot, Solution: sol}

	preDigestItem, err := NewPreDigestItem(preDigest)
	if err != nil {
		t.Fatalf("NewPreDigestItem: %v", err)
	}
	randItem, err := NewGlobalRandomnessDigestItem(GlobalRandomnessDescriptor{GlobalRandomness: globalRandom})
	if err != nil {
		t.Fatalf("NewGlobalRandomnessDigestItem: %v", err)
	}
	rangeItem, err := NewSolutionRangeDigestItem(SolutionRangeDescriptor{SolutionRange: solutionRange})
	if err != nil {
		t.Fatalf("NewSolutionRangeDigestItem: %v", err)
	}
	saltItem, err := NewSaltDigestItem(SaltDescriptor{Salt: salt})
	if err != nil {
		t.Fatalf("NewSaltDigestItem: %v", err)
	}

	h := Header{
		ParentHash: parentHash,
		Number:     number,
		Digests:    []DigestItem{preDigestItem, randItem, rangeItem, saltItem},
	}

	preHash, err := h.PreHash()
	if err != nil {
		t.Fatalf("PreHash: %v", err)
	}
	sig, err := kp.Sign(preHash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sealed, err := h.PushSeal(Seal{Signature: sig})
	if err != nil {
		t.Fatalf("PushSeal: %v", err)
	}

	// The importer only uses headerHash as an opaque identity key, so any
	// value derived deterministically from the sealed header works here.
	headerHash := kcrypto.Sha256(preHash[:], sig[:])

	return builtChild{
		header:        sealed,
		headerHash:    headerHash,
		preDigest:     preDigest,
		globalRandom:  globalRandom,
		solutionRange: solutionRange,
		salt:          salt,
		recordsRoot:   root,
		segmentIndex:  segmentIndex,
	}
}

func newTestImport(t *testing.T, rt runtime.Runtime) (*BlockImport, *fakeParentSource, *fakeSink) {
	t.Helper()
	parents := newFakeParentSource()
	sink := &fakeSink{}
	sender, _ := notification.Channel[ImportedBlockNotification]("imported-blocks")
	imp, err := NewBlockImport(rt, parents, sink, nil, 10, sender, nil)
	if err != nil {
		t.Fatalf("NewBlockImport: %v", err)
	}
	return imp, parents, sink
}

func TestImportBlockGenesisAlwaysBest(t *testing.T) {
	rt := runtime.NewInMemory(runtime.ChainParameters{})
	imp, parents, sink := newTestImport(t, rt)

	genesis := Header{Number: 0}
	parents.put([32]byte{}, genesis)

	becomesBest, err := imp.ImportBlock(genesis, GenesisPreDigest(), OriginOther, [32]byte{1})
	if err != nil {
		t.Fatalf("ImportBlock(genesis): %v", err)
	}
	if !becomesBest {
		t.Fatal("genesis import should become best")
	}
	if len(sink.imported) != 1 {
		t.Fatalf("expected genesis to reach the sink, got %d imports", len(sink.imported))
	}
}

func TestImportBlockValidChildBecomesBest(t *testing.T) {
	rt := runtime.NewInMemory(runtime.ChainParameters{})
	imp, parents, sink := newTestImport(t, rt)

	genesisHash := [32]byte{9}
	genesis := Header{Number: 0}
	parents.put(genesisHash, genesis)
	if _, err := imp.ImportBlock(genesis, GenesisPreDigest(), OriginOther, genesisHash); err != nil {
		t.Fatalf("ImportBlock(genesis): %v", err)
	}

	child := buildValidChild(t, 1, genesisHash, 1)
	rt.SetChildDescriptors(genesisHash, runtime.ChildDescriptors{
		GlobalRandomness:    child.globalRandom,
		SolutionRange:       child.solutionRange,
		VotingSolutionRange: child.solutionRange,
		Salt:                child.salt,
	})
	rt.SetRecordsRoot(child.segmentIndex, child.recordsRoot)
	parents.put(genesisHash, genesis)

	becomesBest, err := imp.ImportBlock(child.header, child.preDigest, OriginOther, child.headerHash)
	if err != nil {
		t.Fatalf("ImportBlock(child): %v", err)
	}
	if !becomesBest {
		t.Fatal("valid child extending the only chain should become best")
	}
	if len(sink.imported) != 2 {
		t.Fatalf("expected 2 imports reaching the sink, got %d", len(sink.imported))
	}
}

func TestImportBlockRejectsBadSolutionRange(t *testing.T) {
	rt := runtime.NewInMemory(runtime.ChainParameters{})
	imp, parents, _ := newTestImport(t, rt)

	genesisHash := [32]byte{9}
	parents.put(genesisHash, Header{Number: 0})

	child := buildValidChild(t, 1, genesisHash, 1)
	// Deliberately register a mismatched solution range so the child's
	// descriptor check fails against what the runtime expects.
	rt.SetChildDescriptors(genesisHash, runtime.ChildDescriptors{
		GlobalRandomness:    child.globalRandom,
		SolutionRange:       1,
		VotingSolutionRange: 1,
		Salt:                child.salt,
	})
	rt.SetRecordsRoot(child.segmentIndex, child.recordsRoot)

	_, err := imp.ImportBlock(child.header, child.preDigest, OriginOther, child.headerHash)
	if err == nil {
		t.Fatal("expected solution range mismatch to be rejected")
	}
	verr, ok := err.(*VerificationError)
	if !ok || verr.Kind != KindStateMismatch {
		t.Fatalf("expected KindStateMismatch, got %#v", err)
	}
}

func TestImportBlockRejectsMissingRecordsRoot(t *testing.T) {
	rt := runtime.NewInMemory(runtime.ChainParameters{})
	imp, parents, _ := newTestImport(t, rt)

	genesisHash := [32]byte{9}
	parents.put(genesisHash, Header{Number: 0})

	child := buildValidChild(t, 1, genesisHash, 1)
	rt.SetChildDescriptors(genesisHash, runtime.ChildDescriptors{
		GlobalRandomness:    child.globalRandom,
		SolutionRange:       child.solutionRange,
		VotingSolutionRange: child.solutionRange,
		Salt:                child.salt,
	})
	// Deliberately omit SetRecordsRoot.

	_, err := imp.ImportBlock(child.header, child.preDigest, OriginOther, child.headerHash)
	if err == nil {
		t.Fatal("expected missing records root to be rejected")
	}
}

func TestImportBlockDetectsEquivocation(t *testing.T) {
	rt := runtime.NewInMemory(runtime.ChainParameters{})
	imp, parents, _ := newTestImport(t, rt)

	genesisHash := [32]byte{9}
	parents.put(genesisHash, Header{Number: 0})

	childA := buildValidChild(t, 1, genesisHash, 1)
	rt.SetChildDescriptors(genesisHash, runtime.ChildDescriptors{
		GlobalRandomness:    childA.globalRandom,
		SolutionRange:       childA.solutionRange,
		VotingSolutionRange: childA.solutionRange,
		Salt:                childA.salt,
	})
	rt.SetRecordsRoot(childA.segmentIndex, childA.recordsRoot)

	if _, err := imp.ImportBlock(childA.header, childA.preDigest, OriginOther, childA.headerHash); err != nil {
		t.Fatalf("ImportBlock(childA): %v", err)
	}

	// A distinct header hash for the very same (slot, public key) pair
	// simulates the same farmer signing two competing blocks.
	secondHash := childA.headerHash
	secondHash[31] ^= 0xFF
	if _, err := imp.ImportBlock(childA.header, childA.preDigest, OriginOther, secondHash); err != nil {
		t.Fatalf("ImportBlock(duplicate slot): %v", err)
	}

	equivocations := rt.Equivocations()
	if len(equivocations) != 1 {
		t.Fatalf("expected exactly one equivocation report, got %d", len(equivocations))
	}
	if equivocations[0].PublicKey != childA.preDigest.Solution.PublicKey {
		t.Fatalf("equivocation reported for wrong public key")
	}
}

func TestImportBlockSkipsEquivocationDuringInitialSync(t *testing.T) {
	rt := runtime.NewInMemory(runtime.ChainParameters{})
	imp, parents, _ := newTestImport(t, rt)

	genesisHash := [32]byte{9}
	parents.put(genesisHash, Header{Number: 0})

	childA := buildValidChild(t, 1, genesisHash, 1)
	rt.SetChildDescriptors(genesisHash, runtime.ChildDescriptors{
		GlobalRandomness:    childA.globalRandom,
		SolutionRange:       childA.solutionRange,
		VotingSolutionRange: childA.solutionRange,
		Salt:                childA.salt,
	})
	rt.SetRecordsRoot(childA.segmentIndex, childA.recordsRoot)

	if _, err := imp.ImportBlock(childA.header, childA.preDigest, OriginNetworkInitialSync, childA.headerHash); err != nil {
		t.Fatalf("ImportBlock(childA, initial sync): %v", err)
	}
	secondHash := childA.headerHash
	secondHash[31] ^= 0xFF
	if _, err := imp.ImportBlock(childA.header, childA.preDigest, OriginNetworkInitialSync, secondHash); err != nil {
		t.Fatalf("ImportBlock(duplicate, initial sync): %v", err)
	}

	if len(rt.Equivocations()) != 0 {
		t.Fatal("expected no equivocation reports while catching up on history")
	}
}

func TestWeightStoreAccumulatesAcrossImports(t *testing.T) {
	rt := runtime.NewInMemory(runtime.ChainParameters{})
	imp, parents, _ := newTestImport(t, rt)

	genesisHash := [32]byte{9}
	parents.put(genesisHash, Header{Number: 0})
	if _, err := imp.ImportBlock(Header{Number: 0}, GenesisPreDigest(), OriginOther, genesisHash); err != nil {
		t.Fatalf("ImportBlock(genesis): %v", err)
	}

	child := buildValidChild(t, 1, genesisHash, 1)
	rt.SetChildDescriptors(genesisHash, runtime.ChildDescriptors{
		GlobalRandomness:    child.globalRandom,
		SolutionRange:       child.solutionRange,
		VotingSolutionRange: child.solutionRange,
		Salt:                child.salt,
	})
	rt.SetRecordsRoot(child.segmentIndex, child.recordsRoot)
	if _, err := imp.ImportBlock(child.header, child.preDigest, OriginOther, child.headerHash); err != nil {
		t.Fatalf("ImportBlock(child): %v", err)
	}

	genesisWeight, ok := imp.weights.load(genesisHash)
	if !ok {
		t.Fatal("expected genesis weight to be recorded")
	}
	childWeight, ok := imp.weights.load(child.headerHash)
	if !ok {
		t.Fatal("expected child weight to be recorded")
	}
	if childWeight.Cmp(genesisWeight) <= 0 {
		t.Fatalf("expected child weight %s to exceed genesis weight %s", childWeight, genesisWeight)
	}
	if imp.bestWeight.Cmp(big.NewInt(0)) <= 0 {
		t.Fatal("expected bestWeight to be positive after importing solutions")
	}
}
