// Package consensus implements the two-phase header verification and
// stateful block import described for the PoAS engine: digest
// extraction, the stateless Verifier, and the stateful BlockImport with
// its fork-choice and equivocation logic.
package consensus

import (
	"errors"

	"github.com/kumandra/kumandra-node/internal/codec"
	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/piece"
)

// EngineID identifies this consensus engine's digest items in a header,
// matching the single fixed engine id every digest below is tagged with.
var EngineID = [8]byte{'K', 'M', 'N', 'D', 'P', 'o', 'A', 'S'}

// Solution is a farmer's proof of possession submitted for a slot.
type Solution struct {
	PublicKey      kcrypto.PublicKey `cbor:"0,keyasint"`
	RewardAddress  [32]byte          `cbor:"1,keyasint"`
	PieceIndex     uint64            `cbor:"2,keyasint"`
	Encoding       piece.Piece       `cbor:"3,keyasint"`
	TagSignature   kcrypto.VRFOutput `cbor:"4,keyasint"`
	LocalChallenge kcrypto.VRFOutput `cbor:"5,keyasint"`
	Tag            [kcrypto.TagSize]byte `cbor:"6,keyasint"`
}

// GenesisSolution is the fixed dummy solution embedded in the genesis
// block's PreDigest.
func GenesisSolution() Solution {
	return Solution{}
}

// AddedWeight computes this solution's contribution to cumulative chain
// weight: u64::MAX - bidirectional_distance(target, tag).
func (s Solution) AddedWeight() uint64 {
	target := kcrypto.TargetFromOutput(s.LocalChallenge.Output)
	tag := kcrypto.TagAsUint64(s.Tag)
	return kcrypto.AddedWeight(target, tag)
}

// PreDigest is embedded in every non-genesis header: the slot it was
// authored for and the winning solution.
type PreDigest struct {
	Slot     uint64   `cbor:"0,keyasint"`
	Solution Solution `cbor:"1,keyasint"`
}

// GenesisPreDigest is the fixed dummy pre-digest for the genesis block.
func GenesisPreDigest() PreDigest {
	return PreDigest{Slot: 0, Solution: GenesisSolution()}
}

// GlobalRandomnessDescriptor carries the global randomness value in force
// for this header's slot.
type GlobalRandomnessDescriptor struct {
	GlobalRandomness [32]byte `cbor:"0,keyasint"`
}

// SolutionRangeDescriptor carries the solution range in force for this header.
type SolutionRangeDescriptor struct {
	SolutionRange uint64 `cbor:"0,keyasint"`
}

// SaltDescriptor carries the salt in force for this header.
type SaltDescriptor struct {
	Salt [kcrypto.SaltSize]byte `cbor:"0,keyasint"`
}

// Seal is the terminal digest: a Schnorr signature over the header's
// pre-hash by the authoring solution's public key.
type Seal struct {
	Signature kcrypto.RewardSignature `cbor:"0,keyasint"`
}

// DigestKind distinguishes the three digest roles a header's log entries
// may play.
type DigestKind uint8

const (
	// DigestPreRuntime carries the PreDigest.
	DigestPreRuntime DigestKind = iota
	// DigestConsensus carries one of GlobalRandomnessDescriptor,
	// SolutionRangeDescriptor, or SaltDescriptor.
	DigestConsensus
	// DigestSeal carries the terminal Seal.
	DigestSeal
)

// digestTag further discriminates DigestConsensus payloads, since several
// descriptor types share that kind.
type digestTag uint8

const (
	tagPreDigest digestTag = iota
	tagGlobalRandomness
	tagSolutionRange
	tagSalt
	tagSeal
)

// DigestItem is one entry in a header's digest log.
type DigestItem struct {
	EngineID [8]byte   `cbor:"0,keyasint"`
	Kind     DigestKind `cbor:"1,keyasint"`
	Tag      digestTag `cbor:"2,keyasint"`
	Payload  []byte    `cbor:"3,keyasint"`
}

func encodeDigest(kind DigestKind, tag digestTag, v interface{}) (DigestItem, error) {
	raw, err := codec.Encode(v)
	if err != nil {
		return DigestItem{}, err
	}
	return DigestItem{EngineID: EngineID, Kind: kind, Tag: tag, Payload: raw}, nil
}

// NewPreDigestItem wraps a PreDigest as a header digest item.
func NewPreDigestItem(d PreDigest) (DigestItem, error) {
	return encodeDigest(DigestPreRuntime, tagPreDigest, d)
}

// NewGlobalRandomnessDigestItem wraps a GlobalRandomnessDescriptor.
func NewGlobalRandomnessDigestItem(d GlobalRandomnessDescriptor) (DigestItem, error) {
	return encodeDigest(DigestConsensus, tagGlobalRandomness, d)
}

// NewSolutionRangeDigestItem wraps a SolutionRangeDescriptor.
func NewSolutionRangeDigestItem(d SolutionRangeDescriptor) (DigestItem, error) {
	return encodeDigest(DigestConsensus, tagSolutionRange, d)
}

// NewSaltDigestItem wraps a SaltDescriptor.
func NewSaltDigestItem(d SaltDescriptor) (DigestItem, error) {
	return encodeDigest(DigestConsensus, tagSalt, d)
}

// NewSealDigestItem wraps the terminal Seal.
func NewSealDigestItem(s Seal) (DigestItem, error) {
	return encodeDigest(DigestSeal, tagSeal, s)
}

// Header is a block header: just enough structure for the consensus core
// to verify and import. Body/extrinsics are represented opaquely, since
// the state-transition/runtime layer that would interpret them is out of
// scope.
type Header struct {
	ParentHash [32]byte     `cbor:"0,keyasint"`
	Number     uint64       `cbor:"1,keyasint"`
	Digests    []DigestItem `cbor:"2,keyasint"`
	HasBody    bool         `cbor:"3,keyasint"`
}

// PreHash hashes the header's encoding excluding any Seal digest — the
// value the Seal signs over.
func (h Header) PreHash() ([32]byte, error) {
	unsealed := h
	unsealed.Digests = make([]DigestItem, 0, len(h.Digests))
	for _, d := range h.Digests {
		if d.Kind == DigestSeal {
			continue
		}
		unsealed.Digests = append(unsealed.Digests, d)
	}
	raw, err := codec.Encode(unsealed)
	if err != nil {
		return [32]byte{}, err
	}
	return kcrypto.Sha256(raw), nil
}

// PushSeal appends a terminal Seal digest, returning the updated header.
func (h Header) PushSeal(s Seal) (Header, error) {
	item, err := NewSealDigestItem(s)
	if err != nil {
		return h, err
	}
	out := h
	out.Digests = append(append([]DigestItem{}, h.Digests...), item)
	return out, nil
}

var (
	// ErrNoPreDigest is returned when a header has zero pre-digests.
	ErrNoPreDigest = errors.New("consensus: missing pre-digest")
	// ErrMultiplePreDigests is returned when a header has more than one pre-digest.
	ErrMultiplePreDigests = errors.New("consensus: multiple pre-digests")
	// ErrMissingGlobalRandomness is returned when no global-randomness descriptor is present.
	ErrMissingGlobalRandomness = errors.New("consensus: missing global randomness descriptor")
	// ErrMultipleGlobalRandomness is returned when more than one is present.
	ErrMultipleGlobalRandomness = errors.New("consensus: multiple global randomness descriptors")
	// ErrMissingSolutionRange is returned when no solution-range descriptor is present.
	ErrMissingSolutionRange = errors.New("consensus: missing solution range descriptor")
	// ErrMultipleSolutionRange is returned when more than one is present.
	ErrMultipleSolutionRange = errors.New("consensus: multiple solution range descriptors")
	// ErrMissingSalt is returned when no salt descriptor is present.
	ErrMissingSalt = errors.New("consensus: missing salt descriptor")
	// ErrMultipleSalt is returned when more than one is present.
	ErrMultipleSalt = errors.New("consensus: multiple salt descriptors")
	// ErrMissingSeal is returned when a header has no terminal seal.
	ErrMissingSeal = errors.New("consensus: missing seal")
	// ErrMultipleSeals is returned when a header has more than one seal.
	ErrMultipleSeals = errors.New("consensus: multiple seals")
)

// FindPreDigest extracts the header's unique pre-digest. Block number 0
// (genesis) always yields GenesisPreDigest regardless of its digest log.
func FindPreDigest(h Header) (PreDigest, error) {
	if h.Number == 0 {
		return GenesisPreDigest(), nil
	}
	var found *PreDigest
	for _, d := range h.Digests {
		if d.Kind != DigestPreRuntime || d.Tag != tagPreDigest {
			continue
		}
		var pd PreDigest
		if err := codec.Decode(d.Payload, &pd); err != nil {
			return PreDigest{}, err
		}
		if found != nil {
			return PreDigest{}, ErrMultiplePreDigests
		}
		found = &pd
	}
	if found == nil {
		return PreDigest{}, ErrNoPreDigest
	}
	return *found, nil
}

// FindGlobalRandomnessDescriptor extracts the header's unique global
// randomness descriptor.
func FindGlobalRandomnessDescriptor(h Header) (GlobalRandomnessDescriptor, error) {
	var found *GlobalRandomnessDescriptor
	for _, d := range h.Digests {
		if d.Kind != DigestConsensus || d.Tag != tagGlobalRandomness {
			continue
		}
		var v GlobalRandomnessDescriptor
		if err := codec.Decode(d.Payload, &v); err != nil {
			return GlobalRandomnessDescriptor{}, err
		}
		if found != nil {
			return GlobalRandomnessDescriptor{}, ErrMultipleGlobalRandomness
		}
		found = &v
	}
	if found == nil {
		return GlobalRandomnessDescriptor{}, ErrMissingGlobalRandomness
	}
	return *found, nil
}

// FindSolutionRangeDescriptor extracts the header's unique solution range descriptor.
func FindSolutionRangeDescriptor(h Header) (SolutionRangeDescriptor, error) {
	var found *SolutionRangeDescriptor
	for _, d := range h.Digests {
		if d.Kind != DigestConsensus || d.Tag != tagSolutionRange {
			continue
		}
		var v SolutionRangeDescriptor
		if err := codec.Decode(d.Payload, &v); err != nil {
			return SolutionRangeDescriptor{}, err
		}
		if found != nil {
			return SolutionRangeDescriptor{}, ErrMultipleSolutionRange
		}
		found = &v
	}
	if found == nil {
		return SolutionRangeDescriptor{}, ErrMissingSolutionRange
	}
	return *found, nil
}

// FindSaltDescriptor extracts the header's unique salt descriptor.
func FindSaltDescriptor(h Header) (SaltDescriptor, error) {
	var found *SaltDescriptor
	for _, d := range h.Digests {
		if d.Kind != DigestConsensus || d.Tag != tagSalt {
			continue
		}
		var v SaltDescriptor
		if err := codec.Decode(d.Payload, &v); err != nil {
			return SaltDescriptor{}, err
		}
		if found != nil {
			return SaltDescriptor{}, ErrMultipleSalt
		}
		found = &v
	}
	if found == nil {
		return SaltDescriptor{}, ErrMissingSalt
	}
	return *found, nil
}

// FindSeal extracts the header's unique terminal seal.
func FindSeal(h Header) (Seal, error) {
	var found *Seal
	for _, d := range h.Digests {
		if d.Kind != DigestSeal {
			continue
		}
		var v Seal
		if err := codec.Decode(d.Payload, &v); err != nil {
			return Seal{}, err
		}
		if found != nil {
			return Seal{}, ErrMultipleSeals
		}
		found = &v
	}
	if found == nil {
		return Seal{}, ErrMissingSeal
	}
	return *found, nil
}
