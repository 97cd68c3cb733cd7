package consensus

import (
	"errors"
	"fmt"

	"github.com/kumandra/kumandra-node/internal/kcrypto"
)

// ErrorKind classifies a verification failure into the abstract buckets the
// error-handling design groups concrete rejections under.
type ErrorKind uint8

const (
	// KindMalformedHeader covers missing/duplicate digests, unsealed or
	// badly-sealed headers.
	KindMalformedHeader ErrorKind = iota
	// KindBadSolution covers VRF/tag/range failures in the solution itself.
	KindBadSolution
	// KindStateMismatch covers randomness/range/salt/parent/slot mismatches.
	KindStateMismatch
	// KindPolicy covers block-list and too-far-in-future rejections.
	KindPolicy
	// KindTransport covers runtime-API, storage, and inherent-provider failures.
	KindTransport
)

// VerificationError is a typed, classified rejection. Deferrable errors
// (currently only TooFarInFuture) signal the import queue that the header
// may become valid later and should be retried rather than discarded.
type VerificationError struct {
	Kind       ErrorKind
	Reason     string
	Deferrable bool
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("consensus: %s", e.Reason)
}

func newErr(kind ErrorKind, reason string) *VerificationError {
	return &VerificationError{Kind: kind, Reason: reason}
}

// Sentinel reasons used across the package. A VerificationError carries only
// the sentinel's text in its Reason field and does not wrap the sentinel, so
// errors.Is does not match through it; callers identify the concrete cause
// by comparing Reason with the sentinel's Error() string.
var (
	ErrTooFarInFuture       = errors.New("slot is too far in the future")
	ErrBadSealSignature     = errors.New("bad seal signature")
	ErrBadLocalChallenge    = errors.New("bad local challenge VRF")
	ErrBadTagSignature      = errors.New("bad tag signature VRF")
	ErrOutsideSolutionRange = errors.New("tag outside solution range")
	ErrInvalidTag           = errors.New("tag does not match HMAC(salt, encoding)")
)

// VerifyHeader performs the stateless checks available before a header's
// parent is known: digest extraction/uniqueness, slot-drift, seal
// signature, local-challenge VRF, tag-signature VRF, solution-range
// membership, and tag correctness.
//
// slotNow is the verifier's own wall-clock slot estimate.
func VerifyHeader(h Header, slotNow uint64) (PreDigest, error) {
	preDigest, err := FindPreDigest(h)
	if err != nil {
		return PreDigest{}, &VerificationError{Kind: KindMalformedHeader, Reason: err.Error()}
	}

	if h.Number == 0 {
		// Genesis carries no real descriptors or seal to check.
		return preDigest, nil
	}

	if _, err := FindGlobalRandomnessDescriptor(h); err != nil {
		return PreDigest{}, &VerificationError{Kind: KindMalformedHeader, Reason: err.Error()}
	}
	saltDesc, err := FindSaltDescriptor(h)
	if err != nil {
		return PreDigest{}, &VerificationError{Kind: KindMalformedHeader, Reason: err.Error()}
	}
	solutionRangeDesc, err := FindSolutionRangeDescriptor(h)
	if err != nil {
		return PreDigest{}, &VerificationError{Kind: KindMalformedHeader, Reason: err.Error()}
	}

	if preDigest.Slot > slotNow+1 {
		return PreDigest{}, &VerificationError{Kind: KindPolicy, Reason: ErrTooFarInFuture.Error(), Deferrable: true}
	}

	seal, err := FindSeal(h)
	if err != nil {
		return PreDigest{}, &VerificationError{Kind: KindMalformedHeader, Reason: err.Error()}
	}

	preHash, err := h.PreHash()
	if err != nil {
		return PreDigest{}, &VerificationError{Kind: KindTransport, Reason: err.Error()}
	}

	sol := preDigest.Solution
	if !kcrypto.VerifySchnorr(sol.PublicKey, preHash, seal.Signature) {
		return PreDigest{}, newErr(KindMalformedHeader, ErrBadSealSignature.Error())
	}

	globalChallenge := kcrypto.DeriveGlobalChallenge(mustGlobalRandomness(h), preDigest.Slot)
	if !kcrypto.IsLocalChallengeValid(globalChallenge, sol.LocalChallenge, sol.PublicKey) {
		return PreDigest{}, newErr(KindBadSolution, ErrBadLocalChallenge.Error())
	}

	if !kcrypto.IsTagSignatureValid(sol.Tag, sol.TagSignature, sol.PublicKey) {
		return PreDigest{}, newErr(KindBadSolution, ErrBadTagSignature.Error())
	}

	target := kcrypto.TargetFromOutput(sol.LocalChallenge.Output)
	tag := kcrypto.TagAsUint64(sol.Tag)
	if !kcrypto.IsWithinSolutionRange(target, tag, solutionRangeDesc.SolutionRange) {
		return PreDigest{}, newErr(KindBadSolution, ErrOutsideSolutionRange.Error())
	}

	if !kcrypto.IsTagValid(sol.Encoding[:], saltDesc.Salt, sol.Tag) {
		return PreDigest{}, newErr(KindBadSolution, ErrInvalidTag.Error())
	}

	return preDigest, nil
}

func mustGlobalRandomness(h Header) [32]byte {
	d, err := FindGlobalRandomnessDescriptor(h)
	if err != nil {
		// VerifyHeader already validated presence before calling this; a
		// failure here would be a programmer error, not a header defect.
		return [32]byte{}
	}
	return d.GlobalRandomness
}
