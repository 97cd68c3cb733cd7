// Package kcrypto implements the codec and crypto primitives the consensus
// core is built on: hashing, tag derivation, challenge derivation,
// bidirectional/XOR distance, and Schnorr-based signing and VRF-shaped
// verification over secp256k1.
package kcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

const (
	// TagSize is the length in bytes of a solving tag.
	TagSize = 8
	// SaltSize is the length in bytes of a salt value.
	SaltSize = 8
	// PublicKeyLength is the length in bytes of a farmer public key.
	PublicKeyLength = 32
	// RewardSignatureLength is the length in bytes of a Schnorr signature.
	RewardSignatureLength = 64
	// VRFOutputLength is the length in bytes of a VRF output.
	VRFOutputLength = 32
	// VRFProofLength is the length in bytes of a VRF proof.
	VRFProofLength = 64

	// SaltHashingPrefix is prepended before hashing material that derives a salt.
	SaltHashingPrefix = "salt"
	// SolutionSigningContext is the domain separator for VRF-shaped proofs
	// tying a farmer's local challenge and tag signature to its solution.
	SolutionSigningContext = "farmer_solution"
)

// PublicKey is a 32-byte compressed farmer identity. It is not itself a
// valid secp256k1 point encoding (Schnorr over secp256k1 uses 32-byte
// x-only public keys); Parse recovers the full point.
type PublicKey [PublicKeyLength]byte

// RewardSignature is a 64-byte Schnorr signature over a reward (or seal) hash.
type RewardSignature [RewardSignatureLength]byte

// VRFOutput pairs a VRF output with its verifiable proof. Both
// LocalChallenge and TagSignature share this shape.
type VRFOutput struct {
	Output [VRFOutputLength]byte
	Proof  [VRFProofLength]byte
}

// Sha256 hashes the concatenation of all chunks.
func Sha256(chunks ...[]byte) [32]byte {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HmacSha256 computes HMAC-SHA256(key, msg).
func HmacSha256(key, msg []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// CreateTag computes the proof-of-possession tag for a piece under a salt:
// tag = HMAC-SHA256(salt, piece)[:TagSize].
func CreateTag(piece []byte, salt [SaltSize]byte) [TagSize]byte {
	full := HmacSha256(salt[:], piece)
	var tag [TagSize]byte
	copy(tag[:], full[:TagSize])
	return tag
}

// IsTagValid reports whether tag is the correct tag for piece under salt.
func IsTagValid(piece []byte, salt [SaltSize]byte, tag [TagSize]byte) bool {
	return CreateTag(piece, salt) == tag
}

// DeriveGlobalChallenge computes the per-slot challenge all farmers race
// against: sha256(randomness || LE64(slot))[:TagSize].
func DeriveGlobalChallenge(randomness [32]byte, slot uint64) [TagSize]byte {
	var slotLE [8]byte
	binary.LittleEndian.PutUint64(slotLE[:], slot)
	full := Sha256(randomness[:], slotLE[:])
	var out [TagSize]byte
	copy(out[:], full[:TagSize])
	return out
}

// DeriveSalt hashes arbitrary randomness with the salt domain prefix to
// produce a fresh salt value, rotated periodically by the runtime.
func DeriveSalt(randomness []byte) [SaltSize]byte {
	full := Sha256([]byte(SaltHashingPrefix), randomness)
	var out [SaltSize]byte
	copy(out[:], full[:SaltSize])
	return out
}

// BidirectionalDistance returns the minimum of the two wrapping distances
// between a and b, so that it is always at most MaxUint64/2.
func BidirectionalDistance(a, b uint64) uint64 {
	d1 := a - b
	d2 := b - a
	if d1 < d2 {
		return d1
	}
	return d2
}

// IsWithinSolutionRange reports whether target and tag, read as the low 8
// bytes of their respective byte strings, are within solutionRange of each
// other under bidirectional wrapping distance.
func IsWithinSolutionRange(target, tag uint64, solutionRange uint64) bool {
	return BidirectionalDistance(target, tag) <= solutionRange
}

// TargetFromOutput reads a little-endian u64 target out of a VRF output,
// as consumed by solution-range checks.
func TargetFromOutput(output [VRFOutputLength]byte) uint64 {
	return binary.LittleEndian.Uint64(output[:8])
}

// TagAsUint64 reads a tag as a little-endian u64 for distance comparisons.
func TagAsUint64(tag [TagSize]byte) uint64 {
	return binary.LittleEndian.Uint64(tag[:])
}

// AddedWeight computes a block's contribution to cumulative chain weight:
// u64::MAX - bidirectional_distance(target, tag).
func AddedWeight(target, tag uint64) uint64 {
	return ^uint64(0) - BidirectionalDistance(target, tag)
}

var (
	// ErrInvalidPublicKey is returned when a public key does not parse as a
	// valid secp256k1 x-only point.
	ErrInvalidPublicKey = errors.New("kcrypto: invalid public key")
	// ErrInvalidSignature is returned when signature bytes do not parse.
	ErrInvalidSignature = errors.New("kcrypto: invalid signature encoding")
)

// KeyPair is a farmer's Schnorr identity.
type KeyPair struct {
	priv *secp256k1.PrivateKey
	pub  PublicKey
}

// GenerateKeyPair derives a new random farmer identity.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return keyPairFromPrivate(priv), nil
}

// KeyPairFromSeed deterministically derives a key pair from a 32-byte seed,
// useful for tests and for recovering a farmer identity from a saved file.
func KeyPairFromSeed(seed [32]byte) *KeyPair {
	priv := secp256k1.PrivKeyFromBytes(seed[:])
	return keyPairFromPrivate(priv)
}

func keyPairFromPrivate(priv *secp256k1.PrivateKey) *KeyPair {
	pubKey := priv.PubKey()
	var pub PublicKey
	copy(pub[:], schnorr.SerializePubKey(pubKey))
	return &KeyPair{priv: priv, pub: pub}
}

// PublicKey returns the farmer's public key.
func (kp *KeyPair) PublicKey() PublicKey {
	return kp.pub
}

// Sign produces a deterministic Schnorr signature over hash (a reward hash
// or a pre-header seal hash).
func (kp *KeyPair) Sign(hash [32]byte) (RewardSignature, error) {
	sig, err := schnorr.Sign(kp.priv, hash[:])
	if err != nil {
		return RewardSignature{}, err
	}
	var out RewardSignature
	copy(out[:], sig.Serialize())
	return out, nil
}

// deriveVRF builds a VRF-shaped (output, proof) pair: the proof is a
// deterministic Schnorr signature over the domain-separated input, and the
// output is a hash of that proof. Because Schnorr signing here is
// deterministic, the same (key, input) always yields the same output,
// giving it the pseudorandom-function property the spec calls "VRF".
func (kp *KeyPair) deriveVRF(context string, input []byte) (VRFOutput, error) {
	msg := Sha256([]byte(context), input)
	sig, err := schnorr.Sign(kp.priv, msg[:])
	if err != nil {
		return VRFOutput{}, err
	}
	var out VRFOutput
	copy(out.Proof[:], sig.Serialize())
	output := Sha256(out.Proof[:])
	out.Output = output
	return out, nil
}

// DeriveLocalChallenge computes the farmer's local challenge: a VRF of the
// global challenge under the farmer's public key, domain-separated by
// SolutionSigningContext.
func (kp *KeyPair) DeriveLocalChallenge(globalChallenge [TagSize]byte) (VRFOutput, error) {
	return kp.deriveVRF(SolutionSigningContext, globalChallenge[:])
}

// DeriveTagSignature computes a VRF of tag under the farmer's public key.
func (kp *KeyPair) DeriveTagSignature(tag [TagSize]byte) (VRFOutput, error) {
	return kp.deriveVRF(SolutionSigningContext, tag[:])
}

// ParsePublicKey parses a 32-byte x-only secp256k1 public key.
func ParsePublicKey(raw PublicKey) (*secp256k1.PublicKey, error) {
	pub, err := schnorr.ParsePubKey(raw[:])
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return pub, nil
}

// VerifySchnorr verifies sig over hash under public key pk.
func VerifySchnorr(pk PublicKey, hash [32]byte, sig RewardSignature) bool {
	pub, err := ParsePublicKey(pk)
	if err != nil {
		return false
	}
	parsed, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	return parsed.Verify(hash[:], pub)
}

// verifyVRF re-derives the expected proof hash check: it verifies that
// proof is a valid Schnorr signature over the domain-separated input under
// pk, and that output equals sha256(proof).
func verifyVRF(pk PublicKey, context string, input []byte, v VRFOutput) bool {
	pub, err := ParsePublicKey(pk)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(v.Proof[:])
	if err != nil {
		return false
	}
	msg := Sha256([]byte(context), input)
	if !sig.Verify(msg[:], pub) {
		return false
	}
	return Sha256(v.Proof[:]) == v.Output
}

// IsLocalChallengeValid verifies that localChallenge is a valid VRF of
// globalChallenge under publicKey.
func IsLocalChallengeValid(globalChallenge [TagSize]byte, localChallenge VRFOutput, publicKey PublicKey) bool {
	return verifyVRF(publicKey, SolutionSigningContext, globalChallenge[:], localChallenge)
}

// IsTagSignatureValid verifies that tagSignature is a valid VRF of tag
// under publicKey.
func IsTagSignatureValid(tag [TagSize]byte, tagSignature VRFOutput, publicKey PublicKey) bool {
	return verifyVRF(publicKey, SolutionSigningContext, tag[:], tagSignature)
}
