package kcrypto

import (
	"bytes"
	"testing"
)

func TestCreateTagAndIsTagValid(t *testing.T) {
	piece := bytes.Repeat([]byte{0x42}, 3840)
	var salt [SaltSize]byte
	copy(salt[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	tag := CreateTag(piece, salt)
	if !IsTagValid(piece, salt, tag) {
		t.Fatal("tag should be valid for the piece/salt it was derived from")
	}

	tag[0] ^= 0xFF
	if IsTagValid(piece, salt, tag) {
		t.Fatal("flipped tag byte must invalidate the tag")
	}
}

func TestDeriveGlobalChallengeDeterministic(t *testing.T) {
	var randomness [32]byte
	c1 := DeriveGlobalChallenge(randomness, 42)
	c2 := DeriveGlobalChallenge(randomness, 42)
	if c1 != c2 {
		t.Fatal("global challenge derivation must be deterministic")
	}
	c3 := DeriveGlobalChallenge(randomness, 43)
	if c1 == c3 {
		t.Fatal("different slots must yield different challenges with overwhelming probability")
	}
}

func TestBidirectionalDistanceBoundedByHalfRange(t *testing.T) {
	cases := [][2]uint64{
		{0, 0},
		{0, ^uint64(0)},
		{1 << 63, 0},
		{100, 5000},
	}
	for _, c := range cases {
		d := BidirectionalDistance(c[0], c[1])
		if d > ^uint64(0)/2 {
			t.Errorf("BidirectionalDistance(%d,%d) = %d exceeds MaxUint64/2", c[0], c[1], d)
		}
	}
}

func TestIsWithinSolutionRange(t *testing.T) {
	if !IsWithinSolutionRange(100, 105, 10) {
		t.Fatal("distance 5 should be within range 10")
	}
	if IsWithinSolutionRange(100, 200, 10) {
		t.Fatal("distance 100 should not be within range 10")
	}
}

func TestSchnorrSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	hash := Sha256([]byte("pre-header"))
	sig, err := kp.Sign(hash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !VerifySchnorr(kp.PublicKey(), hash, sig) {
		t.Fatal("signature must verify under its own public key")
	}

	other, _ := GenerateKeyPair()
	if VerifySchnorr(other.PublicKey(), hash, sig) {
		t.Fatal("signature must not verify under a different public key")
	}
}

func TestLocalChallengeAndTagSignatureVRF(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	global := DeriveGlobalChallenge([32]byte{}, 7)

	lc, err := kp.DeriveLocalChallenge(global)
	if err != nil {
		t.Fatalf("DeriveLocalChallenge: %v", err)
	}
	if !IsLocalChallengeValid(global, lc, kp.PublicKey()) {
		t.Fatal("local challenge must be valid under the deriving key")
	}

	lc2, err := kp.DeriveLocalChallenge(global)
	if err != nil {
		t.Fatalf("DeriveLocalChallenge: %v", err)
	}
	if lc != lc2 {
		t.Fatal("VRF derivation must be deterministic for the same key and input")
	}

	var tag [TagSize]byte
	copy(tag[:], []byte{9, 9, 9, 9, 9, 9, 9, 9})
	ts, err := kp.DeriveTagSignature(tag)
	if err != nil {
		t.Fatalf("DeriveTagSignature: %v", err)
	}
	if !IsTagSignatureValid(tag, ts, kp.PublicKey()) {
		t.Fatal("tag signature must be valid under the deriving key")
	}
}

func TestU256RoundTrip(t *testing.T) {
	var raw [32]byte
	for i := range raw {
		raw[i] = byte(i * 7)
	}
	be := U256FromBigEndianBytes(raw)
	if be.ToBigEndianBytes() != raw {
		t.Fatal("big-endian U256 round trip failed")
	}
	le := U256FromLittleEndianBytes(raw)
	if le.ToLittleEndianBytes() != raw {
		t.Fatal("little-endian U256 round trip failed")
	}
}

func TestXorDistance(t *testing.T) {
	h := PieceIndexHash(5)
	addr := Sha256([]byte("farmer-address"))
	d1 := XorDistance(h, addr)
	d2 := XorDistance(h, addr)
	if d1 != d2 {
		t.Fatal("xor distance must be deterministic")
	}
	if XorDistance(h, h) != (U256{}) {
		t.Fatal("xor distance of identical values must be zero")
	}
}
