package kcrypto

import "encoding/binary"

// U256 is a 256-bit unsigned integer stored as four big-endian-ordered
// 64-bit limbs (limbs[0] is the most significant word). It backs
// xor_distance and other archival-history distance computations that need
// more range than a u64.
type U256 [4]uint64

// U256FromBigEndianBytes parses a 32-byte big-endian encoding.
func U256FromBigEndianBytes(b [32]byte) U256 {
	var u U256
	for i := 0; i < 4; i++ {
		u[i] = binary.BigEndian.Uint64(b[i*8 : i*8+8])
	}
	return u
}

// ToBigEndianBytes renders u as a 32-byte big-endian encoding.
func (u U256) ToBigEndianBytes() [32]byte {
	var b [32]byte
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint64(b[i*8:i*8+8], u[i])
	}
	return b
}

// U256FromLittleEndianBytes parses a 32-byte little-endian encoding.
func U256FromLittleEndianBytes(b [32]byte) U256 {
	var rev [32]byte
	for i := range b {
		rev[i] = b[31-i]
	}
	return U256FromBigEndianBytes(rev)
}

// ToLittleEndianBytes renders u as a 32-byte little-endian encoding.
func (u U256) ToLittleEndianBytes() [32]byte {
	be := u.ToBigEndianBytes()
	var out [32]byte
	for i := range be {
		out[i] = be[31-i]
	}
	return out
}

// Xor returns the bitwise XOR of u and v.
func (u U256) Xor(v U256) U256 {
	var out U256
	for i := 0; i < 4; i++ {
		out[i] = u[i] ^ v[i]
	}
	return out
}

// XorDistance computes the XOR distance between a piece's index hash and a
// farmer address: the bitwise XOR of their
// big-endian 256-bit interpretations.
func XorDistance(pieceIndexHash [32]byte, address [32]byte) U256 {
	return U256FromBigEndianBytes(pieceIndexHash).Xor(U256FromBigEndianBytes(address))
}

// PieceIndexHash hashes a piece index into its 32-byte distance-space
// identity: sha256(LE64(index)).
func PieceIndexHash(index uint64) [32]byte {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], index)
	return Sha256(le[:])
}
