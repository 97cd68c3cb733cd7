// Package piece implements the archival-history data model: pieces,
// segments, and the hash-linked root blocks that describe them, plus the
// reversible per-farmer piece encoding and the Merkle check that ties a
// piece back to a root block's records root.
package piece

import (
	"encoding/binary"
	"errors"

	"github.com/kumandra/kumandra-node/internal/kcrypto"
)

const (
	// MerkleNumLeaves is the number of pieces (and Merkle leaves) per segment.
	MerkleNumLeaves = 256
	// WitnessSize is 32 * log2(MerkleNumLeaves).
	WitnessSize = 256
	// RecordSize is the size in bytes of a piece's data payload.
	RecordSize = 3840
	// PieceSize is the total on-wire size of a piece: record plus witness.
	PieceSize = RecordSize + WitnessSize
	// RecordedHistorySegmentSize is the amount of raw archival history
	// (pre erasure-coding) contained in one segment.
	RecordedHistorySegmentSize = RecordSize * MerkleNumLeaves / 2
)

// merkleDepth is log2(MerkleNumLeaves); WitnessSize == 32*merkleDepth.
const merkleDepth = 8

var (
	// ErrInvalidPieceSize is returned when raw bytes don't match PieceSize.
	ErrInvalidPieceSize = errors.New("piece: invalid size, expected PieceSize bytes")
	// ErrInvalidRecordSize is returned when raw bytes don't match RecordSize.
	ErrInvalidRecordSize = errors.New("piece: invalid size, expected RecordSize bytes")
)

// Piece is a fixed PieceSize-byte archival unit: RecordSize bytes of
// (encoded) data followed by WitnessSize bytes of Merkle proof.
type Piece [PieceSize]byte

// NewPiece validates and wraps raw bytes as a Piece.
func NewPiece(raw []byte) (Piece, error) {
	var p Piece
	if len(raw) != PieceSize {
		return p, ErrInvalidPieceSize
	}
	copy(p[:], raw)
	return p, nil
}

// Record returns the data portion of the piece.
func (p Piece) Record() []byte {
	return p[:RecordSize]
}

// Witness returns the Merkle witness portion of the piece.
func (p Piece) Witness() Witness {
	var w Witness
	copy(w[:], p[RecordSize:])
	return w
}

// Witness is a Merkle authentication path: merkleDepth sibling hashes from
// leaf to root, 32 bytes each.
type Witness [WitnessSize]byte

// Sibling returns the level-th sibling hash (0 = closest to the leaf).
func (w Witness) Sibling(level int) [32]byte {
	var h [32]byte
	copy(h[:], w[level*32:level*32+32])
	return h
}

// FlatPieces is the concatenated byte buffer of a whole segment's worth of
// pieces (MerkleNumLeaves of them), as produced by the archiver and
// streamed to subscribers before being split for plotting.
type FlatPieces []byte

// NewFlatPieces validates that raw holds an exact multiple of PieceSize.
func NewFlatPieces(raw []byte) (FlatPieces, error) {
	if len(raw)%PieceSize != 0 {
		return nil, ErrInvalidPieceSize
	}
	return FlatPieces(raw), nil
}

// Count returns the number of whole pieces contained.
func (f FlatPieces) Count() int {
	return len(f) / PieceSize
}

// PieceAt returns the i-th piece.
func (f FlatPieces) PieceAt(i int) (Piece, error) {
	if i < 0 || i >= f.Count() {
		return Piece{}, errors.New("piece: index out of range")
	}
	var p Piece
	copy(p[:], f[i*PieceSize:(i+1)*PieceSize])
	return p, nil
}

// EncodePiece applies the reversible per-farmer transformation to a record:
// a block-wise XOR keystream derived from the farmer's public key and the
// block's position, so each RecordSize/32 block can be decoded
// independently of the others. Deterministic and invertible by construction
// (XOR is its own inverse given the same keystream).
func EncodePiece(record [RecordSize]byte, publicKey kcrypto.PublicKey) [RecordSize]byte {
	return xorWithKeystream(record, publicKey)
}

// DecodePiece reverses EncodePiece.
func DecodePiece(encoded [RecordSize]byte, publicKey kcrypto.PublicKey) [RecordSize]byte {
	return xorWithKeystream(encoded, publicKey)
}

func xorWithKeystream(record [RecordSize]byte, publicKey kcrypto.PublicKey) [RecordSize]byte {
	var out [RecordSize]byte
	const blockSize = 32
	numBlocks := (RecordSize + blockSize - 1) / blockSize
	for i := 0; i < numBlocks; i++ {
		var idx [8]byte
		binary.LittleEndian.PutUint64(idx[:], uint64(i))
		keystream := kcrypto.Sha256(publicKey[:], idx[:])
		start := i * blockSize
		end := start + blockSize
		if end > RecordSize {
			end = RecordSize
		}
		for j := start; j < end; j++ {
			out[j] = record[j] ^ keystream[j-start]
		}
	}
	return out
}

// CheckPiece recovers the record from an encoded piece, recomputes its leaf
// hash, walks the Merkle witness using position to decide left/right
// ordering at each level, and asserts the resulting root equals
// recordsRoot.
func CheckPiece(p Piece, publicKey kcrypto.PublicKey, recordsRoot [32]byte, position uint32) bool {
	var encodedRecord [RecordSize]byte
	copy(encodedRecord[:], p.Record())
	record := DecodePiece(encodedRecord, publicKey)

	leaf := kcrypto.Sha256(record[:])
	witness := p.Witness()

	node := leaf
	pos := position
	for level := 0; level < merkleDepth; level++ {
		sibling := witness.Sibling(level)
		if pos&1 == 0 {
			node = kcrypto.Sha256(node[:], sibling[:])
		} else {
			node = kcrypto.Sha256(sibling[:], node[:])
		}
		pos >>= 1
	}
	return node == recordsRoot
}
