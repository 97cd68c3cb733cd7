package piece

import (
	"bytes"
	"testing"

	"github.com/kumandra/kumandra-node/internal/kcrypto"
)

func TestPieceEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := kcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	var record [RecordSize]byte
	for i := range record {
		record[i] = byte(i)
	}

	encoded := EncodePiece(record, kp.PublicKey())
	if encoded == record {
		t.Fatal("encoded record should differ from plaintext")
	}

	decoded := DecodePiece(encoded, kp.PublicKey())
	if decoded != record {
		t.Fatal("decode(encode(record)) must equal record")
	}
}

func TestCheckPieceRoundTrip(t *testing.T) {
	kp, err := kcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	records := make([][]byte, MerkleNumLeaves)
	for i := range records {
		r := make([]byte, RecordSize)
		r[0] = byte(i)
		records[i] = r
	}

	root, witnesses, err := BuildMerkleTree(records)
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}

	position := 17
	var plain [RecordSize]byte
	copy(plain[:], records[position])
	encoded := EncodePiece(plain, kp.PublicKey())

	var raw [PieceSize]byte
	copy(raw[:RecordSize], encoded[:])
	copy(raw[RecordSize:], witnesses[position][:])
	p, err := NewPiece(raw[:])
	if err != nil {
		t.Fatalf("NewPiece: %v", err)
	}

	if !CheckPiece(p, kp.PublicKey(), root, uint32(position)) {
		t.Fatal("CheckPiece must succeed for a correctly constructed piece/witness/root triple")
	}

	// Flipping the root must break verification.
	badRoot := root
	badRoot[0] ^= 0xFF
	if CheckPiece(p, kp.PublicKey(), badRoot, uint32(position)) {
		t.Fatal("CheckPiece must fail against a mismatched records root")
	}

	// A wrong position must also fail.
	if CheckPiece(p, kp.PublicKey(), root, uint32(position+1)) {
		t.Fatal("CheckPiece must fail against a mismatched position")
	}
}

func TestBuildMerkleTreeRejectsWrongLeafCount(t *testing.T) {
	_, _, err := BuildMerkleTree(make([][]byte, MerkleNumLeaves-1))
	if err == nil {
		t.Fatal("expected error for wrong leaf count")
	}
}

func TestFlatPiecesCountAndSlice(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, PieceSize*3)
	fp, err := NewFlatPieces(raw)
	if err != nil {
		t.Fatalf("NewFlatPieces: %v", err)
	}
	if fp.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", fp.Count())
	}
	p, err := fp.PieceAt(1)
	if err != nil {
		t.Fatalf("PieceAt: %v", err)
	}
	if p[0] != 0xAB {
		t.Fatal("PieceAt returned unexpected content")
	}
	if _, err := fp.PieceAt(3); err == nil {
		t.Fatal("expected out-of-range error")
	}
}
