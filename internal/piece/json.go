package piece

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a piece as a hex string rather than Go's default
// numeric-array encoding of a [PieceSize]byte, matching the hex-string
// convention every other fixed-size wire value uses.
func (p Piece) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(p[:]))
}

// UnmarshalJSON decodes a hex-string piece.
func (p *Piece) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("piece: decode hex: %w", err)
	}
	if len(decoded) != PieceSize {
		return fmt.Errorf("%w: got %d hex-decoded bytes", ErrInvalidPieceSize, len(decoded))
	}
	copy(p[:], decoded)
	return nil
}
