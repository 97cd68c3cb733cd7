package consensus

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/piece"
)

// solutionJSON mirrors Solution for the wire, hex-encoding the two fields
// that are plain fixed-size arrays rather than named types with their own
// MarshalJSON (kcrypto.PublicKey, piece.Piece and kcrypto.VRFOutput already
// marshal themselves as hex).
type solutionJSON struct {
	PublicKey      kcrypto.PublicKey `json:"public_key"`
	RewardAddress  string            `json:"reward_address"`
	PieceIndex     uint64            `json:"piece_index"`
	Encoding       piece.Piece       `json:"encoding"`
	TagSignature   kcrypto.VRFOutput `json:"tag_signature"`
	LocalChallenge kcrypto.VRFOutput `json:"local_challenge"`
	Tag            string            `json:"tag"`
}

// MarshalJSON encodes a Solution for the farmer RPC wire, hex-encoding
// every fixed-size field instead of relying on JSON's default numeric-array
// encoding.
func (s Solution) MarshalJSON() ([]byte, error) {
	return json.Marshal(solutionJSON{
		PublicKey:      s.PublicKey,
		RewardAddress:  hex.EncodeToString(s.RewardAddress[:]),
		PieceIndex:     s.PieceIndex,
		Encoding:       s.Encoding,
		TagSignature:   s.TagSignature,
		LocalChallenge: s.LocalChallenge,
		Tag:            hex.EncodeToString(s.Tag[:]),
	})
}

// UnmarshalJSON decodes a Solution from its wire form.
func (s *Solution) UnmarshalJSON(data []byte) error {
	var wire solutionJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	rewardAddress, err := hex.DecodeString(wire.RewardAddress)
	if err != nil {
		return fmt.Errorf("consensus: solution reward address: %w", err)
	}
	if len(rewardAddress) != len(s.RewardAddress) {
		return fmt.Errorf("consensus: solution reward address has %d bytes, want %d", len(rewardAddress), len(s.RewardAddress))
	}
	tag, err := hex.DecodeString(wire.Tag)
	if err != nil {
		return fmt.Errorf("consensus: solution tag: %w", err)
	}
	if len(tag) != len(s.Tag) {
		return fmt.Errorf("consensus: solution tag has %d bytes, want %d", len(tag), len(s.Tag))
	}

	s.PublicKey = wire.PublicKey
	copy(s.RewardAddress[:], rewardAddress)
	s.PieceIndex = wire.PieceIndex
	s.Encoding = wire.Encoding
	s.TagSignature = wire.TagSignature
	s.LocalChallenge = wire.LocalChallenge
	copy(s.Tag[:], tag)
	return nil
}
