package kcrypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Wire payloads carry every fixed-size crypto value as a hex string rather
// than Go's default JSON encoding of a byte array (a numeric array), so a
// farmer's RPC client can read a public key or signature the same way it
// reads everything else on the wire: a plain hex string.

func marshalHex(b []byte) ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

func unmarshalHex(data []byte, dst []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("kcrypto: decode hex: %w", err)
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("kcrypto: hex value has %d bytes, want %d", len(decoded), len(dst))
	}
	copy(dst, decoded)
	return nil
}

// MarshalJSON encodes the public key as a hex string.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return marshalHex(pk[:])
}

// UnmarshalJSON decodes a hex-string public key.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, pk[:])
}

// MarshalJSON encodes the signature as a hex string.
func (s RewardSignature) MarshalJSON() ([]byte, error) {
	return marshalHex(s[:])
}

// UnmarshalJSON decodes a hex-string signature.
func (s *RewardSignature) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, s[:])
}

type vrfOutputJSON struct {
	Output string `json:"output"`
	Proof  string `json:"proof"`
}

// MarshalJSON encodes both the VRF output and its proof as hex strings.
func (v VRFOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(vrfOutputJSON{
		Output: hex.EncodeToString(v.Output[:]),
		Proof:  hex.EncodeToString(v.Proof[:]),
	})
}

// UnmarshalJSON decodes a VRF output from its hex-string form.
func (v *VRFOutput) UnmarshalJSON(data []byte) error {
	var wire vrfOutputJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := unmarshalHex([]byte(`"`+wire.Output+`"`), v.Output[:]); err != nil {
		return fmt.Errorf("kcrypto: vrf output: %w", err)
	}
	if err := unmarshalHex([]byte(`"`+wire.Proof+`"`), v.Proof[:]); err != nil {
		return fmt.Errorf("kcrypto: vrf proof: %w", err)
	}
	return nil
}
