// Package rpc implements the farmer-facing JSON-RPC-over-WebSocket surface:
// farmer metadata, slot-info and reward-signing subscriptions, solution and
// reward-signature submission, and archived-segment delivery with
// per-subscriber acknowledgement backpressure.
package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/kumandra/kumandra-node/internal/archiver"
	"github.com/kumandra/kumandra-node/internal/codec"
	"github.com/kumandra/kumandra-node/internal/consensus"
	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/slotworker"
)

// Method names, verbatim as farmers dial them.
const (
	MethodGetFarmerMetadata           = "kumandra_getFarmerMetadata"
	MethodSubmitSolutionResponse      = "kumandra_submitSolutionResponse"
	MethodSubscribeSlotInfo           = "kumandra_subscribeSlotInfo"
	MethodUnsubscribeSlotInfo         = "kumandra_unsubscribeSlotInfo"
	MethodSubscribeRewardSigning      = "kumandra_subscribeRewardSigning"
	MethodUnsubscribeRewardSigning    = "kumandra_unsubscribeRewardSigning"
	MethodSubmitRewardSignature       = "kumandra_submitRewardSignature"
	MethodSubscribeArchivedSegment    = "kumandra_subscribeArchivedSegment"
	MethodUnsubscribeArchivedSegment  = "kumandra_unsubscribeArchivedSegment"
	MethodAcknowledgeArchivedSegment  = "kumandra_acknowledgeArchivedSegment"
)

// Request is one JSON-RPC call, request or notification-reply, from a farmer.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request carrying the same ID.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result interface{}     `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is a JSON-RPC error payload.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SubscriptionEvent is a server-pushed value for an active subscription.
type SubscriptionEvent struct {
	Subscription string      `json:"subscription"`
	Method       string      `json:"method"`
	Result       interface{} `json:"result"`
}

// FarmerMetadata answers kumandra_getFarmerMetadata.
type FarmerMetadata struct {
	RecordSize                 uint32 `json:"record_size"`
	RecordedHistorySegmentSize uint32 `json:"recorded_history_segment_size"`
	MaxPlotSize                uint64 `json:"max_plot_size"`
	TotalPieces                uint64 `json:"total_pieces"`
}

// SlotInfo is the wire shape of slotworker.NewSlotInfo pushed to subscribers.
type SlotInfo struct {
	SlotNumber          uint64
	GlobalChallenge     [kcrypto.TagSize]byte
	Salt                [kcrypto.SaltSize]byte
	NextSalt            *[kcrypto.SaltSize]byte
	SolutionRange       uint64
	VotingSolutionRange uint64
}

type slotInfoJSON struct {
	SlotNumber          uint64  `json:"slot_number"`
	GlobalChallenge     string  `json:"global_challenge"`
	Salt                string  `json:"salt"`
	NextSalt            *string `json:"next_salt,omitempty"`
	SolutionRange       uint64  `json:"solution_range"`
	VotingSolutionRange uint64  `json:"voting_solution_range"`
}

// MarshalJSON hex-encodes the challenge and salt fields instead of relying
// on JSON's default numeric-array encoding of a byte array.
func (si SlotInfo) MarshalJSON() ([]byte, error) {
	wire := slotInfoJSON{
		SlotNumber:          si.SlotNumber,
		GlobalChallenge:     hex.EncodeToString(si.GlobalChallenge[:]),
		Salt:                hex.EncodeToString(si.Salt[:]),
		SolutionRange:       si.SolutionRange,
		VotingSolutionRange: si.VotingSolutionRange,
	}
	if si.NextSalt != nil {
		s := hex.EncodeToString(si.NextSalt[:])
		wire.NextSalt = &s
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a SlotInfo from its hex-string wire form.
func (si *SlotInfo) UnmarshalJSON(data []byte) error {
	var wire slotInfoJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := decodeHexFixed(wire.GlobalChallenge, si.GlobalChallenge[:]); err != nil {
		return fmt.Errorf("rpc: slot info global challenge: %w", err)
	}
	if err := decodeHexFixed(wire.Salt, si.Salt[:]); err != nil {
		return fmt.Errorf("rpc: slot info salt: %w", err)
	}
	si.SlotNumber = wire.SlotNumber
	si.SolutionRange = wire.SolutionRange
	si.VotingSolutionRange = wire.VotingSolutionRange
	si.NextSalt = nil
	if wire.NextSalt != nil {
		var next [kcrypto.SaltSize]byte
		if err := decodeHexFixed(*wire.NextSalt, next[:]); err != nil {
			return fmt.Errorf("rpc: slot info next salt: %w", err)
		}
		si.NextSalt = &next
	}
	return nil
}

// decodeHexFixed hex-decodes s into dst, requiring an exact length match.
func decodeHexFixed(s string, dst []byte) error {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("hex value has %d bytes, want %d", len(decoded), len(dst))
	}
	copy(dst, decoded)
	return nil
}

// SolutionResponse is the body of kumandra_submitSolutionResponse.
type SolutionResponse struct {
	SlotNumber    uint64               `json:"slot_number"`
	MaybeSolution *consensus.Solution  `json:"solution,omitempty"`
}

// RewardSigningInfo is pushed to kumandra_subscribeRewardSigning subscribers.
type RewardSigningInfo struct {
	Hash      [32]byte
	PublicKey kcrypto.PublicKey
}

type rewardSigningInfoJSON struct {
	Hash      string            `json:"hash"`
	PublicKey kcrypto.PublicKey `json:"public_key"`
}

// MarshalJSON hex-encodes the hash field.
func (ri RewardSigningInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(rewardSigningInfoJSON{
		Hash:      hex.EncodeToString(ri.Hash[:]),
		PublicKey: ri.PublicKey,
	})
}

// UnmarshalJSON decodes a RewardSigningInfo from its hex-string wire form.
func (ri *RewardSigningInfo) UnmarshalJSON(data []byte) error {
	var wire rewardSigningInfoJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := decodeHexFixed(wire.Hash, ri.Hash[:]); err != nil {
		return fmt.Errorf("rpc: reward signing hash: %w", err)
	}
	ri.PublicKey = wire.PublicKey
	return nil
}

// RewardSignatureResponse is the body of kumandra_submitRewardSignature.
type RewardSignatureResponse struct {
	Hash      [32]byte
	Signature kcrypto.RewardSignature
}

type rewardSignatureResponseJSON struct {
	Hash      string                  `json:"hash"`
	Signature kcrypto.RewardSignature `json:"signature"`
}

// MarshalJSON hex-encodes the hash field.
func (rr RewardSignatureResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(rewardSignatureResponseJSON{
		Hash:      hex.EncodeToString(rr.Hash[:]),
		Signature: rr.Signature,
	})
}

// UnmarshalJSON decodes a RewardSignatureResponse from its hex-string wire form.
func (rr *RewardSignatureResponse) UnmarshalJSON(data []byte) error {
	var wire rewardSignatureResponseJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := decodeHexFixed(wire.Hash, rr.Hash[:]); err != nil {
		return fmt.Errorf("rpc: reward signature hash: %w", err)
	}
	rr.Signature = wire.Signature
	return nil
}

// ArchivedSegmentPayload is pushed to kumandra_subscribeArchivedSegment
// subscribers; it omits the Ack channel, which is node-internal.
type ArchivedSegmentPayload struct {
	SegmentIndex uint64
	Pieces       []byte
	RootBlock    []byte
}

type archivedSegmentPayloadJSON struct {
	SegmentIndex uint64 `json:"segment_index"`
	Pieces       string `json:"pieces"`
	RootBlock    string `json:"root_block"`
}

// MarshalJSON hex-encodes the piece and root-block buffers instead of
// relying on JSON's default base64 encoding of a []byte, so every binary
// field on the wire uses the same hex convention.
func (a ArchivedSegmentPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(archivedSegmentPayloadJSON{
		SegmentIndex: a.SegmentIndex,
		Pieces:       hex.EncodeToString(a.Pieces),
		RootBlock:    hex.EncodeToString(a.RootBlock),
	})
}

// UnmarshalJSON decodes an ArchivedSegmentPayload from its hex-string wire form.
func (a *ArchivedSegmentPayload) UnmarshalJSON(data []byte) error {
	var wire archivedSegmentPayloadJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	pieces, err := hex.DecodeString(wire.Pieces)
	if err != nil {
		return fmt.Errorf("rpc: archived segment pieces: %w", err)
	}
	rootBlock, err := hex.DecodeString(wire.RootBlock)
	if err != nil {
		return fmt.Errorf("rpc: archived segment root block: %w", err)
	}
	a.SegmentIndex = wire.SegmentIndex
	a.Pieces = pieces
	a.RootBlock = rootBlock
	return nil
}

func slotInfoFromDomain(i slotworker.NewSlotInfo) SlotInfo {
	return SlotInfo{
		SlotNumber:          i.SlotNumber,
		GlobalChallenge:     i.GlobalChallenge,
		Salt:                i.Salt,
		NextSalt:            i.NextSalt,
		SolutionRange:       i.SolutionRange,
		VotingSolutionRange: i.VotingSolutionRange,
	}
}

func rewardSigningFromDomain(i slotworker.RewardSigningInfo) RewardSigningInfo {
	return RewardSigningInfo{Hash: i.Hash, PublicKey: i.PublicKey}
}

// archivedSegmentPayload encodes a segment's root block with the codec
// package so the wire format matches every other consensus structure; the
// type's own MarshalJSON hex-encodes both buffers for the wire.
func archivedSegmentPayload(seg archiver.ArchivedSegment) (ArchivedSegmentPayload, error) {
	raw, err := codec.Encode(seg.RootBlock)
	if err != nil {
		return ArchivedSegmentPayload{}, err
	}
	return ArchivedSegmentPayload{
		SegmentIndex: seg.RootBlock.SegmentIndex(),
		Pieces:       []byte(seg.Pieces),
		RootBlock:    raw,
	}, nil
}
