// Package farming implements the farmer's solving loop (spec.md §4.8): per
// slot it audits the local plot against the published challenge, submits a
// solution (or none), signs rewards the node asks it to sign, and plots
// newly archived segments, acknowledging them to release the node's
// backpressure.
package farming

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kumandra/kumandra-node/internal/codec"
	"github.com/kumandra/kumandra-node/internal/commitments"
	"github.com/kumandra/kumandra-node/internal/consensus"
	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/metrics"
	"github.com/kumandra/kumandra-node/internal/piece"
	"github.com/kumandra/kumandra-node/internal/rpc"
	"github.com/kumandra/kumandra-node/internal/rpcclient"
)

// TagsSearchLimit bounds how many commitment-table candidates a single
// slot's audit considers.
const TagsSearchLimit = 10

// Farmer runs one plot's solving loop against a node's farmer RPC.
type Farmer struct {
	client       *rpcclient.Client
	identity     *kcrypto.KeyPair
	rewardAddr   [32]byte
	plot         Plot
	recommitter  *Recommitter
	commitmentDir string
	logger       *zap.Logger

	currentSalt  atomic.Pointer[[8]byte]
	currentTable atomic.Pointer[commitments.Table]

	totalPieces uint64
}

// New builds a Farmer. commitmentDir holds one bbolt file per salt
// generation, named by the salt's hex encoding.
func New(client *rpcclient.Client, identity *kcrypto.KeyPair, rewardAddr [32]byte, plot Plot, disk *DiskSemaphore, commitmentDir string, logger *zap.Logger) *Farmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Farmer{
		client:        client,
		identity:      identity,
		rewardAddr:    rewardAddr,
		plot:          plot,
		recommitter:   NewRecommitter(disk, plot, logger),
		commitmentDir: commitmentDir,
		logger:        logger,
	}
}

// Run subscribes to the node's slot, reward-signing, and archived-segment
// feeds and services them until ctx is canceled or the connection drops.
func (f *Farmer) Run(ctx context.Context) error {
	md, err := f.client.GetFarmerMetadata()
	if err != nil {
		return fmt.Errorf("farming: get farmer metadata: %w", err)
	}
	f.totalPieces = md.TotalPieces

	slots, err := f.client.SubscribeSlotInfo()
	if err != nil {
		return fmt.Errorf("farming: subscribe slot info: %w", err)
	}
	rewards, err := f.client.SubscribeRewardSigning()
	if err != nil {
		return fmt.Errorf("farming: subscribe reward signing: %w", err)
	}
	segments, err := f.client.SubscribeArchivedSegment()
	if err != nil {
		return fmt.Errorf("farming: subscribe archived segment: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-slots:
			if !ok {
				return fmt.Errorf("farming: slot info subscription closed")
			}
			f.handleSlotInfo(ctx, raw)
		case raw, ok := <-rewards:
			if !ok {
				return fmt.Errorf("farming: reward signing subscription closed")
			}
			f.handleRewardSigning(raw)
		case raw, ok := <-segments:
			if !ok {
				return fmt.Errorf("farming: archived segment subscription closed")
			}
			f.handleArchivedSegment(raw)
		}
	}
}

func (f *Farmer) handleSlotInfo(ctx context.Context, raw json.RawMessage) {
	var info rpc.SlotInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		f.logger.Warn("malformed slot info", zap.Error(err))
		return
	}

	if f.totalPieces > 0 && (f.currentSalt.Load() == nil || *f.currentSalt.Load() != info.Salt) {
		go f.recommit(ctx, info.Salt)
	}

	start := time.Now()
	sol, err := f.audit(info)
	metrics.AuditDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		f.logger.Warn("audit failed", zap.Error(err))
		metrics.SolutionsSubmitted.WithLabelValues("error").Inc()
		return
	}

	if err := f.client.SubmitSolutionResponse(rpc.SolutionResponse{
		SlotNumber:    info.SlotNumber,
		MaybeSolution: sol,
	}); err != nil {
		f.logger.Warn("submit solution failed", zap.Error(err))
		return
	}
	if sol != nil {
		metrics.SolutionsSubmitted.WithLabelValues("submitted").Inc()
	} else {
		metrics.SolutionsSubmitted.WithLabelValues("none").Inc()
	}
}

// recommit rebuilds the commitment table for salt and, on success, swaps
// it in as the table the slot loop audits against.
func (f *Farmer) recommit(ctx context.Context, salt [8]byte) {
	dbPath := filepath.Join(f.commitmentDir, fmt.Sprintf("%x.db", salt))
	table, err := f.recommitter.Recommit(ctx, salt, dbPath, f.totalPieces)
	if err != nil {
		if err != ErrRecommitSuperseded {
			f.logger.Warn("recommit failed", zap.Error(err))
		}
		return
	}
	saltCopy := salt
	f.currentSalt.Store(&saltCopy)
	old := f.currentTable.Swap(table)
	if old != nil {
		old.Close()
	}
}

// audit runs one slot's voting/authoring search: among the nearest tags, it
// keeps those within voting_solution_range and submits the closest one. It
// does not check the stricter solution_range itself.
func (f *Farmer) audit(info rpc.SlotInfo) (*consensus.Solution, error) {
	table := f.currentTable.Load()
	if table == nil {
		return nil, nil
	}

	localChallenge, err := f.identity.DeriveLocalChallenge(info.GlobalChallenge)
	if err != nil {
		return nil, fmt.Errorf("derive local challenge: %w", err)
	}
	target := kcrypto.TargetFromOutput(localChallenge.Output)

	candidates, err := table.SearchNearest(target, TagsSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search commitment table: %w", err)
	}

	inVotingRange := candidates[:0]
	for _, c := range candidates {
		if kcrypto.IsWithinSolutionRange(target, kcrypto.TagAsUint64(c.Tag), info.VotingSolutionRange) {
			inVotingRange = append(inVotingRange, c)
		}
	}
	if len(inVotingRange) == 0 {
		return nil, nil
	}

	// The closest candidate is always the submitted solution: when the
	// search returned fewer than the limit, it's the only option; when it
	// returned a full window, the node itself decides at import time
	// whether it clears the stricter solution_range for authoring or only
	// the voting_solution_range for a vote, so there's nothing further to
	// pick between here.
	chosen := inVotingRange[0]

	p, err := f.plot.PieceAt(chosen.Offset)
	if err != nil {
		return nil, fmt.Errorf("read piece at offset %d: %w", chosen.Offset, err)
	}
	tagSignature, err := f.identity.DeriveTagSignature(chosen.Tag)
	if err != nil {
		return nil, fmt.Errorf("derive tag signature: %w", err)
	}

	return &consensus.Solution{
		PublicKey:      f.identity.PublicKey(),
		RewardAddress:  f.rewardAddr,
		PieceIndex:     chosen.Offset,
		Encoding:       p,
		TagSignature:   tagSignature,
		LocalChallenge: localChallenge,
		Tag:            chosen.Tag,
	}, nil
}

func (f *Farmer) handleRewardSigning(raw json.RawMessage) {
	var info rpc.RewardSigningInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		f.logger.Warn("malformed reward signing info", zap.Error(err))
		return
	}
	if info.PublicKey != f.identity.PublicKey() {
		return
	}
	sig, err := f.identity.Sign(info.Hash)
	if err != nil {
		f.logger.Warn("sign reward hash failed", zap.Error(err))
		return
	}
	if err := f.client.SubmitRewardSignature(rpc.RewardSignatureResponse{
		Hash:      info.Hash,
		Signature: sig,
	}); err != nil {
		f.logger.Warn("submit reward signature failed", zap.Error(err))
	}
}

func (f *Farmer) handleArchivedSegment(raw json.RawMessage) {
	var payload rpc.ArchivedSegmentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		f.logger.Warn("malformed archived segment", zap.Error(err))
		return
	}
	var rootBlock piece.RootBlock
	if err := codec.Decode(payload.RootBlock, &rootBlock); err != nil {
		f.logger.Warn("decode root block failed", zap.Error(err))
		return
	}

	flat, err := piece.NewFlatPieces(payload.Pieces)
	if err != nil {
		f.logger.Warn("invalid flat pieces in archived segment", zap.Error(err))
		return
	}
	encoded, err := f.encodeForPlotting(flat)
	if err != nil {
		f.logger.Warn("encode archived segment failed", zap.Error(err))
		return
	}
	if _, err := f.plot.Plot(payload.SegmentIndex, encoded); err != nil {
		f.logger.Warn("plot archived segment failed", zap.Error(err))
		return
	}
	metrics.PlottedPieces.Add(float64(flat.Count()))

	if err := f.client.AcknowledgeArchivedSegment(payload.SegmentIndex); err != nil {
		f.logger.Warn("acknowledge archived segment failed", zap.Error(err))
	}
}

// encodeForPlotting applies EncodePiece to every piece's record, keeping the
// Merkle witness untouched, so what lands in the plot is what CheckPiece
// expects to DecodePiece back out of a submitted solution.
func (f *Farmer) encodeForPlotting(flat piece.FlatPieces) (piece.FlatPieces, error) {
	out := make(piece.FlatPieces, len(flat))
	publicKey := f.identity.PublicKey()
	for i := 0; i < flat.Count(); i++ {
		p, err := flat.PieceAt(i)
		if err != nil {
			return nil, err
		}
		var record [piece.RecordSize]byte
		copy(record[:], p.Record())
		encoded := piece.EncodePiece(record, publicKey)

		start := i * piece.PieceSize
		copy(out[start:start+piece.RecordSize], encoded[:])
		copy(out[start+piece.RecordSize:start+piece.PieceSize], p.Witness()[:])
	}
	return out, nil
}
