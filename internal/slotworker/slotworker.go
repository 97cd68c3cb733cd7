// Package slotworker drives the per-slot consensus loop: on every
// wall-clock slot it publishes a challenge, waits for the first valid
// farmer solution within a deadline, and if one arrives, requests a reward
// signature and assembles, seals, and imports the resulting block.
package slotworker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kumandra/kumandra-node/internal/consensus"
	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/notification"
	"github.com/kumandra/kumandra-node/internal/runtime"
)

const (
	// SolutionTimeout bounds how long a slot waits for a farmer's solution.
	SolutionTimeout = 2 * time.Second
	// RewardSigningTimeout bounds how long a slot waits for the winning
	// farmer to sign the block's reward hash.
	RewardSigningTimeout = 500 * time.Millisecond
)

// NewSlotInfo is the per-slot challenge broadcast to every farmer.
type NewSlotInfo struct {
	SlotNumber          uint64
	GlobalChallenge     [kcrypto.TagSize]byte
	Salt                [kcrypto.SaltSize]byte
	NextSalt            *[kcrypto.SaltSize]byte
	SolutionRange       uint64
	VotingSolutionRange uint64
}

// NewSlotNotification is published once per slot tick. SolutionSender is a
// one-shot channel: only the first value sent to it is honored.
type NewSlotNotification struct {
	Info           NewSlotInfo
	SolutionSender chan<- consensus.Solution
}

// RewardSigningInfo asks the solution's author to sign a block's pre-hash.
type RewardSigningInfo struct {
	Hash      [32]byte
	PublicKey kcrypto.PublicKey
}

// RewardSigningNotification is published once a solution has won its slot.
type RewardSigningNotification struct {
	Info            RewardSigningInfo
	SignatureSender chan<- kcrypto.RewardSignature
}

// BestBlockSource reports the chain tip the worker builds its next block on top of.
type BestBlockSource interface {
	BestHash() [32]byte
	BestNumber() uint64
}

// Importer accepts an authored, sealed header into the stateful import
// pipeline, same as a network-received one.
type Importer interface {
	ImportBlock(h consensus.Header, preDigest consensus.PreDigest, origin consensus.BlockOrigin, headerHash [32]byte) (becomesBest bool, err error)
}

var (
	// ErrSolutionTimeout means no farmer answered within SolutionTimeout.
	ErrSolutionTimeout = errors.New("slotworker: no solution received before timeout")
	// ErrRewardSigningTimeout means the winning farmer never signed in time.
	ErrRewardSigningTimeout = errors.New("slotworker: no reward signature before timeout")
	// ErrSolutionInvalid means the received solution fails local validation.
	ErrSolutionInvalid = errors.New("slotworker: solution failed local validation")
	// ErrBlockListed means the solution's author is barred from authoring.
	ErrBlockListed = errors.New("slotworker: solution author is block-listed")
)

// Worker runs the single-threaded, cooperative slot loop described above.
// It is driven by Run and is not safe for concurrent use by more than one
// goroutine.
type Worker struct {
	rt       runtime.Runtime
	best     BestBlockSource
	importer Importer

	newSlot       notification.Sender[NewSlotNotification]
	rewardSigning notification.Sender[RewardSigningNotification]

	slotDuration time.Duration
	genesisTime  time.Time

	logger *zap.Logger
}

// New constructs a slot worker. genesisTime anchors slot 0; slot N begins
// at genesisTime + N*slotDuration.
func New(
	rt runtime.Runtime,
	best BestBlockSource,
	importer Importer,
	newSlot notification.Sender[NewSlotNotification],
	rewardSigning notification.Sender[RewardSigningNotification],
	slotDuration time.Duration,
	genesisTime time.Time,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		rt:            rt,
		best:          best,
		importer:      importer,
		newSlot:       newSlot,
		rewardSigning: rewardSigning,
		slotDuration:  slotDuration,
		genesisTime:   genesisTime,
		logger:        logger,
	}
}

// Run ticks one slot at a time until ctx is canceled. A failed or skipped
// slot is logged and never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.slotDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			slot := w.slotAt(t)
			if _, err := w.RunSlot(ctx, slot); err != nil {
				w.logger.Debug("slot skipped", zap.Uint64("slot", slot), zap.Error(err))
			}
		}
	}
}

func (w *Worker) slotAt(t time.Time) uint64 {
	if t.Before(w.genesisTime) {
		return 0
	}
	return uint64(t.Sub(w.genesisTime) / w.slotDuration)
}

// RunSlot executes exactly one slot: publish the challenge, wait for a
// solution, validate it, request and wait for a reward signature, then
// seal and import the resulting block. It returns whether the authored
// block became the new best, or an error/timeout explaining the skip.
func (w *Worker) RunSlot(ctx context.Context, slot uint64) (becomesBest bool, err error) {
	parentHash := w.best.BestHash()
	parentNumber := w.best.BestNumber()

	descriptors, err := w.rt.ChildDescriptorsFor(parentHash)
	if err != nil {
		return false, err
	}

	globalChallenge := kcrypto.DeriveGlobalChallenge(descriptors.GlobalRandomness, slot)
	info := NewSlotInfo{
		SlotNumber:          slot,
		GlobalChallenge:     globalChallenge,
		Salt:                descriptors.Salt,
		NextSalt:            descriptors.NextSalt,
		SolutionRange:       descriptors.SolutionRange,
		VotingSolutionRange: descriptors.VotingSolutionRange,
	}

	solutionCh := make(chan consensus.Solution, 1)
	w.newSlot.Notify(func() NewSlotNotification {
		return NewSlotNotification{Info: info, SolutionSender: solutionCh}
	})

	var sol consensus.Solution
	select {
	case sol = <-solutionCh:
	case <-time.After(SolutionTimeout):
		return false, ErrSolutionTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}

	if !kcrypto.IsTagValid(sol.Encoding[:], descriptors.Salt, sol.Tag) {
		return false, ErrSolutionInvalid
	}
	target := kcrypto.TargetFromOutput(sol.LocalChallenge.Output)
	tag := kcrypto.TagAsUint64(sol.Tag)
	if !kcrypto.IsWithinSolutionRange(target, tag, descriptors.VotingSolutionRange) {
		return false, ErrSolutionInvalid
	}
	if w.rt.IsInBlockList(sol.PublicKey) {
		return false, ErrBlockListed
	}

	header, err := buildUnsealedHeader(parentHash, parentNumber+1, slot, sol, descriptors)
	if err != nil {
		return false, err
	}
	preHash, err := header.PreHash()
	if err != nil {
		return false, err
	}

	sigCh := make(chan kcrypto.RewardSignature, 1)
	w.rewardSigning.Notify(func() RewardSigningNotification {
		return RewardSigningNotification{
			Info:            RewardSigningInfo{Hash: preHash, PublicKey: sol.PublicKey},
			SignatureSender: sigCh,
		}
	})

	var sig kcrypto.RewardSignature
	select {
	case sig = <-sigCh:
	case <-time.After(RewardSigningTimeout):
		return false, ErrRewardSigningTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}

	sealed, err := header.PushSeal(consensus.Seal{Signature: sig})
	if err != nil {
		return false, err
	}
	headerHash := kcrypto.Sha256(preHash[:], sig[:])

	preDigest := consensus.PreDigest{Slot: slot, Solution: sol}
	becomesBest, err = w.importer.ImportBlock(sealed, preDigest, consensus.OriginOther, headerHash)
	if err != nil {
		return false, err
	}

	w.logger.Info("authored block",
		zap.Uint64("slot", slot),
		zap.Uint64("number", parentNumber+1),
		zap.Bool("best", becomesBest),
	)
	return becomesBest, nil
}

func buildUnsealedHeader(parentHash [32]byte, number uint64, slot uint64, sol consensus.Solution, d runtime.ChildDescriptors) (consensus.Header, error) {
	preDigestItem, err := consensus.NewPreDigestItem(consensus.PreDigest{Slot: slot, Solution: sol})
	if err != nil {
		return consensus.Header{}, err
	}
	randomnessItem, err := consensus.NewGlobalRandomnessDigestItem(consensus.GlobalRandomnessDescriptor{GlobalRandomness: d.GlobalRandomness})
	if err != nil {
		return consensus.Header{}, err
	}
	rangeItem, err := consensus.NewSolutionRangeDigestItem(consensus.SolutionRangeDescriptor{SolutionRange: d.SolutionRange})
	if err != nil {
		return consensus.Header{}, err
	}
	saltItem, err := consensus.NewSaltDigestItem(consensus.SaltDescriptor{Salt: d.Salt})
	if err != nil {
		return consensus.Header{}, err
	}
	return consensus.Header{
		ParentHash: parentHash,
		Number:     number,
		Digests:    []consensus.DigestItem{preDigestItem, randomnessItem, rangeItem, saltItem},
		HasBody:    true,
	}, nil
}
