// Package archiver turns an append-only stream of confirmed blocks into an
// append-only stream of archived segments and hash-linked root blocks. A
// block's bytes are buffered until enough have accumulated for a full
// segment; segment emission erasure-codes the buffered records, builds the
// segment's Merkle tree, and chains a new root block onto the previous one.
package archiver

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kumandra/kumandra-node/internal/erasure"
	"github.com/kumandra/kumandra-node/internal/metrics"
	"github.com/kumandra/kumandra-node/internal/notification"
	"github.com/kumandra/kumandra-node/internal/piece"
)

// ErrAcknowledgementTimeout names an acknowledgement wait that timed out.
// AddBlock waits for each acknowledgement without a deadline and does not
// return this error.
var ErrAcknowledgementTimeout = errors.New("archiver: acknowledgement wait timed out")

// dataShards and parityShards split each segment's recorded history in
// half, matching MERKLE_NUM_LEAVES = 2 * RecordedHistorySegmentSize/RecordSize.
const (
	dataShards   = piece.MerkleNumLeaves / 2
	parityShards = piece.MerkleNumLeaves / 2
)

// ArchivedSegment is one emitted segment: its flattened pieces, the root
// block describing it, and a one-shot channel the archiver blocks on
// before producing the next segment.
type ArchivedSegment struct {
	Pieces    piece.FlatPieces
	RootBlock piece.RootBlock
	Ack       chan<- struct{}
}

// chunk is one AddBlock call's bytes, shrinking from the front as the
// archiver drains it into segments; Consumed tracks cumulative bytes taken
// from this block across possibly several drains, for partial-progress
// reporting.
type chunk struct {
	number   uint64
	data     []byte
	totalLen int
	consumed int
}

// Archiver is the append-only block-to-segment state machine. It is not
// safe for concurrent use from multiple goroutines; callers serialize
// AddBlock calls (the node driver feeds it finalized blocks in order).
type Archiver struct {
	queue        []*chunk
	segmentIndex uint64
	prevHash     [32]byte

	segments notification.Sender[ArchivedSegmentNotification]
	logger   *zap.Logger
}

// ArchivedSegmentNotification is published once per emitted segment; ack
// must be closed or sent to exactly once by a subscriber before the
// archiver will accept further blocks.
type ArchivedSegmentNotification struct {
	Segment ArchivedSegment
}

// New constructs an archiver continuing a chain whose most recently
// emitted root block hash is prevHash (use piece.GenesisRootBlockHash and
// nextSegmentIndex 0 for a fresh chain).
func New(nextSegmentIndex uint64, prevHash [32]byte, segments notification.Sender[ArchivedSegmentNotification], logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		segmentIndex: nextSegmentIndex,
		prevHash:     prevHash,
		segments:     segments,
		logger:       logger,
	}
}

// AddBlock buffers a finalized block's bytes and emits every segment that
// becomes completable as a result, in order. Each emitted segment's
// acknowledgement must be satisfied (by the subscriber closing or sending
// on ArchivedSegment.Ack) before this call emits the next segment or
// returns: AddBlock blocks on each Ack in turn, the backpressure contract
// that bounds import-pipeline memory growth.
func (a *Archiver) AddBlock(number uint64, data []byte) ([]ArchivedSegment, error) {
	a.queue = append(a.queue, &chunk{number: number, data: data, totalLen: len(data)})

	var emitted []ArchivedSegment
	for a.bufferedBytes() >= piece.RecordedHistorySegmentSize {
		seg, err := a.emitSegment()
		if err != nil {
			return emitted, err
		}

		ack := make(chan struct{})
		seg.Ack = ack
		emitted = append(emitted, seg)

		a.segments.Notify(func() ArchivedSegmentNotification {
			return ArchivedSegmentNotification{Segment: seg}
		})
		metrics.ArchivedSegments.Inc()
		<-ack
	}
	return emitted, nil
}

func (a *Archiver) bufferedBytes() int {
	total := 0
	for _, c := range a.queue {
		total += len(c.data)
	}
	return total
}

// emitSegment drains exactly RecordedHistorySegmentSize bytes from the
// front of the queue, erasure-codes them into data+parity records, builds
// the segment's Merkle tree, and chains a new root block onto a.prevHash.
func (a *Archiver) emitSegment() (ArchivedSegment, error) {
	raw := make([]byte, 0, piece.RecordedHistorySegmentSize)
	var lastNumber uint64
	var lastComplete bool

	for len(raw) < piece.RecordedHistorySegmentSize {
		if len(a.queue) == 0 {
			return ArchivedSegment{}, errors.New("archiver: ran out of buffered bytes mid-segment")
		}
		c := a.queue[0]
		need := piece.RecordedHistorySegmentSize - len(raw)
		if len(c.data) <= need {
			raw = append(raw, c.data...)
			c.consumed += len(c.data)
			lastNumber = c.number
			lastComplete = c.consumed == c.totalLen
			a.queue = a.queue[1:]
		} else {
			raw = append(raw, c.data[:need]...)
			c.data = c.data[need:]
			c.consumed += need
			lastNumber = c.number
			lastComplete = false
		}
	}

	shards, err := erasure.Encode(raw, dataShards, parityShards)
	if err != nil {
		return ArchivedSegment{}, fmt.Errorf("archiver: encode: %w", err)
	}
	if len(shards) != piece.MerkleNumLeaves {
		return ArchivedSegment{}, fmt.Errorf("archiver: expected %d shards, got %d", piece.MerkleNumLeaves, len(shards))
	}

	root, witnesses, err := piece.BuildMerkleTree(shards)
	if err != nil {
		return ArchivedSegment{}, fmt.Errorf("archiver: build merkle tree: %w", err)
	}

	flat := make(piece.FlatPieces, 0, piece.MerkleNumLeaves*piece.PieceSize)
	for i, shard := range shards {
		var pieceBuf [piece.PieceSize]byte
		copy(pieceBuf[:piece.RecordSize], shard)
		copy(pieceBuf[piece.RecordSize:], witnesses[i][:])
		flat = append(flat, pieceBuf[:]...)
	}

	progress := piece.Complete()
	if !lastComplete {
		// The chunk we stopped mid-way through is never popped, so it's
		// still at the front of the queue with its cumulative consumed
		// count updated above.
		progress = piece.Partial(uint32(a.queue[0].consumed))
	}

	last := piece.LastArchivedBlock{Number: lastNumber, ArchivedProgress: progress}
	rootBlock := piece.NewRootBlock(a.segmentIndex, root, a.prevHash, last)

	hash, err := rootBlock.Hash()
	if err != nil {
		return ArchivedSegment{}, fmt.Errorf("archiver: hash root block: %w", err)
	}

	a.logger.Debug("archived segment",
		zap.Uint64("segment_index", a.segmentIndex),
		zap.Uint64("last_archived_block", lastNumber),
		zap.Bool("complete", lastComplete),
	)

	a.segmentIndex++
	a.prevHash = hash

	return ArchivedSegment{Pieces: flat, RootBlock: rootBlock}, nil
}
