package farming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kumandra/kumandra-node/internal/commitments"
	"github.com/kumandra/kumandra-node/internal/kcrypto"
)

// ErrRecommitSuperseded is returned by an in-flight recommit that was
// abandoned because a newer salt arrived before it finished.
var ErrRecommitSuperseded = errors.New("farming: recommit superseded by newer salt")

// recommitBatchSize bounds how many commitment entries accumulate before
// a PutBatch flush, keeping a single bbolt transaction from growing
// unbounded across a full-plot scan.
const recommitBatchSize = 4096

// DiskSemaphore serializes recommits against one physical disk, so two
// plots sharing a spindle don't thrash it with concurrent full scans.
// Its zero value is not usable; construct with NewDiskSemaphore.
type DiskSemaphore struct {
	ch chan struct{}
}

// NewDiskSemaphore returns a semaphore permitting one recommit at a time.
func NewDiskSemaphore() *DiskSemaphore {
	return &DiskSemaphore{ch: make(chan struct{}, 1)}
}

func (d *DiskSemaphore) acquire(ctx context.Context) error {
	select {
	case d.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DiskSemaphore) release() {
	<-d.ch
}

// Recommitter rebuilds a plot's commitment table from scratch whenever the
// runtime rotates the salt. Only one build runs at a time per Recommitter;
// a newer call waits for an older one to exit, first signaling it to stop
// via a shared atomic flag so it doesn't finish pointless work for a salt
// nobody wants anymore.
type Recommitter struct {
	disk   *DiskSemaphore
	plot   Plot
	logger *zap.Logger

	mu   sync.Mutex
	stop atomic.Bool
}

// NewRecommitter builds a recommitter reading pieces from plot, serialized
// against other plots on the same disk via disk.
func NewRecommitter(disk *DiskSemaphore, plot Plot, logger *zap.Logger) *Recommitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recommitter{disk: disk, plot: plot, logger: logger}
}

// Recommit builds the full commitment table for salt at dbPath, scanning
// offsets [0, totalPieces). It blocks until any in-progress recommit on
// this instance has exited.
func (r *Recommitter) Recommit(ctx context.Context, salt [8]byte, dbPath string, totalPieces uint64) (*commitments.Table, error) {
	r.stop.Store(true)
	if err := r.disk.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.disk.release()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stop.Store(false)

	table, err := commitments.Open(dbPath, salt)
	if err != nil {
		return nil, err
	}
	if err := table.Reset(salt); err != nil {
		table.Close()
		return nil, err
	}

	r.logger.Info("recommit started", zap.Uint64("total_pieces", totalPieces))

	batch := make([]commitments.Entry, 0, recommitBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := table.PutBatch(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for offset := uint64(0); offset < totalPieces; offset++ {
		if r.stop.Load() {
			table.Close()
			return nil, ErrRecommitSuperseded
		}
		select {
		case <-ctx.Done():
			table.Close()
			return nil, ctx.Err()
		default:
		}

		p, err := r.plot.PieceAt(offset)
		if err != nil {
			table.Close()
			return nil, err
		}
		tag := kcrypto.CreateTag(p[:], salt)
		batch = append(batch, commitments.Entry{Tag: tag, Offset: offset})
		if len(batch) >= recommitBatchSize {
			if err := flush(); err != nil {
				table.Close()
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		table.Close()
		return nil, err
	}

	r.logger.Info("recommit finished", zap.Uint64("total_pieces", totalPieces))
	return table, nil
}
