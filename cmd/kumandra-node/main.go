// Command kumandra-node runs a PoAS consensus node: it wires the runtime,
// archiver, verifier/block-import pipeline, slot worker, and farmer-facing
// RPC server together and serves them until interrupted.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kumandra/kumandra-node/internal/archiver"
	"github.com/kumandra/kumandra-node/internal/config"
	"github.com/kumandra/kumandra-node/internal/consensus"
	"github.com/kumandra/kumandra-node/internal/metrics"
	"github.com/kumandra/kumandra-node/internal/notification"
	"github.com/kumandra/kumandra-node/internal/piece"
	"github.com/kumandra/kumandra-node/internal/rpc"
	"github.com/kumandra/kumandra-node/internal/runtime"
	"github.com/kumandra/kumandra-node/internal/slotworker"
)

// blockArchiveContentSize is the size of the placeholder bytes fed to the
// archiver per imported block, standing in for the block's actual body —
// state-transition/extrinsic content is out of scope (§1), so only the
// block number is meaningfully encoded into it.
const blockArchiveContentSize = 256

// memChain is the minimal in-memory stand-in for the on-disk block
// database §1 explicitly places out of scope: enough header storage to
// satisfy consensus.ParentSource/Sink for a single running process.
type memChain struct {
	mu      sync.Mutex
	headers map[[32]byte]consensus.Header
	inChain map[[32]byte]bool
}

func newMemChain() *memChain {
	return &memChain{
		headers: make(map[[32]byte]consensus.Header),
		inChain: make(map[[32]byte]bool),
	}
}

func (c *memChain) HeaderByHash(hash [32]byte) (consensus.Header, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.headers[hash]
	return h, ok, nil
}

func (c *memChain) IsInChain(hash [32]byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inChain[hash], nil
}

func (c *memChain) Import(h consensus.Header) error {
	return nil
}

func (c *memChain) record(hash [32]byte, h consensus.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[hash] = h
	c.inChain[hash] = true
}

// feedArchiver turns every imported block into archival content and hands
// any freshly completed segments' root blocks back to the block importer
// so it can prime the expected-root-blocks cache for the block's child.
func feedArchiver(ctx context.Context, arc *archiver.Archiver, imported notification.Stream[consensus.ImportedBlockNotification], logger *zap.Logger) {
	sub := imported.Subscribe()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C:
			if !ok {
				return
			}
			content := make([]byte, blockArchiveContentSize)
			binary.LittleEndian.PutUint64(content, n.BlockNumber)

			segments, err := arc.AddBlock(n.BlockNumber, content)
			if err != nil {
				logger.Warn("archive block failed", zap.Uint64("block", n.BlockNumber), zap.Error(err))
				continue
			}
			if len(segments) == 0 {
				continue
			}
			roots := make([]piece.RootBlock, len(segments))
			for i, s := range segments {
				roots[i] = s.RootBlock
			}
			select {
			case n.ReplyForRoot <- roots:
			default:
			}
		}
	}
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.ParseNodeConfig(os.Args[1:])
	if err != nil {
		logger.Fatal("parse config", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("node exited", zap.Error(err))
	}
}

func run(cfg config.NodeConfig, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt := runtime.NewInMemory(runtime.ChainParameters{
		SlotDuration:               cfg.SlotDuration,
		RecordSize:                 uint32(cfg.RecordSize),
		RecordedHistorySegmentSize: piece.RecordedHistorySegmentSize,
		MaxPlotSize:                cfg.MaxPlotSize,
		TotalPieces:                cfg.TotalPieces,
		ConfirmationDepthK:         uint64(cfg.ConfirmationDepthK),
	})

	chain := newMemChain()
	importedSender, importedStream := notification.Channel[consensus.ImportedBlockNotification]("imported-blocks")
	blockImport, err := consensus.NewBlockImport(rt, chain, chain, nil, int(cfg.ConfirmationDepthK), importedSender, logger)
	if err != nil {
		return fmt.Errorf("new block import: %w", err)
	}

	genesisHash := [32]byte{}
	genesis := consensus.Header{Number: 0}
	chain.record(genesisHash, genesis)
	if _, err := blockImport.ImportBlock(genesis, consensus.GenesisPreDigest(), consensus.OriginOther, genesisHash); err != nil {
		return fmt.Errorf("import genesis: %w", err)
	}

	segmentsSender, segmentsStream := notification.Channel[archiver.ArchivedSegmentNotification]("archived-segments")
	arc := archiver.New(0, piece.GenesisRootBlockHash(), segmentsSender, logger)

	newSlotSender, newSlotStream := notification.Channel[slotworker.NewSlotNotification]("new-slot")
	rewardSender, rewardStream := notification.Channel[slotworker.RewardSigningNotification]("reward-signing")

	worker := slotworker.New(rt, blockImport, blockImport, newSlotSender, rewardSender, cfg.SlotDuration, time.Now(), logger)

	server := rpc.NewServer(rt, blockImport, newSlotStream, rewardStream, segmentsStream, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("slot worker stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(cfg.RPCAddr); err != nil {
			logger.Error("rpc server stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		feedArchiver(ctx, arc, importedStream, logger)
	}()

	logger.Info("node started", zap.String("rpc_addr", cfg.RPCAddr), zap.Duration("slot_duration", cfg.SlotDuration))
	metrics.BestBlockNumber.Set(0)

	<-ctx.Done()
	logger.Info("shutting down")
	if err := server.Close(); err != nil {
		logger.Warn("rpc server close", zap.Error(err))
	}
	wg.Wait()
	return nil
}
