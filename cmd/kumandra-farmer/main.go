// Command kumandra-farmer connects a single plot to a node's farmer RPC
// and runs the solving loop: audit each slot, submit solutions, sign
// rewards, and plot newly archived segments.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kumandra/kumandra-node/internal/config"
	"github.com/kumandra/kumandra-node/internal/farming"
	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/rpcclient"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.ParseFarmerConfig(os.Args[1:])
	if err != nil {
		logger.Fatal("parse config", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("farmer exited", zap.Error(err))
	}
}

func loadIdentity(seedHex string) (*kcrypto.KeyPair, error) {
	if seedHex == "" {
		kp, err := kcrypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		return kp, nil
	}
	raw, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode identity seed: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("identity seed must be 32 bytes, got %d", len(raw))
	}
	var seed [32]byte
	copy(seed[:], raw)
	return kcrypto.KeyPairFromSeed(seed), nil
}

func run(cfg config.FarmerConfig, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	identity, err := loadIdentity(cfg.IdentitySeed)
	if err != nil {
		return err
	}
	pk := identity.PublicKey()
	logger.Info("farmer identity loaded", zap.String("public_key", hex.EncodeToString(pk[:])))

	plot, err := farming.OpenFilePlot(cfg.PlotPath)
	if err != nil {
		return err
	}
	defer plot.Close()

	if err := os.MkdirAll(cfg.CommitmentDir, 0o755); err != nil {
		return fmt.Errorf("create commitment dir: %w", err)
	}

	client, err := rpcclient.Dial(cfg.NodeURL, logger)
	if err != nil {
		return fmt.Errorf("dial node: %w", err)
	}
	defer client.Close()

	disk := farming.NewDiskSemaphore()
	f := farming.New(client, identity, pk, plot, disk, cfg.CommitmentDir, logger)

	logger.Info("farmer started", zap.String("node_url", cfg.NodeURL), zap.String("plot_path", cfg.PlotPath))

	return f.Run(ctx)
}
