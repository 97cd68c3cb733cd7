// Package config defines the flag-parsed settings for the node and farmer
// binaries: a plain struct with defaults, no configuration framework.
package config

import (
	"flag"
	"time"
)

// NodeConfig is cmd/kumandra-node's configuration.
type NodeConfig struct {
	RPCAddr             string
	SlotDuration         time.Duration
	RecordSize          uint
	MaxPlotSize         uint64
	TotalPieces         uint64
	ConfirmationDepthK  uint
	SolutionRange       uint64
	VotingSolutionRange uint64
}

// ParseNodeConfig parses flags from args into a NodeConfig.
func ParseNodeConfig(args []string) (NodeConfig, error) {
	fs := flag.NewFlagSet("kumandra-node", flag.ContinueOnError)
	cfg := NodeConfig{}
	fs.StringVar(&cfg.RPCAddr, "rpc-addr", ":9944", "address the farmer RPC server listens on")
	fs.DurationVar(&cfg.SlotDuration, "slot-duration", time.Second, "wall-clock duration of one slot")
	fs.UintVar(&cfg.RecordSize, "record-size", 3840, "byte size of a piece's data payload")
	fs.Uint64Var(&cfg.MaxPlotSize, "max-plot-size", 1<<30, "maximum plot size in bytes a farmer may report")
	fs.Uint64Var(&cfg.TotalPieces, "total-pieces", 1<<16, "total pieces in the archived history")
	fs.UintVar(&cfg.ConfirmationDepthK, "confirmation-depth", 100, "blocks after which an archived root block is expected on-chain")
	fs.Uint64Var(&cfg.SolutionRange, "solution-range", ^uint64(0)/1024, "block-authoring solution range")
	fs.Uint64Var(&cfg.VotingSolutionRange, "voting-solution-range", ^uint64(0)/16, "vote-accepting solution range")
	if err := fs.Parse(args); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// FarmerConfig is cmd/kumandra-farmer's configuration.
type FarmerConfig struct {
	NodeURL       string
	PlotPath      string
	CommitmentDir string
	IdentitySeed  string
}

// ParseFarmerConfig parses flags from args into a FarmerConfig.
func ParseFarmerConfig(args []string) (FarmerConfig, error) {
	fs := flag.NewFlagSet("kumandra-farmer", flag.ContinueOnError)
	cfg := FarmerConfig{}
	fs.StringVar(&cfg.NodeURL, "node-url", "ws://127.0.0.1:9944/", "farmer RPC URL of the node to connect to")
	fs.StringVar(&cfg.PlotPath, "plot-path", "./plot.bin", "path to the plot file")
	fs.StringVar(&cfg.CommitmentDir, "commitment-dir", "./commitments", "directory holding per-salt commitment tables")
	fs.StringVar(&cfg.IdentitySeed, "identity-seed", "", "hex-encoded 32-byte seed for the farmer's keypair; random if empty")
	if err := fs.Parse(args); err != nil {
		return FarmerConfig{}, err
	}
	return cfg, nil
}
