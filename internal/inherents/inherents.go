// Package inherents defines the block-author-supplied data this engine's
// inherent checks over: the slot a block was authored for and any root
// blocks that must be embedded once a segment archives. The state-transition
// machinery that would apply these to chain state is out of scope; this
// package only shapes the identifier and payload the runtime layer consumes.
package inherents

import "github.com/kumandra/kumandra-node/internal/piece"

// InherentIdentifier is the 8-byte ASCII tag this engine's inherent is filed
// under, matching the fixed identifier the original runtime module used.
var InherentIdentifier = [8]byte{'k', 'u', 'm', 'a', 'n', 'd', 'r', 'a'}

// Data is the inherent payload a block author attaches: the slot the block
// claims to be authored for, and any root blocks archived since the parent
// that must be recorded on-chain before confirmation_depth_k elapses.
type Data struct {
	Slot       uint64
	RootBlocks []piece.RootBlock
}
