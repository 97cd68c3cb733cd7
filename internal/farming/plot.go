package farming

import (
	"github.com/kumandra/kumandra-node/internal/piece"
)

// Plot is the farmer's on-disk piece store. Its concrete layout (single
// file, sharded directory, etc.) is plot-specific and out of scope here;
// the solving loop only needs random-access reads by byte offset and a
// way to receive newly archived pieces to persist.
type Plot interface {
	// PieceAt reads the piece stored at offset.
	PieceAt(offset uint64) (piece.Piece, error)

	// Plot appends pieces to the store starting at a plot-chosen offset
	// for segmentIndex, returning the base offset new commitments should
	// be recorded against.
	Plot(segmentIndex uint64, pieces piece.FlatPieces) (baseOffset uint64, err error)
}
