package farming

import (
	"fmt"
	"os"
	"sync"

	"github.com/kumandra/kumandra-node/internal/piece"
)

// FilePlot is a single-file, append-only Plot: pieces are stored back to
// back at fixed PieceSize offsets, with no on-disk index since offset i
// always lives at byte i*PieceSize. It does no encoding of its own — the
// caller (Farmer.encodeForPlotting) is responsible for applying
// piece.EncodePiece before a piece reaches Plot, so every piece on disk is
// already in the form CheckPiece expects to DecodePiece back out of a
// submitted solution.
type FilePlot struct {
	mu   sync.Mutex
	file *os.File
	next uint64
}

// OpenFilePlot opens (creating if necessary) the plot file at path and
// resumes piece numbering from its current length.
func OpenFilePlot(path string) (*FilePlot, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("farming: open plot file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("farming: stat plot file: %w", err)
	}
	return &FilePlot{file: f, next: uint64(info.Size()) / piece.PieceSize}, nil
}

// Close closes the underlying file.
func (p *FilePlot) Close() error {
	return p.file.Close()
}

// PieceAt reads the piece stored at offset.
func (p *FilePlot) PieceAt(offset uint64) (piece.Piece, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, piece.PieceSize)
	if _, err := p.file.ReadAt(buf, int64(offset)*piece.PieceSize); err != nil {
		return piece.Piece{}, fmt.Errorf("farming: read piece %d: %w", offset, err)
	}
	return piece.NewPiece(buf)
}

// Plot appends pieces to the file, returning the offset the first piece
// was written at; later pieces follow contiguously.
func (p *FilePlot) Plot(segmentIndex uint64, pieces piece.FlatPieces) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := p.next
	if _, err := p.file.WriteAt(pieces, int64(base)*piece.PieceSize); err != nil {
		return 0, fmt.Errorf("farming: write segment %d: %w", segmentIndex, err)
	}
	p.next += uint64(pieces.Count())
	return base, nil
}
