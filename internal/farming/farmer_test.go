package farming

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/piece"
	"github.com/kumandra/kumandra-node/internal/rpc"
)

type memPlot struct {
	pieces map[uint64]piece.Piece
	next   uint64
}

func newMemPlot() *memPlot {
	return &memPlot{pieces: make(map[uint64]piece.Piece)}
}

func (p *memPlot) PieceAt(offset uint64) (piece.Piece, error) {
	pc, ok := p.pieces[offset]
	if !ok {
		return piece.Piece{}, errNoSuchPiece
	}
	return pc, nil
}

func (p *memPlot) Plot(segmentIndex uint64, pieces piece.FlatPieces) (uint64, error) {
	base := p.next
	for i := 0; i < pieces.Count(); i++ {
		pc, err := pieces.PieceAt(i)
		if err != nil {
			return 0, err
		}
		p.pieces[base+uint64(i)] = pc
		p.next++
	}
	return base, nil
}

var errNoSuchPiece = &pieceNotFoundError{}

type pieceNotFoundError struct{}

func (*pieceNotFoundError) Error() string { return "farming: no such piece" }

func TestRecommitterBuildsTableFromPlot(t *testing.T) {
	plot := newMemPlot()
	var salt [8]byte
	for i := uint64(0); i < 20; i++ {
		var p piece.Piece
		p[0] = byte(i)
		plot.pieces[i] = p
	}

	disk := NewDiskSemaphore()
	r := NewRecommitter(disk, plot, nil)
	dbPath := filepath.Join(t.TempDir(), "commitments.db")

	table, err := r.Recommit(context.Background(), salt, dbPath, 20)
	if err != nil {
		t.Fatalf("Recommit: %v", err)
	}
	defer table.Close()

	results, err := table.SearchNearest(0, TagsSearchLimit)
	if err != nil {
		t.Fatalf("SearchNearest: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one commitment entry")
	}
}

func TestAuditReturnsNilWithoutCommitmentTable(t *testing.T) {
	kp, err := kcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	f := &Farmer{identity: kp, plot: newMemPlot(), logger: zap.NewNop()}

	sol, err := f.audit(rpc.SlotInfo{SlotNumber: 1, VotingSolutionRange: ^uint64(0), SolutionRange: ^uint64(0)})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if sol != nil {
		t.Fatal("expected nil solution with no commitment table loaded")
	}
}
