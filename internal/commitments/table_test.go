package commitments

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/kumandra/kumandra-node/internal/kcrypto"
)

func TestPutBatchAndSearchNearestFindsClosest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commitments.db")
	salt := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	table, err := Open(path, salt)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer table.Close()

	r := rand.New(rand.NewSource(42))
	entries := make([]Entry, 500)
	for i := range entries {
		var tag [8]byte
		r.Read(tag[:])
		entries[i] = Entry{Tag: tag, Offset: uint64(i)}
	}
	if err := table.PutBatch(entries); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	target := kcrypto.TagAsUint64(entries[17].Tag)
	results, err := table.SearchNearest(target, 10)
	if err != nil {
		t.Fatalf("SearchNearest: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Tag != entries[17].Tag {
		t.Fatalf("expected exact match to rank first, got %v", results[0])
	}

	for i := 1; i < len(results); i++ {
		prevDist := kcrypto.BidirectionalDistance(target, kcrypto.TagAsUint64(results[i-1].Tag))
		dist := kcrypto.BidirectionalDistance(target, kcrypto.TagAsUint64(results[i].Tag))
		if dist < prevDist {
			t.Fatalf("results not sorted ascending by distance at index %d", i)
		}
	}
}

func TestResetClearsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commitments.db")
	table, err := Open(path, [8]byte{1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer table.Close()

	if err := table.PutBatch([]Entry{{Tag: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, Offset: 1}}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if err := table.Reset([8]byte{2}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	results, err := table.SearchNearest(0, 10)
	if err != nil {
		t.Fatalf("SearchNearest: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no entries after reset, got %d", len(results))
	}
	if table.Salt() != [8]byte{2} {
		t.Fatalf("expected updated salt after Reset")
	}
}

func TestOperationsFailAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commitments.db")
	table, err := Open(path, [8]byte{1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	table.Close()

	if err := table.PutBatch(nil); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
