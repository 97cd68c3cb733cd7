// Package commitments implements the farmer's per-plot commitment table: a
// bbolt-backed index from solving tag to piece offset, rebuilt from scratch
// every time the runtime rotates the salt. Search walks the table outward
// from a target tag to return the closest candidates for a slot's audit.
package commitments

import (
	"encoding/binary"
	"errors"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/kumandra/kumandra-node/internal/kcrypto"
)

var bucketName = []byte("commitments")

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("commitments: table is closed")

// Entry is one commitment: a solving tag and the byte offset in the plot
// file of the piece it was computed from.
type Entry struct {
	Tag    [kcrypto.TagSize]byte
	Offset uint64
}

// Table is one salt generation's worth of tag -> offset commitments for a
// single plot. It is single-writer (the recommit goroutine that built it)
// with concurrent readers safe via bbolt's own MVCC transactions.
type Table struct {
	db     *bbolt.DB
	salt   [8]byte
	closed bool
}

// Open creates or opens the commitment table file at path for salt. A
// fresh salt should use a fresh path (or Reset) since this package never
// mixes entries from two salts in the same bucket.
func Open(path string, salt [8]byte) (*Table, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Table{db: db, salt: salt}, nil
}

// Salt returns the salt this table's commitments were built under.
func (t *Table) Salt() [8]byte {
	return t.salt
}

// Reset clears every commitment, used when a recommit starts rebuilding the
// table for a new salt in place.
func (t *Table) Reset(salt [8]byte) error {
	if t.closed {
		return ErrClosed
	}
	t.salt = salt
	return t.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
}

// PutBatch records a batch of commitments in a single transaction, the
// shape a recommit pass streams pieces through plot-block by plot-block.
func (t *Table) PutBatch(entries []Entry) error {
	if t.closed {
		return ErrClosed
	}
	return t.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, e := range entries {
			if err := b.Put(tagKey(e.Tag), entryValue(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// searchWindow bounds how many keys SearchNearest inspects on each side of
// the seek point; tags are effectively random, so a window a few times
// larger than limit makes missing a true top-limit candidate negligible
// without scanning the whole bucket.
const searchWindow = 64

// SearchNearest returns up to limit commitments whose tags are closest to
// target under bidirectional distance, ascending by distance. It seeks to
// target's position in the bucket's sorted key order, collects a bounded
// window of candidates on each side, and sorts them by actual distance.
func (t *Table) SearchNearest(target uint64, limit int) ([]Entry, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	type candidate struct {
		entry Entry
		dist  uint64
	}
	var candidates []candidate

	err := t.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()

		add := func(k, v []byte) {
			if k == nil {
				return
			}
			entry := parseEntryValue(v)
			dist := kcrypto.BidirectionalDistance(target, kcrypto.TagAsUint64(entry.Tag))
			candidates = append(candidates, candidate{entry: entry, dist: dist})
		}

		k, v := c.Seek(keyFromUint64(target))
		if k == nil {
			k, v = c.Last()
		}
		add(k, v)

		fk, fv := k, v
		for i := 0; i < searchWindow; i++ {
			fk, fv = c.Next()
			add(fk, fv)
		}

		c.Seek(keyFromUint64(target))
		bk, bv := c.Prev()
		for i := 0; i < searchWindow; i++ {
			if bk == nil {
				break
			}
			add(bk, bv)
			bk, bv = c.Prev()
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	results := make([]Entry, len(candidates))
	for i, c := range candidates {
		results[i] = c.entry
	}
	return results, nil
}

// Close releases the underlying bbolt file handle.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.db.Close()
}

func tagKey(tag [8]byte) []byte {
	// Re-key by numeric value in big-endian order so bbolt's lexicographic
	// key ordering doubles as a numeric ordering for nearest-neighbor walks,
	// independent of the tag's own little-endian wire encoding.
	return keyFromUint64(kcrypto.TagAsUint64(tag))
}

func keyFromUint64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

// entryValue packs a commitment's original tag bytes alongside its offset;
// the sort key alone cannot recover the tag's original byte layout since it
// is re-ordered to big-endian purely for lexicographic search.
func entryValue(e Entry) []byte {
	v := make([]byte, kcrypto.TagSize+8)
	copy(v[:kcrypto.TagSize], e.Tag[:])
	binary.BigEndian.PutUint64(v[kcrypto.TagSize:], e.Offset)
	return v
}

func parseEntryValue(v []byte) Entry {
	var e Entry
	copy(e.Tag[:], v[:kcrypto.TagSize])
	e.Offset = binary.BigEndian.Uint64(v[kcrypto.TagSize:])
	return e
}
