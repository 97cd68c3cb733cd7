// Package lru wraps hashicorp/golang-lru into the bounded
// block-number-to-root-blocks cache the importer consults when a segment's
// records root is not yet visible from the runtime.
package lru

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kumandra/kumandra-node/internal/piece"
)

// RootBlockCache is the expected-root-blocks cache: block number maps to
// the root blocks that must be embedded in that block's inherents. It is
// guarded by its own mutex since golang-lru.Cache is not safe for
// concurrent use from multiple goroutines without external locking.
type RootBlockCache struct {
	mu    sync.Mutex
	cache *lru.Cache[uint64, []piece.RootBlock]
}

// NewRootBlockCache creates a cache with the given capacity, which should
// equal the runtime's confirmation_depth_k.
func NewRootBlockCache(capacity int) (*RootBlockCache, error) {
	c, err := lru.New[uint64, []piece.RootBlock](capacity)
	if err != nil {
		return nil, err
	}
	return &RootBlockCache{cache: c}, nil
}

// Put records the root blocks that block blockNumber must embed.
func (c *RootBlockCache) Put(blockNumber uint64, blocks []piece.RootBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(blockNumber, blocks)
}

// Get returns the root blocks expected at blockNumber, if still cached.
// This is a peek: it does not refresh the entry's recency, matching the
// read-only consultation the importer performs.
func (c *RootBlockCache) Get(blockNumber uint64) ([]piece.RootBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Peek(blockNumber)
}

// ForSegmentIndex scans cached entries for a root block matching
// segmentIndex. Used only as the block-number==1 fallback path in
// block-import verification, before any block's expected root blocks have
// been consulted through Get.
func (c *RootBlockCache) ForSegmentIndex(segmentIndex uint64) (piece.RootBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.cache.Keys() {
		blocks, ok := c.cache.Peek(key)
		if !ok {
			continue
		}
		for _, rb := range blocks {
			if rb.SegmentIndex() == segmentIndex {
				return rb, true
			}
		}
	}
	return piece.RootBlock{}, false
}
