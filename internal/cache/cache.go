// Package cache implements the bounded LRU cache of served chunk bytes,
// shared across all files offered on the upload side.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corelink/node/internal/chunk"
)

// DefaultCapacity is the number of chunk entries retained when no explicit
// capacity is configured.
const DefaultCapacity = 100

// Key identifies a cached chunk by the file it belongs to and its index
// within that file.
type Key struct {
	FileID chunk.FileID
	Index  uint32
}

// Cache is a bounded, least-recently-used cache of chunk bytes. It is
// reached only from the Manager's serial event loop, so no internal
// locking is required beyond what the underlying LRU already provides for
// its own bookkeeping.
type Cache struct {
	lru *lru.Cache[Key, []byte]
}

// New creates a Cache bounded at capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[Key, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached bytes for (fileID, index), promoting the entry to
// most-recently-used on a hit.
func (c *Cache) Get(fileID chunk.FileID, index uint32) ([]byte, bool) {
	return c.lru.Get(Key{FileID: fileID, Index: index})
}

// Put inserts bytes for (fileID, index), evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache) Put(fileID chunk.FileID, index uint32, data []byte) {
	c.lru.Add(Key{FileID: fileID, Index: index}, data)
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
