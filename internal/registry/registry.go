// Package registry implements the Upload Registry: the map from file-id
// to manifest and source path for locally offered files, and the
// cache-then-disk chunk read path that serves them to peers.
package registry

import (
	"errors"
	"fmt"

	"github.com/corelink/node/internal/cache"
	"github.com/corelink/node/internal/chunk"
	"github.com/corelink/node/internal/obsmetrics"
	"github.com/corelink/node/internal/validation"
)

// ErrUnknownFile is returned when a caller refers to a file-id the
// registry has never offered.
var ErrUnknownFile = errors.New("registry: unknown file-id")

// ErrSourceCorrupt is returned when a chunk read from disk does not match
// the hash recorded in its own manifest, meaning the source file on disk
// has changed or decayed since it was offered.
var ErrSourceCorrupt = errors.New("registry: source file no longer matches its manifest")

type offeredFile struct {
	manifest *chunk.Manifest
	path     string
}

// Registry owns the set of locally offered files. It is mutated only from
// the Manager's event loop, so it carries no internal locking.
type Registry struct {
	cache   *cache.Cache
	metrics *obsmetrics.Metrics
	files   map[chunk.FileID]offeredFile
}

// New constructs a Registry backed by the given chunk cache. metrics may
// be nil, in which case cache hits and misses go unrecorded.
func New(c *cache.Cache, metrics *obsmetrics.Metrics) *Registry {
	return &Registry{
		cache:   c,
		metrics: metrics,
		files:   make(map[chunk.FileID]offeredFile),
	}
}

// Offer builds a manifest for path and registers it, returning the
// resulting FileID. Re-offering a path already registered under the same
// content is idempotent: it yields the same FileID without disturbing the
// existing entry.
func (r *Registry) Offer(path string) (chunk.FileID, error) {
	if err := validation.ValidateFilePath(path, true); err != nil {
		return "", fmt.Errorf("registry: offer %s: %w", path, err)
	}
	m, err := chunk.Build(path)
	if err != nil {
		return "", fmt.Errorf("registry: offer %s: %w", path, err)
	}
	if _, exists := r.files[m.FileID]; !exists {
		r.files[m.FileID] = offeredFile{manifest: m, path: path}
	}
	return m.FileID, nil
}

// ManifestFor returns the manifest registered under id, if any.
func (r *Registry) ManifestFor(id chunk.FileID) (*chunk.Manifest, bool) {
	f, ok := r.files[id]
	if !ok {
		return nil, false
	}
	return f.manifest, true
}

// ReadChunk returns the bytes of the chunk at index for file id, consulting
// the cache first. On a miss it performs a bounded positional read from the
// source path, verifies the result against the manifest, and populates the
// cache before returning.
func (r *Registry) ReadChunk(id chunk.FileID, index uint32) ([]byte, error) {
	f, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, id)
	}

	if data, hit := r.cache.Get(id, index); hit {
		if r.metrics != nil {
			r.metrics.CacheHitsTotal.Inc()
		}
		return data, nil
	}
	if r.metrics != nil {
		r.metrics.CacheMissesTotal.Inc()
	}

	data, err := chunk.ReadAt(f.path, f.manifest, index)
	if err != nil {
		return nil, err
	}
	if !chunk.Verify(f.manifest, index, data) {
		return nil, fmt.Errorf("%w: file %s chunk %d", ErrSourceCorrupt, id, index)
	}

	r.cache.Put(id, index, data)
	return data, nil
}

// Files returns the FileIDs of every offered file, for broadcast on peer
// connect.
func (r *Registry) Files() []chunk.FileID {
	ids := make([]chunk.FileID, 0, len(r.files))
	for id := range r.files {
		ids = append(ids, id)
	}
	return ids
}
