package files

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/keldan/docq/internal/backend"
)

// ChunkFetcher retrieves a document's chunks from the backend.
// *backend.Client satisfies it.
type ChunkFetcher interface {
	FileChunks(ctx context.Context, fileID int64) ([]backend.Chunk, error)
}

// ChunkPersister is an optional durable layer under the in-memory cache.
// *chunkstore.Store satisfies it.
type ChunkPersister interface {
	ChunksFor(fileID int64) ([]backend.Chunk, error)
	SaveChunks(fileID int64, chunks []backend.Chunk) error
	DeleteChunks(fileID int64) error
}

// ChunkCache memoizes per-document chunk lists and drives the "show chunks
// for one file" toggle. Entries are only removed explicitly: chunks are
// immutable once a document is ingested, so staleness is not a concern.
//
// Invariants: at most one file id is displayed; an id is never both cached
// and in flight; concurrent fetches for the same id collapse into a single
// backend request while distinct ids proceed independently.
type ChunkCache struct {
	fetcher ChunkFetcher
	persist ChunkPersister
	store   *gocache.Cache
	group   singleflight.Group

	mu           sync.Mutex
	inflight     map[int64]struct{}
	displayed    int64
	hasDisplayed bool
}

// NewChunkCache creates a cache over fetcher. persist may be nil.
func NewChunkCache(fetcher ChunkFetcher, persist ChunkPersister) *ChunkCache {
	return &ChunkCache{
		fetcher:  fetcher,
		persist:  persist,
		store:    gocache.New(gocache.NoExpiration, 0),
		inflight: make(map[int64]struct{}),
	}
}

func cacheKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Chunks returns the cached chunk list for a file, if present.
func (cc *ChunkCache) Chunks(fileID int64) ([]backend.Chunk, bool) {
	v, ok := cc.store.Get(cacheKey(fileID))
	if !ok {
		return nil, false
	}
	return v.([]backend.Chunk), true
}

// Displayed returns the file id whose chunks are currently shown.
func (cc *ChunkCache) Displayed() (int64, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.displayed, cc.hasDisplayed
}

// Loading returns the ids with a fetch in flight, in ascending order.
func (cc *ChunkCache) Loading() []int64 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	out := make([]int64, 0, len(cc.inflight))
	for id := range cc.inflight {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FetchOrToggle shows or hides a file's chunks. A cached file toggles the
// displayed pointer (hide if it is already the one shown, show otherwise).
// An uncached file is fetched, cached, and shown; on failure nothing is
// cached and the displayed pointer is untouched, so a retry stays possible.
func (cc *ChunkCache) FetchOrToggle(ctx context.Context, fileID int64) error {
	if _, ok := cc.Chunks(fileID); ok {
		cc.toggleDisplayed(fileID)
		return nil
	}

	if cc.persist != nil {
		if chunks, err := cc.persist.ChunksFor(fileID); err == nil && len(chunks) > 0 {
			cc.store.Set(cacheKey(fileID), chunks, gocache.NoExpiration)
			cc.setDisplayed(fileID)
			return nil
		}
	}

	cc.markInflight(fileID)
	v, err, _ := cc.group.Do(cacheKey(fileID), func() (any, error) {
		return cc.fetcher.FileChunks(ctx, fileID)
	})
	// The id must leave the in-flight set before it can become cached.
	cc.unmarkInflight(fileID)
	if err != nil {
		return fmt.Errorf("fetching chunks for file %d: %w", fileID, err)
	}
	chunks := v.([]backend.Chunk)

	cc.store.Set(cacheKey(fileID), chunks, gocache.NoExpiration)
	if cc.persist != nil {
		if err := cc.persist.SaveChunks(fileID, chunks); err != nil {
			slog.Warn("persisting chunks failed", "file_id", fileID, "error", err)
		}
	}
	cc.setDisplayed(fileID)
	return nil
}

// Remove drops a file's chunks from both cache layers, hiding them first
// if they were displayed. Used when the document is deleted or re-ingested.
func (cc *ChunkCache) Remove(fileID int64) {
	cc.store.Delete(cacheKey(fileID))
	if cc.persist != nil {
		if err := cc.persist.DeleteChunks(fileID); err != nil {
			slog.Warn("deleting persisted chunks failed", "file_id", fileID, "error", err)
		}
	}
	cc.mu.Lock()
	if cc.hasDisplayed && cc.displayed == fileID {
		cc.hasDisplayed = false
	}
	cc.mu.Unlock()
}

func (cc *ChunkCache) toggleDisplayed(fileID int64) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.hasDisplayed && cc.displayed == fileID {
		cc.hasDisplayed = false
		return
	}
	cc.displayed = fileID
	cc.hasDisplayed = true
}

func (cc *ChunkCache) setDisplayed(fileID int64) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.displayed = fileID
	cc.hasDisplayed = true
}

func (cc *ChunkCache) markInflight(fileID int64) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.inflight[fileID] = struct{}{}
}

func (cc *ChunkCache) unmarkInflight(fileID int64) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.inflight, fileID)
}
