// Package cache holds the single live layer of precomputed follow-up
// answers for a session. A layer is identified by a monotonically
// increasing generation token; publishing a new layer supersedes the
// previous one and cancels its in-flight work. Background results are
// committed only if their layer is still current, so stale work is
// silently discarded rather than interrupted.
package cache

import (
	"errors"
	"sync"

	"github.com/fastfollow-ai/followup-platform/internal/model"
	"github.com/fastfollow-ai/followup-platform/pkg/metrics"
)

var (
	// ErrNotFound is returned when a candidate id is not in the live layer.
	ErrNotFound = errors.New("candidate not found in live layer")

	// ErrStaleWrite is returned when a result arrives for a superseded
	// layer. Not user-visible; callers drop the result and move on.
	ErrStaleWrite = errors.New("stale write discarded: layer superseded")
)

// Cache is the single source of truth for what is currently precomputed.
// It is safe for concurrent use by one publisher (the controller), many
// writers (scheduler workers) and many readers (UI polling).
type Cache struct {
	mu        sync.RWMutex
	current   *Layer
	nextToken uint64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{}
}

// Publish supersedes the live layer (cancelling its in-flight work) and
// installs a fresh empty layer with Pending entries for the given
// candidates. The swap is atomic with respect to concurrent reads.
func (c *Cache) Publish(turnIndex int, candidates []model.FollowupCandidate) *Layer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.cancel()
	}

	c.nextToken++
	layer := newLayer(c.nextToken, turnIndex, candidates)
	c.current = layer

	metrics.LayersPublished.Inc()
	return layer
}

// Invalidate supersedes the live layer without publishing a successor.
// Used when a follow-up is selected: siblings become moot immediately,
// before the next layer's candidates are even known.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.cancel()
		c.current = nil
	}
}

// Get looks up an entry by candidate id in the live layer only. Ids from
// superseded layers return ErrNotFound.
func (c *Cache) Get(candidateID string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return nil, ErrNotFound
	}
	entry, ok := c.current.byID[candidateID]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Current returns the live layer, or nil if none is published.
func (c *Cache) Current() *Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// View returns a snapshot of the live layer's button states, or nil.
func (c *Cache) View() *model.LayerView {
	c.mu.RLock()
	layer := c.current
	c.mu.RUnlock()

	if layer == nil {
		return nil
	}
	return layer.View()
}

// CommitReady records a computed answer for an entry, provided the entry's
// layer is still live. Returns ErrStaleWrite otherwise.
func (c *Cache) CommitReady(layer *Layer, candidateID, answer string) error {
	c.mu.RLock()
	live := c.current == layer
	c.mu.RUnlock()

	if !live {
		metrics.StaleWritesDiscarded.Inc()
		return ErrStaleWrite
	}

	if entry, ok := layer.byID[candidateID]; ok {
		entry.markReady(answer)
		metrics.LayerEntriesCompleted.WithLabelValues("ready").Inc()
	}
	return nil
}

// CommitFailed records a failure for an entry, provided the entry's layer
// is still live. Returns ErrStaleWrite otherwise.
func (c *Cache) CommitFailed(layer *Layer, candidateID string, cause error) error {
	c.mu.RLock()
	live := c.current == layer
	c.mu.RUnlock()

	if !live {
		metrics.StaleWritesDiscarded.Inc()
		return ErrStaleWrite
	}

	if entry, ok := layer.byID[candidateID]; ok {
		entry.markFailed(cause)
		metrics.LayerEntriesCompleted.WithLabelValues("failed").Inc()
	}
	return nil
}
