// Package scheduler fans out speculative answer generation for a layer's
// candidates, bounded by a concurrency cap. Work is scoped to the layer's
// cancellation context; results for superseded layers are discarded at
// commit time.
package scheduler

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/fastfollow-ai/followup-platform/internal/cache"
	"github.com/fastfollow-ai/followup-platform/internal/gateway"
	"github.com/fastfollow-ai/followup-platform/internal/model"
	"github.com/fastfollow-ai/followup-platform/pkg/logger"
)

// Scheduler populates layers in the background.
type Scheduler struct {
	gen         gateway.Generator
	cache       *cache.Cache
	concurrency int
	retries     int
	logger      *logger.Logger

	// onEntry fires after an entry commit succeeds, for render events.
	onEntry func(layer *cache.Layer, button model.ButtonState)
}

// New creates a scheduler. concurrency caps simultaneous gateway calls per
// layer; retries is the per-entry retry count for transient failures.
func New(gen gateway.Generator, c *cache.Cache, concurrency, retries int, log *logger.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	if retries < 0 {
		retries = 0
	}
	return &Scheduler{
		gen:         gen,
		cache:       c,
		concurrency: concurrency,
		retries:     retries,
		logger:      log,
	}
}

// OnEntryComplete registers a callback invoked for each committed entry.
func (s *Scheduler) OnEntryComplete(fn func(layer *cache.Layer, button model.ButtonState)) {
	s.onEntry = fn
}

// Schedule kicks off background population of the layer and returns
// immediately. Entries become individually usable as they complete; the
// layer is never waited on as a whole.
func (s *Scheduler) Schedule(layer *cache.Layer, history []model.Turn) {
	go s.run(layer, history)
}

func (s *Scheduler) run(layer *cache.Layer, history []model.Turn) {
	ctx := layer.Context()

	var group errgroup.Group
	group.SetLimit(s.concurrency)

	for _, entry := range layer.Entries() {
		entry := entry
		group.Go(func() error {
			s.populate(ctx, layer, entry, history)
			return nil
		})
	}

	_ = group.Wait()
	s.logger.Debug("layer population finished", "token", layer.Token())
}

func (s *Scheduler) populate(ctx context.Context, layer *cache.Layer, entry *cache.Entry, history []model.Turn) {
	// Queued work for a superseded layer is skipped outright.
	if ctx.Err() != nil {
		return
	}

	answer, err := s.answerWithRetry(ctx, entry.Question(), history)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight by supersession, not a real failure.
			return
		}
		if commitErr := s.cache.CommitFailed(layer, entry.ID(), err); errors.Is(commitErr, cache.ErrStaleWrite) {
			s.logger.Debug("stale failure discarded", "token", layer.Token(), "candidate_id", entry.ID())
			return
		}
		s.logger.Warn("speculative answer failed",
			"token", layer.Token(),
			"candidate_id", entry.ID(),
			"error", err,
		)
		s.notify(layer, entry)
		return
	}

	if commitErr := s.cache.CommitReady(layer, entry.ID(), answer); errors.Is(commitErr, cache.ErrStaleWrite) {
		s.logger.Debug("stale result discarded", "token", layer.Token(), "candidate_id", entry.ID())
		return
	}
	s.notify(layer, entry)
}

func (s *Scheduler) answerWithRetry(ctx context.Context, question string, history []model.Turn) (string, error) {
	attempts := s.retries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		answer, err := s.gen.Answer(ctx, question, history)
		if err == nil {
			return answer, nil
		}
		lastErr = err

		if !gateway.IsTransient(err) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (s *Scheduler) notify(layer *cache.Layer, entry *cache.Entry) {
	if s.onEntry != nil {
		s.onEntry(layer, entry.Button())
	}
}
