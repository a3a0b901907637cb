package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fastfollow-ai/followup-platform/internal/cache"
	"github.com/fastfollow-ai/followup-platform/internal/gateway"
	"github.com/fastfollow-ai/followup-platform/internal/model"
	"github.com/fastfollow-ai/followup-platform/pkg/logger"
)

// fakeGen is a scriptable gateway.Generator.
type fakeGen struct {
	answerFn func(ctx context.Context, question string) (string, error)
}

func (f *fakeGen) Answer(ctx context.Context, question string, _ []model.Turn) (string, error) {
	return f.answerFn(ctx, question)
}

func (f *fakeGen) Followups(ctx context.Context, question, answer string, _ []model.Turn, n int) ([]string, error) {
	return nil, nil
}

func candidates(n int) []model.FollowupCandidate {
	out := make([]model.FollowupCandidate, n)
	for i := range out {
		out[i] = model.FollowupCandidate{
			ID:       fmt.Sprintf("cand-%d", i),
			Question: fmt.Sprintf("question %d", i),
		}
	}
	return out
}

func waitAllDone(t *testing.T, layer *cache.Layer, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for _, entry := range layer.Entries() {
		select {
		case <-entry.Done():
		case <-deadline:
			t.Fatalf("Timed out waiting for entry %s", entry.ID())
		}
	}
}

func TestConcurrencyCapRespected(t *testing.T) {
	var inflight, maxInflight int64

	gen := &fakeGen{
		answerFn: func(ctx context.Context, question string) (string, error) {
			cur := atomic.AddInt64(&inflight, 1)
			for {
				observed := atomic.LoadInt64(&maxInflight)
				if cur <= observed || atomic.CompareAndSwapInt64(&maxInflight, observed, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&inflight, -1)
			return "answer to " + question, nil
		},
	}

	c := cache.New()
	s := New(gen, c, 3, 0, logger.NewNop())

	layer := c.Publish(0, candidates(10))
	s.Schedule(layer, nil)
	waitAllDone(t, layer, 5*time.Second)

	if got := atomic.LoadInt64(&maxInflight); got > 3 {
		t.Errorf("Expected at most 3 concurrent calls, observed %d", got)
	}
	for _, btn := range c.View().Buttons {
		if btn.State != model.EntryReady {
			t.Errorf("Expected %s ready, got %s", btn.ID, btn.State)
		}
	}
}

func TestTransientFailureRetriedOnce(t *testing.T) {
	var calls int64

	gen := &fakeGen{
		answerFn: func(ctx context.Context, question string) (string, error) {
			if atomic.AddInt64(&calls, 1) == 1 {
				return "", &gateway.GenerationError{Op: "answer", Transient: true, Err: errors.New("rate limited")}
			}
			return "recovered", nil
		},
	}

	c := cache.New()
	s := New(gen, c, 1, 1, logger.NewNop())

	layer := c.Publish(0, candidates(1))
	s.Schedule(layer, nil)
	waitAllDone(t, layer, 2*time.Second)

	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("Expected 2 calls (original + retry), got %d", got)
	}
	entry, _ := c.Get("cand-0")
	if answer, ready := entry.Answer(); !ready || answer != "recovered" {
		t.Errorf("Expected recovered answer, got ready=%v answer=%q", ready, answer)
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	var calls int64

	gen := &fakeGen{
		answerFn: func(ctx context.Context, question string) (string, error) {
			atomic.AddInt64(&calls, 1)
			return "", &gateway.GenerationError{Op: "answer", Transient: false, Err: errors.New("invalid request")}
		},
	}

	c := cache.New()
	s := New(gen, c, 1, 3, logger.NewNop())

	layer := c.Publish(0, candidates(1))
	s.Schedule(layer, nil)
	waitAllDone(t, layer, 2*time.Second)

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("Expected 1 call for permanent failure, got %d", got)
	}
	entry, _ := c.Get("cand-0")
	if entry.State() != model.EntryFailed {
		t.Errorf("Expected failed entry, got %s", entry.State())
	}
	if entry.Err() == nil {
		t.Error("Expected failure cause recorded")
	}
}

func TestFailedEntryDoesNotBlockOthers(t *testing.T) {
	gen := &fakeGen{
		answerFn: func(ctx context.Context, question string) (string, error) {
			if question == "question 1" {
				return "", errors.New("backend unavailable")
			}
			return "ok", nil
		},
	}

	c := cache.New()
	s := New(gen, c, 2, 0, logger.NewNop())

	layer := c.Publish(0, candidates(3))
	s.Schedule(layer, nil)
	waitAllDone(t, layer, 2*time.Second)

	want := map[string]model.EntryState{
		"cand-0": model.EntryReady,
		"cand-1": model.EntryFailed,
		"cand-2": model.EntryReady,
	}
	for _, btn := range c.View().Buttons {
		if btn.State != want[btn.ID] {
			t.Errorf("Expected %s for %s, got %s", want[btn.ID], btn.ID, btn.State)
		}
	}
}

func TestStaleResultsNeverReachNewLayer(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	started := 0

	// Simulates non-preemptible backend work: ignores cancellation and
	// returns a real answer after release. The commit-time token check is
	// the only thing standing between it and the new layer.
	gen := &fakeGen{
		answerFn: func(ctx context.Context, question string) (string, error) {
			mu.Lock()
			started++
			mu.Unlock()
			<-release
			return "late answer to " + question, nil
		},
	}

	c := cache.New()
	s := New(gen, c, 3, 0, logger.NewNop())

	stale := c.Publish(0, candidates(3))
	s.Schedule(stale, nil)

	// Wait until the workers are actually in flight.
	for i := 0; i < 100; i++ {
		mu.Lock()
		n := started
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Supersede, then let the stale work finish.
	fresh := c.Publish(1, candidates(2))
	close(release)
	time.Sleep(100 * time.Millisecond)

	for _, btn := range fresh.View().Buttons {
		if btn.State != model.EntryPending {
			t.Errorf("Expected fresh entry %s untouched, got %s", btn.ID, btn.State)
		}
	}
	for _, entry := range stale.Entries() {
		if _, ready := entry.Answer(); ready {
			t.Errorf("Expected stale entry %s to stay uncommitted", entry.ID())
		}
	}
}

func TestCancelledLayerStopsQueuedWork(t *testing.T) {
	var calls int64

	gen := &fakeGen{
		answerFn: func(ctx context.Context, question string) (string, error) {
			atomic.AddInt64(&calls, 1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(50 * time.Millisecond):
				return "ok", nil
			}
		},
	}

	c := cache.New()
	s := New(gen, c, 1, 0, logger.NewNop())

	layer := c.Publish(0, candidates(5))
	s.Schedule(layer, nil)

	time.Sleep(10 * time.Millisecond)
	c.Invalidate()
	time.Sleep(200 * time.Millisecond)

	// With cap 1, at most the in-flight call plus one queued pickup run;
	// the rest must be skipped outright.
	if got := atomic.LoadInt64(&calls); got > 2 {
		t.Errorf("Expected queued work to be skipped after cancellation, got %d calls", got)
	}
}
