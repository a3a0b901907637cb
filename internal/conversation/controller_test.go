package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fastfollow-ai/followup-platform/internal/cache"
	"github.com/fastfollow-ai/followup-platform/internal/model"
	"github.com/fastfollow-ai/followup-platform/pkg/logger"
)

// fakeGen scripts the generation backend. Answers default to "ans:" +
// question; per-question first calls can be blocked (until cancellation),
// delayed or failed to exercise the pending/failed selection paths.
type fakeGen struct {
	mu         sync.Mutex
	seen       map[string]int
	followups  [][]string
	blockFirst map[string]bool
	delayFirst map[string]time.Duration
	failFirst  map[string]bool
}

func newFakeGen(followups ...[]string) *fakeGen {
	return &fakeGen{
		seen:       make(map[string]int),
		followups:  followups,
		blockFirst: make(map[string]bool),
		delayFirst: make(map[string]time.Duration),
		failFirst:  make(map[string]bool),
	}
}

func (f *fakeGen) Answer(ctx context.Context, question string, _ []model.Turn) (string, error) {
	f.mu.Lock()
	f.seen[question]++
	call := f.seen[question]
	block := f.blockFirst[question] && call == 1
	delay := f.delayFirst[question]
	fail := f.failFirst[question] && call == 1
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if delay > 0 && call == 1 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	if fail {
		return "", errors.New("backend rejected request")
	}
	return "ans:" + question, nil
}

func (f *fakeGen) Followups(ctx context.Context, question, answer string, _ []model.Turn, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.followups) == 0 {
		return nil, nil
	}
	out := f.followups[0]
	f.followups = f.followups[1:]
	return out, nil
}

func (f *fakeGen) answerCalls(question string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[question]
}

func newTestController(gen *fakeGen, deadline time.Duration) *Controller {
	return NewController("tenant-1", "session-1", gen, NopSink{}, Config{
		Concurrency:       3,
		Fanout:            4,
		EntryWaitDeadline: deadline,
		Retries:           0,
	}, logger.NewNop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for condition")
}

func allReady(view *model.LayerView) bool {
	if view == nil || len(view.Buttons) == 0 {
		return false
	}
	for _, btn := range view.Buttons {
		if btn.State != model.EntryReady {
			return false
		}
	}
	return true
}

func TestAskProducesTurnAndLayer(t *testing.T) {
	gen := newFakeGen([]string{"F1", "F2", "F3"})
	ctrl := newTestController(gen, time.Second)

	turn, layer, err := ctrl.Ask(context.Background(), "Q")
	if err != nil {
		t.Fatalf("Expected ask to succeed, got %v", err)
	}
	if turn.Index != 0 || turn.Answer != "ans:Q" {
		t.Errorf("Unexpected turn: %+v", turn)
	}
	if len(layer.Buttons) != 3 {
		t.Fatalf("Expected 3 buttons, got %d", len(layer.Buttons))
	}
	if ctrl.State() != StateLayerReady {
		t.Errorf("Expected layer_ready, got %s", ctrl.State())
	}

	waitFor(t, 2*time.Second, func() bool { return allReady(ctrl.LayerView()) })
}

func TestSelectReadyServedFromCacheWithoutBackendCall(t *testing.T) {
	gen := newFakeGen([]string{"F1", "F2", "F3"})
	ctrl := newTestController(gen, time.Second)

	_, layer, err := ctrl.Ask(context.Background(), "Q")
	if err != nil {
		t.Fatalf("Expected ask to succeed, got %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return allReady(ctrl.LayerView()) })

	turn, source, _, err := ctrl.Select(context.Background(), layer.Buttons[0].ID, "")
	if err != nil {
		t.Fatalf("Expected select to succeed, got %v", err)
	}
	if source != model.ServedFromCache {
		t.Errorf("Expected cache serve, got %s", source)
	}
	if turn.Question != "F1" || turn.Answer != "ans:F1" {
		t.Errorf("Unexpected turn: %+v", turn)
	}
	// One speculative call during precompute, none at selection.
	if calls := gen.answerCalls("F1"); calls != 1 {
		t.Errorf("Expected exactly 1 backend call for F1, got %d", calls)
	}
}

func TestSelectPendingWaitsWithinDeadline(t *testing.T) {
	gen := newFakeGen([]string{"F1"})
	gen.delayFirst["F1"] = 30 * time.Millisecond
	ctrl := newTestController(gen, time.Second)

	_, layer, err := ctrl.Ask(context.Background(), "Q")
	if err != nil {
		t.Fatalf("Expected ask to succeed, got %v", err)
	}

	turn, source, _, err := ctrl.Select(context.Background(), layer.Buttons[0].ID, "")
	if err != nil {
		t.Fatalf("Expected select to succeed, got %v", err)
	}
	if source != model.ServedAfterWait && source != model.ServedFromCache {
		t.Errorf("Expected waited/cache serve, got %s", source)
	}
	if turn.Answer != "ans:F1" {
		t.Errorf("Expected precomputed answer, got %q", turn.Answer)
	}
}

func TestSelectPendingFallsBackAfterDeadline(t *testing.T) {
	gen := newFakeGen([]string{"F1"})
	gen.blockFirst["F1"] = true
	ctrl := newTestController(gen, 50*time.Millisecond)

	_, layer, err := ctrl.Ask(context.Background(), "Q")
	if err != nil {
		t.Fatalf("Expected ask to succeed, got %v", err)
	}

	turn, source, _, err := ctrl.Select(context.Background(), layer.Buttons[0].ID, "")
	if err != nil {
		t.Fatalf("Expected fallback select to succeed, got %v", err)
	}
	if source != model.ServedFallback {
		t.Errorf("Expected fallback serve, got %s", source)
	}
	if turn.Answer != "ans:F1" {
		t.Errorf("Expected on-demand answer, got %q", turn.Answer)
	}
	if calls := gen.answerCalls("F1"); calls != 2 {
		t.Errorf("Expected blocked speculative call plus fallback, got %d calls", calls)
	}
}

func TestSelectFailedFallsBack(t *testing.T) {
	gen := newFakeGen([]string{"F1"})
	gen.failFirst["F1"] = true
	ctrl := newTestController(gen, time.Second)

	_, layer, err := ctrl.Ask(context.Background(), "Q")
	if err != nil {
		t.Fatalf("Expected ask to succeed, got %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		view := ctrl.LayerView()
		return view != nil && len(view.Buttons) == 1 && view.Buttons[0].State == model.EntryFailed
	})

	turn, source, _, err := ctrl.Select(context.Background(), layer.Buttons[0].ID, "")
	if err != nil {
		t.Fatalf("Expected fallback select to succeed, got %v", err)
	}
	if source != model.ServedFallback {
		t.Errorf("Expected fallback serve, got %s", source)
	}
	if turn.Answer != "ans:F1" {
		t.Errorf("Expected on-demand answer, got %q", turn.Answer)
	}
}

func TestSelectUnknownID(t *testing.T) {
	gen := newFakeGen([]string{})
	ctrl := newTestController(gen, time.Second)

	if _, _, err := ctrl.Ask(context.Background(), "Q"); err != nil {
		t.Fatalf("Expected ask to succeed, got %v", err)
	}

	// Without a question hint there is nothing to fall back to.
	if _, _, _, err := ctrl.Select(context.Background(), "unknown-id", ""); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// With the button label the controller recovers on demand.
	turn, source, _, err := ctrl.Select(context.Background(), "unknown-id", "What about X?")
	if err != nil {
		t.Fatalf("Expected hint select to succeed, got %v", err)
	}
	if source != model.ServedFallback {
		t.Errorf("Expected fallback serve, got %s", source)
	}
	if turn.Question != "What about X?" {
		t.Errorf("Expected hint as question, got %q", turn.Question)
	}
}

func TestSelectRotatesToNextLayerAndDiscardsSiblings(t *testing.T) {
	gen := newFakeGen([]string{"A", "B", "C"}, []string{"N1", "N2"})
	gen.blockFirst["B"] = true
	gen.blockFirst["C"] = true
	ctrl := newTestController(gen, time.Second)

	_, layer, err := ctrl.Ask(context.Background(), "Q")
	if err != nil {
		t.Fatalf("Expected ask to succeed, got %v", err)
	}
	firstToken := layer.Token

	var selected model.ButtonState
	for _, btn := range layer.Buttons {
		if btn.Label == "A" {
			selected = btn
		}
	}
	waitFor(t, 2*time.Second, func() bool {
		view := ctrl.LayerView()
		if view == nil {
			return false
		}
		for _, btn := range view.Buttons {
			if btn.ID == selected.ID && btn.State == model.EntryReady {
				return true
			}
		}
		return false
	})

	turn, source, _, err := ctrl.Select(context.Background(), selected.ID, "")
	if err != nil {
		t.Fatalf("Expected select to succeed, got %v", err)
	}
	if source != model.ServedFromCache || turn.Answer != "ans:A" {
		t.Errorf("Expected cached A, got source=%s answer=%q", source, turn.Answer)
	}

	// The rotation publishes a fresh layer; B and C's ids must be gone
	// and their cancelled work must not leak into it.
	waitFor(t, 2*time.Second, func() bool {
		view := ctrl.LayerView()
		return view != nil && view.Token > firstToken && len(view.Buttons) == 2
	})

	view := ctrl.LayerView()
	labels := map[string]bool{}
	for _, btn := range view.Buttons {
		labels[btn.Label] = true
	}
	if !labels["N1"] || !labels["N2"] || len(labels) != 2 {
		t.Errorf("Expected next-layer candidates N1/N2, got %v", labels)
	}

	// Sibling ids from the consumed layer are NotFound now.
	for _, btn := range layer.Buttons {
		if btn.ID == selected.ID {
			continue
		}
		if _, _, _, err := ctrl.Select(context.Background(), btn.ID, ""); !errors.Is(err, cache.ErrNotFound) {
			t.Errorf("Expected stale sibling %s to be NotFound, got %v", btn.Label, err)
		}
	}
}

func TestAskFailureSurfacesAndPreservesState(t *testing.T) {
	gen := newFakeGen()
	gen.failFirst["Q"] = true
	ctrl := newTestController(gen, time.Second)

	if _, _, err := ctrl.Ask(context.Background(), "Q"); err == nil {
		t.Fatal("Expected ask to surface the backend error")
	}
	if ctrl.State() != StateIdle {
		t.Errorf("Expected idle after failed first ask, got %s", ctrl.State())
	}
	if len(ctrl.History()) != 0 {
		t.Error("Expected no turn appended on failure")
	}
}

func TestFollowupProposalFailureDegradesGracefully(t *testing.T) {
	// No scripted follow-ups: the proposer returns an empty list, which
	// must degrade to an empty layer, not an error.
	gen := newFakeGen()
	ctrl := newTestController(gen, time.Second)

	turn, layer, err := ctrl.Ask(context.Background(), "Q")
	if err != nil {
		t.Fatalf("Expected ask to succeed, got %v", err)
	}
	if turn.Answer != "ans:Q" {
		t.Errorf("Unexpected answer %q", turn.Answer)
	}
	if len(layer.Buttons) != 0 {
		t.Errorf("Expected empty layer, got %d buttons", len(layer.Buttons))
	}
}

func TestResetClearsConversation(t *testing.T) {
	gen := newFakeGen([]string{"F1"})
	ctrl := newTestController(gen, time.Second)

	if _, _, err := ctrl.Ask(context.Background(), "Q"); err != nil {
		t.Fatalf("Expected ask to succeed, got %v", err)
	}

	ctrl.Reset(context.Background())

	if ctrl.State() != StateIdle {
		t.Errorf("Expected idle after reset, got %s", ctrl.State())
	}
	if len(ctrl.History()) != 0 {
		t.Error("Expected empty history after reset")
	}
	if ctrl.LayerView() != nil {
		t.Error("Expected no live layer after reset")
	}
}
