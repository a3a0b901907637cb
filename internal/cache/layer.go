package cache

import (
	"context"
	"sync"

	"github.com/fastfollow-ai/followup-platform/internal/model"
)

// Layer is one generation of precomputed follow-up entries. Entries are
// created Pending and transition to Ready or Failed exactly once.
type Layer struct {
	token     uint64
	turnIndex int

	ctx    context.Context
	cancel context.CancelFunc

	entries []*Entry
	byID    map[string]*Entry
}

func newLayer(token uint64, turnIndex int, candidates []model.FollowupCandidate) *Layer {
	ctx, cancel := context.WithCancel(context.Background())

	layer := &Layer{
		token:     token,
		turnIndex: turnIndex,
		ctx:       ctx,
		cancel:    cancel,
		byID:      make(map[string]*Entry, len(candidates)),
	}

	for _, cand := range candidates {
		entry := &Entry{
			id:       cand.ID,
			question: cand.Question,
			state:    model.EntryPending,
			done:     make(chan struct{}),
		}
		layer.entries = append(layer.entries, entry)
		layer.byID[cand.ID] = entry
	}

	return layer
}

// Token returns the layer's generation token.
func (l *Layer) Token() uint64 {
	return l.token
}

// TurnIndex returns the turn this layer's buttons belong to.
func (l *Layer) TurnIndex() int {
	return l.turnIndex
}

// Context is cancelled when the layer is superseded. Scheduler workers
// derive their gateway calls from it.
func (l *Layer) Context() context.Context {
	return l.ctx
}

// Entries returns the layer's entries in candidate order.
func (l *Layer) Entries() []*Entry {
	return l.entries
}

// View snapshots the layer's button states for rendering.
func (l *Layer) View() *model.LayerView {
	view := &model.LayerView{
		Token:     l.token,
		TurnIndex: l.turnIndex,
		Buttons:   make([]model.ButtonState, 0, len(l.entries)),
	}
	for _, entry := range l.entries {
		view.Buttons = append(view.Buttons, entry.Button())
	}
	return view
}

// Entry is the precomputed result for one follow-up candidate.
type Entry struct {
	id       string
	question string

	mu     sync.RWMutex
	state  model.EntryState
	answer string
	err    error

	// done is closed when the entry leaves Pending. Selections on a
	// Pending entry wait on it with a deadline.
	done chan struct{}
}

// ID returns the candidate id.
func (e *Entry) ID() string {
	return e.id
}

// Question returns the candidate question text.
func (e *Entry) Question() string {
	return e.question
}

// State returns the entry's current lifecycle state.
func (e *Entry) State() model.EntryState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Answer returns the precomputed answer and whether the entry is Ready.
func (e *Entry) Answer() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.answer, e.state == model.EntryReady
}

// Err returns the recorded failure cause, if any.
func (e *Entry) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// Done is closed once the entry is Ready or Failed.
func (e *Entry) Done() <-chan struct{} {
	return e.done
}

// Button renders the entry as a UI button state.
func (e *Entry) Button() model.ButtonState {
	return model.ButtonState{
		ID:    e.id,
		Label: e.question,
		State: e.State(),
	}
}

func (e *Entry) markReady(answer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != model.EntryPending {
		return
	}
	e.state = model.EntryReady
	e.answer = answer
	close(e.done)
}

func (e *Entry) markFailed(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != model.EntryPending {
		return
	}
	e.state = model.EntryFailed
	e.err = cause
	close(e.done)
}
