// Package conversation orchestrates turn-taking: synchronous answers for
// the question the user is waiting on, speculative background layers for
// the follow-ups they might pick next.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastfollow-ai/followup-platform/internal/cache"
	"github.com/fastfollow-ai/followup-platform/internal/gateway"
	"github.com/fastfollow-ai/followup-platform/internal/model"
	"github.com/fastfollow-ai/followup-platform/internal/scheduler"
	"github.com/fastfollow-ai/followup-platform/pkg/logger"
	"github.com/fastfollow-ai/followup-platform/pkg/metrics"
)

// State is the controller's position in the turn-taking loop.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingAnswer State = "awaiting_answer"
	StateLayerReady     State = "layer_ready"
	StateSelecting      State = "selecting"
)

// Config holds the speculation policy knobs.
type Config struct {
	// Concurrency caps simultaneous backend calls per layer.
	Concurrency int
	// Fanout is how many follow-up candidates each layer carries.
	Fanout int
	// EntryWaitDeadline bounds how long a select waits on a Pending entry
	// before falling back to a synchronous answer.
	EntryWaitDeadline time.Duration
	// Retries is the per-entry retry count for transient backend failures.
	Retries int
}

// Controller runs one session's conversation. User-initiated operations
// (Ask, Select, Reset) are serialized; layer reads never block them.
type Controller struct {
	tenantID  string
	sessionID string

	gen   gateway.Generator
	cache *cache.Cache
	sched *scheduler.Scheduler
	sink  EventSink
	cfg   Config
	log   *logger.Logger

	// opMu serializes user-initiated operations end to end.
	opMu sync.Mutex
	// mu guards turns and state.
	mu    sync.Mutex
	turns []model.Turn
	state State
}

// NewController creates a controller with its own layer cache and scheduler.
func NewController(tenantID, sessionID string, gen gateway.Generator, sink EventSink, cfg Config, log *logger.Logger) *Controller {
	if cfg.Fanout < 1 {
		cfg.Fanout = 4
	}
	if cfg.EntryWaitDeadline <= 0 {
		cfg.EntryWaitDeadline = 2 * time.Second
	}
	if sink == nil {
		sink = NopSink{}
	}

	layerCache := cache.New()

	c := &Controller{
		tenantID:  tenantID,
		sessionID: sessionID,
		gen:       gen,
		cache:     layerCache,
		sink:      sink,
		cfg:       cfg,
		log:       log.WithSession(tenantID, sessionID),
		state:     StateIdle,
	}
	c.sched = scheduler.New(gen, layerCache, cfg.Concurrency, cfg.Retries, c.log)
	c.sched.OnEntryComplete(c.entryCompleted)

	return c
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a copy of the conversation turns.
func (c *Controller) History() []model.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// LayerView snapshots the live layer's button states, or nil if none.
func (c *Controller) LayerView() *model.LayerView {
	return c.cache.View()
}

// Ask handles a new top-level question. The main answer is computed
// synchronously (the one latency the user always pays); follow-up
// candidates are proposed, published as a fresh layer and precomputed in
// the background. A follow-up proposal failure degrades to an empty layer
// and is never fatal to the visible conversation.
func (c *Controller) Ask(ctx context.Context, question string) (*model.Turn, *model.LayerView, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.setState(StateAwaitingAnswer)
	history := c.History()

	answer, err := c.gen.Answer(ctx, question, history)
	if err != nil {
		c.restoreState()
		return nil, nil, err
	}

	turn := c.appendTurn(ctx, question, answer)

	candidates, err := c.proposeCandidates(ctx, question, answer, history, turn.Index)
	if err != nil {
		c.log.Warn("follow-up proposal failed, layer degrades to empty", "error", err)
	}

	layer := c.publishAndSchedule(ctx, turn.Index, candidates)
	c.setState(StateLayerReady)

	return turn, layer.View(), nil
}

// Select handles a follow-up button pick. A Ready entry is served straight
// from the cache with no backend call. A Pending entry is waited on up to
// the configured deadline. Failed, timed-out or unknown entries fall back
// to a synchronous on-demand answer so the user is never stuck; an unknown
// id additionally needs the question hint (the button label) to recover.
func (c *Controller) Select(ctx context.Context, candidateID, questionHint string) (*model.Turn, model.ServeSource, *model.LayerView, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	question := questionHint
	var answer string
	var source model.ServeSource

	entry, err := c.cache.Get(candidateID)
	if err == nil {
		question = entry.Question()
		answer, source, err = c.resolveEntry(ctx, entry)
	} else if question == "" {
		return nil, "", nil, cache.ErrNotFound
	} else {
		answer, source, err = "", model.ServedFallback, nil
	}
	if err != nil {
		return nil, "", nil, err
	}

	c.setState(StateSelecting)

	// Siblings are moot the moment a pick lands; cancel them before any
	// slow fallback or rotation work starts.
	c.cache.Invalidate()
	c.publishEvent(ctx, &model.RenderEvent{Type: model.EventLayerSuperseded})

	if source == model.ServedFallback {
		history := c.History()
		answer, err = c.gen.Answer(ctx, question, history)
		if err != nil {
			c.restoreState()
			return nil, "", nil, err
		}
	}

	metrics.SelectsServed.WithLabelValues(string(source)).Inc()

	turn := c.appendTurn(ctx, question, answer)
	c.setState(StateAwaitingAnswer)

	// Rotate to the next layer off the user's path: propose follow-ups for
	// the answer just served, then publish and precompute them.
	go c.rotate(question, answer, c.History(), turn.Index)

	c.setState(StateLayerReady)
	return turn, source, c.cache.View(), nil
}

// Reset clears the conversation and cancels all speculative work.
func (c *Controller) Reset(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.cache.Invalidate()
	c.publishEvent(ctx, &model.RenderEvent{Type: model.EventLayerSuperseded})

	c.mu.Lock()
	c.turns = nil
	c.state = StateIdle
	c.mu.Unlock()
}

// resolveEntry turns a live entry into an answer and serve source. The
// fallback source means the caller still has to compute the answer.
func (c *Controller) resolveEntry(ctx context.Context, entry *cache.Entry) (string, model.ServeSource, error) {
	switch entry.State() {
	case model.EntryReady:
		answer, _ := entry.Answer()
		return answer, model.ServedFromCache, nil

	case model.EntryFailed:
		return "", model.ServedFallback, nil

	default:
		timer := time.NewTimer(c.cfg.EntryWaitDeadline)
		defer timer.Stop()

		select {
		case <-entry.Done():
			if answer, ok := entry.Answer(); ok {
				return answer, model.ServedAfterWait, nil
			}
			return "", model.ServedFallback, nil
		case <-timer.C:
			return "", model.ServedFallback, nil
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

// rotate builds the next layer after a selection. It runs off the request
// path; if another user action landed in the meantime, the rotation is
// dropped rather than publishing a layer for a stale turn.
func (c *Controller) rotate(question, answer string, history []model.Turn, turnIndex int) {
	ctx := context.Background()

	followups, err := c.gen.Followups(ctx, question, answer, history, c.cfg.Fanout)
	if err != nil {
		c.log.Warn("next-layer proposal failed", "turn_index", turnIndex, "error", err)
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	current := len(c.turns) - 1
	c.mu.Unlock()
	if current != turnIndex {
		c.log.Debug("rotation superseded by newer turn", "turn_index", turnIndex)
		return
	}

	candidates := c.makeCandidates(followups, turnIndex)
	c.publishAndSchedule(ctx, turnIndex, candidates)
}

func (c *Controller) proposeCandidates(ctx context.Context, question, answer string, history []model.Turn, turnIndex int) ([]model.FollowupCandidate, error) {
	followups, err := c.gen.Followups(ctx, question, answer, history, c.cfg.Fanout)
	if err != nil {
		return nil, err
	}
	return c.makeCandidates(followups, turnIndex), nil
}

func (c *Controller) makeCandidates(questions []string, turnIndex int) []model.FollowupCandidate {
	candidates := make([]model.FollowupCandidate, 0, len(questions))
	for _, q := range questions {
		candidates = append(candidates, model.FollowupCandidate{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Question:  q,
			TurnIndex: turnIndex,
		})
	}
	return candidates
}

func (c *Controller) publishAndSchedule(ctx context.Context, turnIndex int, candidates []model.FollowupCandidate) *cache.Layer {
	layer := c.cache.Publish(turnIndex, candidates)
	c.publishEvent(ctx, &model.RenderEvent{
		Type:  model.EventLayerPublished,
		Layer: layer.View(),
	})

	c.sched.Schedule(layer, c.History())
	return layer
}

func (c *Controller) appendTurn(ctx context.Context, question, answer string) *model.Turn {
	c.mu.Lock()
	turn := model.Turn{
		Index:     len(c.turns),
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now(),
	}
	c.turns = append(c.turns, turn)
	c.mu.Unlock()

	metrics.TurnsTotal.WithLabelValues(c.tenantID).Inc()
	c.publishEvent(ctx, &model.RenderEvent{
		Type: model.EventTurnCreated,
		Turn: &turn,
	})

	return &turn
}

func (c *Controller) entryCompleted(layer *cache.Layer, button model.ButtonState) {
	c.publishEvent(context.Background(), &model.RenderEvent{
		Type:   model.EventEntryCompleted,
		Layer:  &model.LayerView{Token: layer.Token(), TurnIndex: layer.TurnIndex()},
		Button: &button,
	})
}

func (c *Controller) publishEvent(ctx context.Context, event *model.RenderEvent) {
	event.ID = uuid.Must(uuid.NewV7()).String()
	event.TenantID = c.tenantID
	event.SessionID = c.sessionID
	event.CreatedAt = time.Now()
	c.sink.Publish(ctx, event)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// restoreState rolls back after a failed synchronous call: LayerReady if a
// layer exists or any turn was taken, Idle otherwise.
func (c *Controller) restoreState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) > 0 {
		c.state = StateLayerReady
	} else {
		c.state = StateIdle
	}
}
