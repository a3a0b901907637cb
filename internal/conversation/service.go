package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastfollow-ai/followup-platform/internal/gateway"
	"github.com/fastfollow-ai/followup-platform/internal/model"
	"github.com/fastfollow-ai/followup-platform/pkg/logger"
	"github.com/fastfollow-ai/followup-platform/pkg/metrics"
)

// ErrSessionNotFound is returned for unknown, deleted or foreign sessions.
var ErrSessionNotFound = errors.New("session not found")

// SessionService manages chat sessions and their controllers.
type SessionService struct {
	gen    gateway.Generator
	sink   EventSink
	cfg    Config
	logger *logger.Logger

	// In-memory storage; the cache and conversation are process-local by
	// design and reset on restart.
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

type sessionState struct {
	session    *model.Session
	controller *Controller
}

// NewSessionService creates a new session service.
func NewSessionService(gen gateway.Generator, sink EventSink, cfg Config, log *logger.Logger) *SessionService {
	return &SessionService{
		gen:      gen,
		sink:     sink,
		cfg:      cfg,
		logger:   log,
		sessions: make(map[string]*sessionState),
	}
}

// Create creates a new session with its own controller.
func (s *SessionService) Create(ctx context.Context, tenantID, userID string, req *model.CreateSessionRequest) (*model.Session, error) {
	now := time.Now()

	sess := &model.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctrl := NewController(tenantID, sess.ID, s.gen, s.sink, s.cfg, s.logger)

	s.mu.Lock()
	s.sessions[sess.ID] = &sessionState{session: sess, controller: ctrl}
	s.mu.Unlock()

	metrics.SessionsTotal.WithLabelValues(tenantID).Inc()
	s.logger.Info("session created", "session_id", sess.ID, "tenant_id", tenantID)

	return sess, nil
}

// Get retrieves a session by ID.
func (s *SessionService) Get(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	state, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	sess := *state.session
	sess.TurnCount = len(state.controller.History())
	return &sess, nil
}

// Controller returns the controller for a session.
func (s *SessionService) Controller(tenantID, sessionID string) (*Controller, error) {
	state, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return state.controller, nil
}

// List retrieves sessions for a tenant, newest first.
func (s *SessionService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListSessionsResponse, error) {
	s.mu.RLock()
	var sessions []model.Session
	for _, state := range s.sessions {
		if state.session.TenantID == tenantID && !state.session.Deleted {
			sess := *state.session
			sess.TurnCount = len(state.controller.History())
			sessions = append(sessions, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	// Simple pagination
	total := len(sessions)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &model.ListSessionsResponse{
		Sessions: sessions[start:end],
		Total:    total,
		HasMore:  end < total,
	}, nil
}

// Delete soft deletes a session and cancels its speculative work.
func (s *SessionService) Delete(ctx context.Context, tenantID, sessionID string) error {
	state, err := s.lookup(tenantID, sessionID)
	if err != nil {
		return err
	}

	state.controller.Reset(ctx)

	s.mu.Lock()
	state.session.Deleted = true
	state.session.UpdatedAt = time.Now()
	s.mu.Unlock()

	return nil
}

func (s *SessionService) lookup(tenantID, sessionID string) (*sessionState, error) {
	s.mu.RLock()
	state, exists := s.sessions[sessionID]
	s.mu.RUnlock()

	if !exists || state.session.Deleted || state.session.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	return state, nil
}
