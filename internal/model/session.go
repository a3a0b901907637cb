package model

import (
	"time"
)

// Session represents one chat session with its own live layer.
type Session struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// CreateSessionRequest is the request to create a new session.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// ListSessionsResponse is the response for listing sessions.
type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// AskRequest is the request for a new top-level question.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse carries the synchronously computed answer and the freshly
// published (still populating) layer.
type AskResponse struct {
	Turn  *Turn      `json:"turn"`
	Layer *LayerView `json:"layer"`
}

// SelectRequest is the request to pick a follow-up button. Question is the
// button label the UI holds; it lets the server fall back to an on-demand
// answer when the id is no longer in the live layer.
type SelectRequest struct {
	CandidateID string `json:"candidate_id"`
	Question    string `json:"question,omitempty"`
}

// SelectResponse carries the served answer, where it came from, and the
// next layer.
type SelectResponse struct {
	Turn   *Turn       `json:"turn"`
	Source ServeSource `json:"source"`
	Layer  *LayerView  `json:"layer"`
}
