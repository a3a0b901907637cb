// Package model defines data structures for the speculation platform.
package model

import (
	"time"
)

// Turn is one question/answer exchange in a conversation. Turns are
// immutable once created and only ever appended.
type Turn struct {
	Index     int       `json:"index"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// FollowupCandidate is a speculative question proposed for a turn.
type FollowupCandidate struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	TurnIndex int    `json:"turn_index"`
}
