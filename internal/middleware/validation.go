package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateQuestion validates question text.
func ValidateQuestion(question string) error {
	if len(question) == 0 {
		return errors.New("question cannot be empty")
	}
	if len(question) > 8192 {
		return errors.New("question exceeds maximum length")
	}
	if !utf8.ValidString(question) {
		return errors.New("question must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateCandidateID validates a follow-up candidate ID.
func ValidateCandidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid candidate ID format")
	}
	return nil
}

// ValidateTitle validates a session title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
