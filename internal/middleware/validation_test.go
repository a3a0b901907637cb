package middleware

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateQuestion(t *testing.T) {
	if err := ValidateQuestion("What is TCP?"); err != nil {
		t.Errorf("Expected valid question, got %v", err)
	}
	if err := ValidateQuestion(""); err == nil {
		t.Error("Expected empty question rejected")
	}
	if err := ValidateQuestion(strings.Repeat("a", 8193)); err == nil {
		t.Error("Expected oversized question rejected")
	}
	if err := ValidateQuestion("bad \xff utf8"); err == nil {
		t.Error("Expected invalid UTF-8 rejected")
	}
}

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID(uuid.NewString()); err != nil {
		t.Errorf("Expected valid UUID accepted, got %v", err)
	}
	if err := ValidateSessionID("nope"); err == nil {
		t.Error("Expected malformed ID rejected")
	}
}

func TestValidateTitle(t *testing.T) {
	if err := ValidateTitle(""); err != nil {
		t.Errorf("Expected empty title allowed, got %v", err)
	}
	if err := ValidateTitle(strings.Repeat("t", 257)); err == nil {
		t.Error("Expected oversized title rejected")
	}
}
