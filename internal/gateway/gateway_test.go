package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/fastfollow-ai/followup-platform/internal/llm"
	"github.com/fastfollow-ai/followup-platform/internal/model"
)

// fakeLLM records requests and returns a canned response.
type fakeLLM struct {
	lastReq *llm.CompletionRequest
	content string
	err     error
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return nil }

func history(n int) []model.Turn {
	turns := make([]model.Turn, n)
	for i := range turns {
		turns[i] = model.Turn{
			Index:    i,
			Question: fmt.Sprintf("q%d", i),
			Answer:   fmt.Sprintf("a%d", i),
		}
	}
	return turns
}

func TestAnswerBoundsContextWindow(t *testing.T) {
	client := &fakeLLM{content: "  an answer  "}
	g := New(client, "", 2)

	answer, err := g.Answer(context.Background(), "the question", history(10))
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if answer != "an answer" {
		t.Errorf("Expected trimmed answer, got %q", answer)
	}

	// 2 window turns * (user+assistant) + the final prompt.
	if got := len(client.lastReq.Messages); got != 5 {
		t.Errorf("Expected 5 messages, got %d", got)
	}
	// Newest turns win.
	if client.lastReq.Messages[0].Content != "q8" {
		t.Errorf("Expected window to keep newest turns, first message was %q", client.lastReq.Messages[0].Content)
	}
}

func TestFollowupsParsesList(t *testing.T) {
	client := &fakeLLM{content: "1. One?\n2. Two?\n3. Three?\n4. Four?\n5. Five?"}
	g := New(client, "", 0)

	followups, err := g.Followups(context.Background(), "q", "a", nil, 3)
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if len(followups) != 3 {
		t.Errorf("Expected fan-out cap of 3, got %d: %v", len(followups), followups)
	}
}

func TestAnswerWrapsGenerationError(t *testing.T) {
	client := &fakeLLM{err: errors.New("boom")}
	g := New(client, "", 0)

	_, err := g.Answer(context.Background(), "q", nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Expected GenerationError, got %v", err)
	}
	if genErr.Op != "answer" {
		t.Errorf("Expected op answer, got %q", genErr.Op)
	}
	if genErr.Transient {
		t.Error("Expected unknown errors to classify as permanent")
	}
}

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limit", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
	}

	for _, tc := range cases {
		wrapped := wrapGenerationError("answer", tc.err)
		if IsTransient(wrapped) != tc.transient {
			t.Errorf("%s: expected transient=%v", tc.name, tc.transient)
		}
	}
}
