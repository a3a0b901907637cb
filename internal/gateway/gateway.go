// Package gateway wraps the answer/question generation backend behind two
// operations: Answer and Followups. It owns no state and keeps no retry
// policy; retries live in the scheduler.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fastfollow-ai/followup-platform/internal/llm"
	"github.com/fastfollow-ai/followup-platform/internal/model"
	"github.com/fastfollow-ai/followup-platform/pkg/metrics"
)

// Generator is the generation capability the controller and scheduler
// depend on. Implementations must be safe for concurrent use.
type Generator interface {
	// Answer generates an answer for a question given prior turns.
	Answer(ctx context.Context, question string, history []model.Turn) (string, error)

	// Followups proposes up to n follow-up questions for a question/answer pair.
	Followups(ctx context.Context, question, answer string, history []model.Turn, n int) ([]string, error)
}

// Gateway is the LLM-backed Generator.
type Gateway struct {
	client      llm.Client
	modelName   string
	windowTurns int
}

// New creates a gateway over an LLM client. windowTurns bounds how many
// prior turns are included as context; modelName may be empty to use the
// provider default.
func New(client llm.Client, modelName string, windowTurns int) *Gateway {
	return &Gateway{
		client:      client,
		modelName:   modelName,
		windowTurns: windowTurns,
	}
}

// Answer implements Generator.
func (g *Gateway) Answer(ctx context.Context, question string, history []model.Turn) (string, error) {
	prompt := fmt.Sprintf(
		"Answer the user's question clearly and concisely (2-5 sentences).\n\nQuestion: %s",
		question,
	)

	content, err := g.complete(ctx, "answer", prompt, history)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(content), nil
}

// Followups implements Generator.
func (g *Gateway) Followups(ctx context.Context, question, answer string, history []model.Turn, n int) ([]string, error) {
	prompt := fmt.Sprintf(
		"Propose %d specific, non-overlapping follow-up questions a curious reader "+
			"would ask next, as a numbered list with one question per line.\n\n"+
			"Question: %s\nAnswer: %s",
		n, question, answer,
	)

	content, err := g.complete(ctx, "followups", prompt, history)
	if err != nil {
		return nil, err
	}

	return parseFollowupList(content, n), nil
}

// complete runs one chat completion with the bounded history window and the
// final instruction as the last user message. Instructions ride in the user
// turn rather than a system role so both providers accept them unchanged.
func (g *Gateway) complete(ctx context.Context, op, prompt string, history []model.Turn) (string, error) {
	window := history
	if g.windowTurns > 0 && len(window) > g.windowTurns {
		window = window[len(window)-g.windowTurns:]
	}

	messages := make([]llm.ChatMessage, 0, 2*len(window)+1)
	for _, turn := range window {
		messages = append(messages,
			llm.ChatMessage{Role: "user", Content: turn.Question},
			llm.ChatMessage{Role: "assistant", Content: turn.Answer},
		)
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: prompt})

	start := time.Now()
	metrics.GatewayInflight.Inc()
	defer metrics.GatewayInflight.Dec()

	resp, err := g.client.Complete(ctx, &llm.CompletionRequest{
		Model:       g.modelName,
		Messages:    messages,
		Temperature: 0.7,
	})
	if err != nil {
		metrics.RecordGatewayCall(op, "error", time.Since(start).Seconds())
		return "", wrapGenerationError(op, err)
	}

	metrics.RecordGatewayCall(op, "success", time.Since(start).Seconds())
	return resp.Content, nil
}
