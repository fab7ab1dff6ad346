// Package answer turns pipeline outcomes into the natural-language reply.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/text2sql/internal/discovery"
	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/observability"
)

var ErrEmptyAnswer = errors.New("model returned an empty answer")

// Generator makes one model call per reply. A non-nil StreamFunc receives the
// reply in chunks, and the returned text is their concatenation.
type Generator struct {
	model  llm.TextInvoker
	logger *slog.Logger
}

func New(model llm.TextInvoker, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Generator{model: model, logger: logger}
}

// Answer responds to a data question from the executed query and its rows.
func (g *Generator) Answer(ctx context.Context, question, query, result string, fn llm.StreamFunc) (string, error) {
	return g.complete(ctx, "answer", []llm.Message{llm.Human(answerPrompt(question, query, result))}, fn)
}

// Decline explains that a request cannot be served.
func (g *Generator) Decline(ctx context.Context, reason string, fn llm.StreamFunc) (string, error) {
	return g.complete(ctx, "decline", []llm.Message{llm.Human(declinePrompt(reason))}, fn)
}

func (g *Generator) Greet(ctx context.Context, history []llm.Message, fn llm.StreamFunc) (string, error) {
	return g.complete(ctx, "greet", withSystem(greetingPrompt, history), fn)
}

func (g *Generator) Clarify(ctx context.Context, reason string, history []llm.Message, fn llm.StreamFunc) (string, error) {
	return g.complete(ctx, "clarify", withSystem(clarificationPrompt(reason), history), fn)
}

// Discover presents pregenerated discovery content, adapting the
// introduction to what the user asked for.
func (g *Generator) Discover(ctx context.Context, content discovery.Content, reason string, fn llm.StreamFunc) (string, error) {
	return g.complete(ctx, "discover", []llm.Message{llm.Human(discoveryPrompt(content, reason))}, fn)
}

func (g *Generator) complete(ctx context.Context, operation string, messages []llm.Message, fn llm.StreamFunc) (string, error) {
	ctx, span := observability.StartSpan(ctx, "answer."+operation)
	var (
		text string
		err  error
	)
	if fn != nil {
		text, err = g.model.Stream(ctx, messages, fn)
	} else {
		text, err = g.model.Invoke(ctx, messages)
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyAnswer
	}
	observability.EndSpan(span, err)
	if err != nil {
		return "", fmt.Errorf("%s: %w", operation, err)
	}
	g.logger.DebugContext(ctx, "answer generated", append(observability.LogAttrs(ctx), "operation", operation, "length", len(text))...)
	return text, nil
}

func withSystem(prompt string, history []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.System(prompt))
	return append(messages, history...)
}
