// Package intent classifies the latest turn of a conversation.
package intent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/observability"
)

type Type string

const (
	QueryRequest     Type = "QUERY_REQUEST"
	AmbiguousQuery   Type = "AMBIGUOUS_QUERY"
	InvalidQuery     Type = "INVALID_QUERY"
	DiscoveryRequest Type = "DISCOVERY_REQUEST"
	Greeting         Type = "GREETING"
)

// Types lists every classifiable intent in priority order.
var Types = []Type{InvalidQuery, Greeting, DiscoveryRequest, QueryRequest, AmbiguousQuery}

func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

type Intent struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason"`
}

type Classifier struct {
	model  llm.StructuredInvoker
	logger *slog.Logger
}

func NewClassifier(model llm.StructuredInvoker, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Classifier{model: model, logger: logger}
}

func intentSchema() llm.Schema {
	enum := make([]string, len(Types))
	for i, t := range Types {
		enum[i] = string(t)
	}
	return llm.Schema{
		Name:        "intent",
		Description: "Classification of the latest user message.",
		Properties: []llm.Property{
			{Name: "type", Type: llm.TypeString, Enum: enum, Required: true, Description: "The intent category."},
			{Name: "reason", Type: llm.TypeString, Required: true, Description: "Short explanation of the classification."},
		},
	}
}

// Classify sends the instruction plus the whole history. A malformed model
// response is returned as an error wrapping llm.ErrMalformedOutput.
func (c *Classifier) Classify(ctx context.Context, history []llm.Message) (Intent, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.System(systemPrompt))
	messages = append(messages, history...)

	var result Intent
	if err := c.model.InvokeStructured(ctx, messages, intentSchema(), &result); err != nil {
		return Intent{}, fmt.Errorf("classify intent: %w", err)
	}
	if !result.Type.Valid() {
		return Intent{}, fmt.Errorf("classify intent: %w: unknown type %q", llm.ErrMalformedOutput, result.Type)
	}
	c.logger.DebugContext(ctx, "intent classified", append(observability.LogAttrs(ctx), "intent", result.Type, "reason", result.Reason)...)
	return result, nil
}
