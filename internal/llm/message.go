package llm

import "context"

type Role string

const (
	RoleHuman     Role = "human"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func Human(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// LastHuman returns the most recent human message in history.
func LastHuman(history []Message) (Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleHuman {
			return history[i], true
		}
	}
	return Message{}, false
}

// StreamFunc receives incremental chunks of generated text.
type StreamFunc func(ctx context.Context, chunk string) error

// StructuredInvoker returns model output decoded against a schema.
type StructuredInvoker interface {
	InvokeStructured(ctx context.Context, messages []Message, schema Schema, out any) error
}

// TextInvoker returns free-form model output, optionally streamed.
type TextInvoker interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message, fn StreamFunc) (string, error)
}
