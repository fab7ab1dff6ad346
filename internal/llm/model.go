package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duckmesh/text2sql/internal/config"
	"github.com/duckmesh/text2sql/internal/observability"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	ErrNoChoices       = errors.New("model returned no choices")
	ErrMalformedOutput = errors.New("model output does not match schema")
	// ErrFatalAPI marks provider errors that retrying will not fix.
	ErrFatalAPI = errors.New("fatal model api error")
)

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

const defaultOllamaURL = "http://localhost:11434"

// Model wraps a langchaingo chat model with message conversion, timeouts and
// structured output decoding.
type Model struct {
	llm         llms.Model
	name        string
	temperature float64
	timeout     time.Duration
}

func New(cfg config.AIConfig) (*Model, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if strings.TrimSpace(cfg.APIKey) != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if strings.TrimSpace(cfg.BaseURL) != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case config.ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if strings.TrimSpace(cfg.APIKey) != "" {
			opts = append(opts, anthropic.WithToken(cfg.APIKey))
		}
		model, err = anthropic.New(opts...)
	case config.ProviderOllama:
		serverURL := strings.TrimSpace(cfg.BaseURL)
		if serverURL == "" {
			serverURL = defaultOllamaURL
		}
		model, err = ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(serverURL))
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
	}
	return NewWithModel(model, cfg.Model, cfg.Temperature, cfg.Timeout), nil
}

func NewWithModel(model llms.Model, name string, temperature float64, timeout time.Duration) *Model {
	return &Model{llm: model, name: name, temperature: temperature, timeout: timeout}
}

func (m *Model) Name() string {
	return m.name
}

// Invoke returns the full text response for messages.
func (m *Model) Invoke(ctx context.Context, messages []Message) (string, error) {
	return m.generate(ctx, "invoke", messages)
}

// Stream forwards chunks to fn as they arrive and returns the concatenated text.
func (m *Model) Stream(ctx context.Context, messages []Message, fn StreamFunc) (string, error) {
	if fn == nil {
		return m.Invoke(ctx, messages)
	}
	return m.generate(ctx, "stream", messages, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		return fn(ctx, string(chunk))
	}))
}

// InvokeStructured asks the model for JSON matching schema, validates it and
// decodes it into out. Any shape mismatch returns ErrMalformedOutput.
func (m *Model) InvokeStructured(ctx context.Context, messages []Message, schema Schema, out any) error {
	withSchema := make([]Message, 0, len(messages)+1)
	withSchema = append(withSchema, messages...)
	withSchema = append(withSchema, System(schema.instruction()))

	text, err := m.generate(ctx, schema.Name, withSchema, llms.WithJSONMode())
	if err != nil {
		return err
	}
	raw := stripCodeFence(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrMalformedOutput, schema.Name, err)
	}
	if err := schema.Validate(obj); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %s: decode into %T: %v", ErrMalformedOutput, schema.Name, out, err)
	}
	return nil
}

func (m *Model) generate(ctx context.Context, operation string, messages []Message, extra ...llms.CallOption) (text string, err error) {
	if m == nil || m.llm == nil {
		return "", fmt.Errorf("model is not configured")
	}
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "llm."+operation)
	defer func() {
		observability.ObserveLLMCall(operation, err, time.Since(started))
		observability.EndSpan(span, err)
	}()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	opts := append([]llms.CallOption{llms.WithTemperature(m.temperature)}, extra...)
	resp, err := m.llm.GenerateContent(ctx, toMessageContent(messages), opts...)
	if err != nil {
		return "", fmt.Errorf("%s: generate content: %w", operation, wrapFatalError(err))
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", fmt.Errorf("%s: %w", operation, ErrNoChoices)
	}
	return resp.Choices[0].Content, nil
}

// toMessageContent folds every system message into one leading system part,
// which all supported providers accept.
func toMessageContent(messages []Message) []llms.MessageContent {
	var system []string
	out := make([]llms.MessageContent, 0, len(messages)+1)
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleAssistant:
			out = append(out, llms.TextParts(llms.ChatMessageTypeAI, msg.Content))
		default:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		}
	}
	if len(system) > 0 {
		out = append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, strings.Join(system, "\n\n"))}, out...)
	}
	return out
}

func stripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 && !strings.HasPrefix(strings.TrimSpace(trimmed[:idx]), "{") {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}
