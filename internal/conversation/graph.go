// Package conversation routes each turn of a thread through intent
// classification, query synthesis and answer generation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/duckmesh/text2sql/internal/discovery"
	"github.com/duckmesh/text2sql/internal/intent"
	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/nl2sql"
	"github.com/duckmesh/text2sql/internal/observability"
	"github.com/duckmesh/text2sql/internal/sanitize"
)

type Node string

const (
	NodeIntent         Node = "intent"
	NodeGreeting       Node = "greeting"
	NodeClarification  Node = "clarification"
	NodeRejection      Node = "rejection"
	NodeDiscovery      Node = "discovery"
	NodeWriteQuery     Node = "write_query"
	NodeExecuteQuery   Node = "execute_query"
	NodeGenerateAnswer Node = "generate_answer"
	NodeEnd            Node = "end"
)

// ClearCommand resets the thread instead of starting a turn.
const (
	ClearCommand   = "/clear"
	ClearedMessage = "Conversation cleared."
)

var (
	ErrNoAnswer         = errors.New("turn produced no answer")
	ErrThreadIDRequired = errors.New("thread id is required")
	ErrEmptyQuestion    = errors.New("question is empty")
)

type Classifier interface {
	Classify(ctx context.Context, history []llm.Message) (intent.Intent, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, history []llm.Message) (nl2sql.Candidate, error)
}

type Executor interface {
	Execute(ctx context.Context, sqlText string) (string, error)
}

type Responder interface {
	Answer(ctx context.Context, question, query, result string, fn llm.StreamFunc) (string, error)
	Decline(ctx context.Context, reason string, fn llm.StreamFunc) (string, error)
	Greet(ctx context.Context, history []llm.Message, fn llm.StreamFunc) (string, error)
	Clarify(ctx context.Context, reason string, history []llm.Message, fn llm.StreamFunc) (string, error)
	Discover(ctx context.Context, content discovery.Content, reason string, fn llm.StreamFunc) (string, error)
}

type DiscoverySource interface {
	Content(ctx context.Context) (discovery.Content, error)
}

type Deps struct {
	Store       ThreadStore
	Classifier  Classifier
	Synthesizer Synthesizer
	Executor    Executor
	Responder   Responder
	Discovery   DiscoverySource
	// MaxLength bounds stored human messages. Zero means
	// sanitize.ClassificationMaxLength.
	MaxLength int
	Logger    *slog.Logger
}

type Graph struct {
	deps      Deps
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
	now       func() time.Time
	locks     keyedMutex
}

func New(deps Deps) (*Graph, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("conversation: thread store is required")
	case deps.Classifier == nil:
		return nil, errors.New("conversation: classifier is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("conversation: synthesizer is required")
	case deps.Executor == nil:
		return nil, errors.New("conversation: executor is required")
	case deps.Responder == nil:
		return nil, errors.New("conversation: responder is required")
	case deps.Discovery == nil:
		return nil, errors.New("conversation: discovery source is required")
	}
	if deps.MaxLength <= 0 {
		deps.MaxLength = sanitize.ClassificationMaxLength
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Graph{
		deps:      deps,
		sanitizer: sanitize.New(logger),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// HandleTurn answers question within threadID and persists the updated
// thread. Turns on the same thread run one at a time.
func (g *Graph) HandleTurn(ctx context.Context, question, threadID string) (string, error) {
	return g.handle(ctx, question, threadID, nil)
}

// HandleTurnStream is HandleTurn with the final reply delivered to fn in
// chunks as it is generated. The returned answer equals the chunks joined.
func (g *Graph) HandleTurnStream(ctx context.Context, question, threadID string, fn llm.StreamFunc) (string, error) {
	return g.handle(ctx, question, threadID, fn)
}

func (g *Graph) Reset(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ErrThreadIDRequired
	}
	unlock := g.locks.Lock(threadID)
	defer unlock()
	if err := g.deps.Store.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	g.logger.InfoContext(observability.ContextWithThreadID(ctx, threadID), "thread reset", "thread_id", threadID)
	return nil
}

func (g *Graph) History(ctx context.Context, threadID string) ([]llm.Message, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	state, _, err := g.deps.Store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	return state.Messages, nil
}

func (g *Graph) handle(ctx context.Context, question, threadID string, fn llm.StreamFunc) (answer string, err error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return "", ErrThreadIDRequired
	}
	if strings.TrimSpace(question) == ClearCommand {
		if err := g.Reset(ctx, threadID); err != nil {
			return "", err
		}
		if fn != nil {
			if err := fn(ctx, ClearedMessage); err != nil {
				return "", err
			}
		}
		return ClearedMessage, nil
	}

	unlock := g.locks.Lock(threadID)
	defer unlock()

	ctx = observability.ContextWithThreadID(ctx, threadID)
	ctx, span := observability.StartSpan(ctx, "conversation.turn", attribute.String("thread_id", threadID))
	start := g.now()
	var state State
	defer func() {
		observability.EndSpan(span, err)
		observability.ObserveTurn(string(state.Intent.Type), turnOutcome(err), g.now().Sub(start))
	}()

	state, _, err = g.deps.Store.Load(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("load thread: %w", err)
	}

	sanitized := g.sanitizer.Sanitize(question, sanitize.Options{MaxLength: g.deps.MaxLength, LogSuspicious: true})
	if sanitized.Input == "" {
		return "", ErrEmptyQuestion
	}
	if len(sanitized.Warnings) > 0 {
		g.logger.DebugContext(ctx, "question sanitized", append(observability.LogAttrs(ctx), "warnings", sanitized.Warnings)...)
	}

	state.resetTurn()
	state.Messages = append(state.Messages, llm.Human(sanitized.Input))

	if err := g.run(ctx, &state, fn); err != nil {
		return "", err
	}
	if state.Answer == "" {
		return "", ErrNoAnswer
	}

	state.Messages = append(state.Messages, llm.Assistant(state.Answer))
	state.UpdatedAt = g.now().UTC()
	if err := g.deps.Store.Save(ctx, threadID, state); err != nil {
		return "", fmt.Errorf("save thread: %w", err)
	}
	g.logger.InfoContext(ctx, "turn completed", append(observability.LogAttrs(ctx), "intent", state.Intent.Type, "rejected", state.RejectionReason != "")...)
	return state.Answer, nil
}

func (g *Graph) run(ctx context.Context, state *State, fn llm.StreamFunc) error {
	node := NodeIntent
	for node != NodeEnd {
		nodeCtx, span := observability.StartSpan(ctx, "conversation."+string(node))
		next, err := g.step(nodeCtx, node, state, fn)
		observability.EndSpan(span, err)
		if err != nil {
			return fmt.Errorf("%s: %w", node, err)
		}
		g.logger.DebugContext(ctx, "graph transition", append(observability.LogAttrs(ctx), "from", node, "to", next)...)
		node = next
	}
	return nil
}

func (g *Graph) step(ctx context.Context, node Node, state *State, fn llm.StreamFunc) (Node, error) {
	var err error
	switch node {
	case NodeIntent:
		state.Intent, err = g.deps.Classifier.Classify(ctx, state.Messages)
		if err != nil {
			return NodeEnd, err
		}
		return routeIntent(state.Intent.Type), nil

	case NodeGreeting:
		state.Answer, err = g.deps.Responder.Greet(ctx, state.Messages, fn)
		return NodeEnd, err

	case NodeClarification:
		state.Answer, err = g.deps.Responder.Clarify(ctx, state.Intent.Reason, state.Messages, fn)
		return NodeEnd, err

	case NodeRejection:
		reason := state.RejectionReason
		if reason == "" {
			reason = state.Intent.Reason
		}
		state.Answer, err = g.deps.Responder.Decline(ctx, reason, fn)
		return NodeEnd, err

	case NodeDiscovery:
		content, err := g.deps.Discovery.Content(ctx)
		if err != nil {
			return NodeEnd, err
		}
		state.Answer, err = g.deps.Responder.Discover(ctx, content, latestQuestion(state.Messages), fn)
		return NodeEnd, err

	case NodeWriteQuery:
		candidate, err := g.deps.Synthesizer.Synthesize(ctx, state.Messages)
		if err != nil {
			return NodeEnd, err
		}
		if candidate.Rejected() {
			state.RejectionReason = candidate.RejectionReason
			return NodeRejection, nil
		}
		state.Query = candidate.Query
		return NodeExecuteQuery, nil

	case NodeExecuteQuery:
		state.Result, err = g.deps.Executor.Execute(ctx, state.Query)
		return NodeGenerateAnswer, err

	case NodeGenerateAnswer:
		state.Answer, err = g.deps.Responder.Answer(ctx, latestQuestion(state.Messages), state.Query, state.Result, fn)
		return NodeEnd, err

	default:
		return NodeEnd, fmt.Errorf("unknown node %q", node)
	}
}

func routeIntent(t intent.Type) Node {
	switch t {
	case intent.QueryRequest:
		return NodeWriteQuery
	case intent.Greeting:
		return NodeGreeting
	case intent.AmbiguousQuery:
		return NodeClarification
	case intent.InvalidQuery:
		return NodeRejection
	case intent.DiscoveryRequest:
		return NodeDiscovery
	default:
		return NodeEnd
	}
}

func latestQuestion(messages []llm.Message) string {
	last, _ := llm.LastHuman(messages)
	return last.Content
}

func turnOutcome(err error) string {
	switch {
	case err == nil:
		return "answered"
	case errors.Is(err, ErrNoAnswer):
		return "no_answer"
	default:
		return "error"
	}
}
