package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/observability"
	"github.com/duckmesh/text2sql/internal/query"
	"github.com/duckmesh/text2sql/internal/sanitize"
)

const (
	DefaultRowLimit = 10
	DefaultDialect  = "PostgreSQL"

	maxRepairAttempts = 1
)

var ErrNoQuestion = errors.New("conversation has no user message")

var candidateSchema = llm.Schema{
	Name:        "query_candidate",
	Description: "A read-only SQL query or the reason one cannot be written.",
	Properties: []llm.Property{
		{Name: "query", Type: llm.TypeString, Required: true, Description: "Syntactically valid SQL query, or an empty string."},
		{Name: "rejectionReason", Type: llm.TypeString, Required: true, Description: "Why no query was written, or an empty string."},
	},
}

type Config struct {
	Dialect   string
	RowLimit  int
	MaxLength int
}

type Synthesizer struct {
	retriever Retriever
	model     llm.StructuredInvoker
	validator Validator
	sanitizer *sanitize.Sanitizer
	cfg       Config
	logger    *slog.Logger
}

func NewSynthesizer(retriever Retriever, model llm.StructuredInvoker, validator Validator, cfg Config, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	if strings.TrimSpace(cfg.Dialect) == "" {
		cfg.Dialect = DefaultDialect
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = DefaultRowLimit
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = sanitize.GenerationMaxLength
	}
	return &Synthesizer{
		retriever: retriever,
		model:     model,
		validator: validator,
		sanitizer: sanitize.New(logger),
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *Synthesizer) Translate(ctx context.Context, question string) (Candidate, error) {
	return s.Synthesize(ctx, []llm.Message{llm.Human(question)})
}

// Synthesize writes a query for the latest user message in history. The
// returned candidate has exactly one of Query and RejectionReason set. Errors
// are reserved for failures of the model, retriever or input.
func (s *Synthesizer) Synthesize(ctx context.Context, history []llm.Message) (Candidate, error) {
	ctx, span := observability.StartSpan(ctx, "nl2sql.synthesize")
	candidate, err := s.synthesize(ctx, history)
	observability.EndSpan(span, err)
	return candidate, err
}

func (s *Synthesizer) synthesize(ctx context.Context, history []llm.Message) (Candidate, error) {
	last, ok := llm.LastHuman(history)
	if !ok {
		return Candidate{}, ErrNoQuestion
	}
	question := s.sanitizer.Sanitize(last.Content, sanitize.Options{MaxLength: s.cfg.MaxLength, AllowEmpty: true}).Input
	if question == "" {
		return Candidate{RejectionReason: ReasonEmptyInput}, nil
	}

	tableInfo, err := s.retriever.Retrieve(ctx, question)
	if err != nil {
		return Candidate{}, fmt.Errorf("retrieve schema context: %w", err)
	}
	if strings.TrimSpace(tableInfo) == "" {
		s.logger.WarnContext(ctx, "no relevant tables for question", observability.LogAttrs(ctx)...)
		return Candidate{RejectionReason: ReasonNoSchema}, nil
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.System(writePrompt(s.cfg.Dialect, tableInfo, s.cfg.RowLimit)))
	messages = append(messages, replaceLastHuman(history, question)...)

	candidate, err := s.generate(ctx, messages)
	if err != nil || candidate.Rejected() {
		return candidate, err
	}

	for attempt := 0; ; attempt++ {
		verr := query.CheckReadOnly(candidate.Query)
		if verr == nil {
			verr = s.validator.Validate(ctx, candidate.Query)
		}
		if verr == nil {
			if attempt > 0 {
				observability.IncrementRepairAttempt("repaired")
			}
			return candidate, nil
		}
		observability.IncrementValidationFailure(attemptLabel(attempt))
		s.logger.WarnContext(ctx, "generated query failed validation",
			append(observability.LogAttrs(ctx), "attempt", attempt, "query", candidate.Query, "error", verr)...)

		if attempt >= maxRepairAttempts {
			observability.IncrementRepairAttempt("failed")
			return Candidate{RejectionReason: ReasonInvalidSQL}, nil
		}

		fixed, err := s.generate(ctx, []llm.Message{llm.Human(fixPrompt(s.cfg.Dialect, tableInfo, candidate.Query, verr.Error()))})
		if err != nil {
			return Candidate{}, err
		}
		if fixed.Rejected() {
			observability.IncrementRepairAttempt("rejected")
			return fixed, nil
		}
		candidate = fixed
	}
}

func (s *Synthesizer) generate(ctx context.Context, messages []llm.Message) (Candidate, error) {
	var raw Candidate
	if err := s.model.InvokeStructured(ctx, messages, candidateSchema, &raw); err != nil {
		return Candidate{}, fmt.Errorf("generate query: %w", err)
	}
	return normalize(raw), nil
}

func replaceLastHuman(history []llm.Message, content string) []llm.Message {
	out := make([]llm.Message, len(history))
	copy(out, history)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == llm.RoleHuman {
			out[i].Content = content
			break
		}
	}
	return out
}

func attemptLabel(attempt int) string {
	if attempt == 0 {
		return "initial"
	}
	return "repair"
}
