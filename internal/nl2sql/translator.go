// Package nl2sql turns a conversation into a validated read-only SQL query.
package nl2sql

import (
	"context"
	"strings"
)

const (
	ReasonNoSchema     = "no relevant schema found"
	ReasonInvalidSQL   = "failed to generate a valid SQL query"
	ReasonUnanswerable = "the question cannot be answered with a SQL query"
	ReasonEmptyInput   = "the question is empty"
)

// Candidate carries either a query or the reason no query was produced.
type Candidate struct {
	Query           string `json:"query"`
	RejectionReason string `json:"rejectionReason"`
}

func (c Candidate) Rejected() bool {
	return c.RejectionReason != ""
}

// Translator maps a single standalone question to a candidate.
type Translator interface {
	Translate(ctx context.Context, question string) (Candidate, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, question string) (string, error)
}

// Validator checks a query without running it, typically with EXPLAIN.
type Validator interface {
	Validate(ctx context.Context, sqlText string) error
}

func normalize(raw Candidate) Candidate {
	reason := strings.TrimSpace(raw.RejectionReason)
	if reason != "" {
		return Candidate{RejectionReason: reason}
	}
	query := stripMarkdownSQL(raw.Query)
	if query == "" {
		return Candidate{RejectionReason: ReasonUnanswerable}
	}
	return Candidate{Query: query}
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
