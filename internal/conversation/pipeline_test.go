package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/nl2sql"
)

type candidateModel struct {
	replies []nl2sql.Candidate
}

func (m *candidateModel) InvokeStructured(_ context.Context, _ []llm.Message, _ llm.Schema, out any) error {
	if len(m.replies) == 0 {
		return errors.New("unexpected call")
	}
	*(out.(*nl2sql.Candidate)) = m.replies[0]
	m.replies = m.replies[1:]
	return nil
}

type schemaRetriever struct{}

func (schemaRetriever) Retrieve(context.Context, string) (string, error) {
	return "- public.users (Table)\n  Columns:\n    - name (text, NULL)", nil
}

type countingValidator struct {
	queries []string
}

func (v *countingValidator) Validate(_ context.Context, sqlText string) error {
	v.queries = append(v.queries, sqlText)
	if sqlText == "SELECT name FROM user" {
		return errors.New(`relation "user" does not exist`)
	}
	return nil
}

type resultByQuery map[string]string

func (r resultByQuery) Execute(_ context.Context, sqlText string) (string, error) {
	return r[sqlText], nil
}

func TestRepairedQueryFeedsAnswer(t *testing.T) {
	validator := &countingValidator{}
	model := &candidateModel{replies: []nl2sql.Candidate{
		{Query: "SELECT name FROM user"},
		{Query: "SELECT name FROM public.users"},
	}}
	synth := nl2sql.NewSynthesizer(schemaRetriever{}, model, validator, nl2sql.Config{}, nil)

	g, err := New(Deps{
		Store:       NewMemoryStore(),
		Classifier:  &keywordClassifier{},
		Synthesizer: synth,
		Executor:    resultByQuery{"SELECT name FROM public.users": `[{"name":"Ada"}]`},
		Responder:   &templateResponder{},
		Discovery:   staticDiscovery{},
	})
	require.NoError(t, err)

	got, err := g.HandleTurn(context.Background(), "list user names", "t1")
	require.NoError(t, err)
	assert.Contains(t, got, `[{"name":"Ada"}]`)
	assert.Equal(t, []string{"SELECT name FROM user", "SELECT name FROM public.users"}, validator.queries)
}
