package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/duckmesh/text2sql/internal/config"
	"github.com/duckmesh/text2sql/internal/conversation"
	"github.com/duckmesh/text2sql/internal/discovery"
	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/nl2sql"
	"github.com/duckmesh/text2sql/internal/retrieval"
	"github.com/duckmesh/text2sql/internal/schema"
	"github.com/duckmesh/text2sql/internal/storage"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decodeBody(t, rr)["service"]; got != "text2sql-api" {
		t.Fatalf("service = %v", got)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	if err := combined(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckIndexedRequiresState(t *testing.T) {
	state := retrieval.NewMemoryStateStore()
	check := CheckIndexed(state)
	if err := check(context.Background()); err == nil {
		t.Fatal("expected error before first index")
	}
	if err := state.Save(context.Background(), retrieval.IndexState{SchemaHash: "abc"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := check(context.Background()); err != nil {
		t.Fatalf("check() error = %v", err)
	}
}

func TestCheckObjectStore(t *testing.T) {
	if err := CheckObjectStore(nil)(context.Background()); err == nil {
		t.Fatal("expected error without a store")
	}
	if err := CheckObjectStore(storage.NewMemory())(context.Background()); err != nil {
		t.Fatalf("check() error = %v", err)
	}
}

func TestTurnEndpointReturnsAnswer(t *testing.T) {
	conv := newFakeConversation()
	h := NewHandler(loadConfig(t), Dependencies{Conversation: conv})

	rr := postJSON(h, "/v1/threads/t1/turns", `{"question":"how many orders?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	var resp turnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ThreadID != "t1" || resp.Answer != "answer: how many orders?" {
		t.Fatalf("response = %#v", resp)
	}
}

func TestCreateThreadAssignsID(t *testing.T) {
	conv := newFakeConversation()
	h := NewHandler(loadConfig(t), Dependencies{
		Conversation: conv,
		NewThreadID:  func() string { return "generated" },
	})

	rr := postJSON(h, "/v1/threads", `{"question":"hi"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decodeBody(t, rr)["thread_id"]; got != "generated" {
		t.Fatalf("thread_id = %v", got)
	}
	if len(conv.history["generated"]) != 2 {
		t.Fatalf("history = %#v", conv.history)
	}
}

func TestTurnEndpointMapsErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no answer", conversation.ErrNoAnswer, http.StatusUnprocessableEntity, "NO_ANSWER"},
		{"empty question", conversation.ErrEmptyQuestion, http.StatusBadRequest, "QUESTION_REQUIRED"},
		{"upstream failure", errors.New("llm unavailable"), http.StatusBadGateway, "TURN_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := newFakeConversation()
			conv.err = tt.err
			h := NewHandler(loadConfig(t), Dependencies{Conversation: conv})

			rr := postJSON(h, "/v1/threads/t1/turns", `{"question":"q"}`)
			if rr.Code != tt.status {
				t.Fatalf("status = %d", rr.Code)
			}
			if got := decodeBody(t, rr)["error_code"]; got != tt.code {
				t.Fatalf("error_code = %v", got)
			}
		})
	}
}

func TestTurnEndpointValidatesBody(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{Conversation: newFakeConversation()})

	for _, tt := range []struct {
		body string
		code string
	}{
		{`{"question":""}`, "QUESTION_REQUIRED"},
		{`{"prompt":"x"}`, "INVALID_JSON"},
		{`not json`, "INVALID_JSON"},
	} {
		body, code := tt.body, tt.code
		rr := postJSON(h, "/v1/threads/t1/turns", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q status = %d", body, rr.Code)
		}
		if got := decodeBody(t, rr)["error_code"]; got != code {
			t.Fatalf("body %q error_code = %v", body, got)
		}
	}
}

func TestStreamEndpointEmitsChunksThenDone(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{Conversation: newFakeConversation()})
	rr := postJSON(h, "/v1/threads/t1/stream", `{"question":"count orders"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events, data := readEvents(t, rr.Body.String())
	if len(events) < 2 || events[len(events)-1] != "done" {
		t.Fatalf("events = %#v", events)
	}
	var joined strings.Builder
	for i, event := range events[:len(events)-1] {
		if event != "chunk" {
			t.Fatalf("event %d = %q", i, event)
		}
		var chunk map[string]string
		if err := json.Unmarshal([]byte(data[i]), &chunk); err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		joined.WriteString(chunk["text"])
	}
	var done turnResponse
	if err := json.Unmarshal([]byte(data[len(data)-1]), &done); err != nil {
		t.Fatalf("decode done: %v", err)
	}
	if done.Answer != joined.String() || done.Answer != "answer: count orders" {
		t.Fatalf("done = %q joined = %q", done.Answer, joined.String())
	}
}

func TestStreamEndpointReportsErrorEvent(t *testing.T) {
	conv := newFakeConversation()
	conv.err = conversation.ErrNoAnswer
	h := NewHandler(loadConfig(t), Dependencies{Conversation: conv})
	rr := postJSON(h, "/v1/threads/t1/stream", `{"question":"?"}`)

	events, data := readEvents(t, rr.Body.String())
	if len(events) != 1 || events[0] != "error" {
		t.Fatalf("events = %#v", events)
	}
	if !strings.Contains(data[0], "NO_ANSWER") {
		t.Fatalf("data = %s", data[0])
	}
}

func TestHistoryAndResetEndpoints(t *testing.T) {
	conv := newFakeConversation()
	h := NewHandler(loadConfig(t), Dependencies{Conversation: conv})
	postJSON(h, "/v1/threads/t1/turns", `{"question":"hello"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/threads/t1", nil))
	var history historyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history.Messages) != 2 || history.Messages[0].Content != "hello" {
		t.Fatalf("history = %#v", history)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/threads/t1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/threads/t1", nil))
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history.Messages) != 0 {
		t.Fatalf("history after reset = %#v", history.Messages)
	}
}

func TestReindexEndpointRefreshesSchema(t *testing.T) {
	source := &fakeSchema{snapshot: schema.Snapshot{Text: "- public.orders (Table)", Hash: "h1"}}
	indexer := &fakeIndexer{}
	h := NewHandler(loadConfig(t), Dependencies{Schema: source, Indexer: indexer})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/schema/reindex", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if source.refreshes != 1 || indexer.texts[0] != "- public.orders (Table)" {
		t.Fatalf("refreshes = %d texts = %#v", source.refreshes, indexer.texts)
	}
	if got := decodeBody(t, rr)["table_count"]; got != float64(1) {
		t.Fatalf("table_count = %v", got)
	}
}

func TestSchemaDiscoveryTablesAndTranslateEndpoints(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{
		Schema:     &fakeSchema{snapshot: schema.Snapshot{Text: "schema text", Hash: "h1"}},
		Tables:     fakeTables{"public.orders", "public.customers"},
		Discovery:  fakeDiscovery{},
		Translator: fakeTranslator{},
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if body := decodeBody(t, rr); body["hash"] != "h1" || body["text"] != "schema text" {
		t.Fatalf("schema body = %#v", body)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema/tables?question=orders+per+customer", nil))
	tables, _ := decodeBody(t, rr)["tables"].([]any)
	if len(tables) != 2 || tables[0] != "public.orders" {
		t.Fatalf("tables = %#v", tables)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema/tables", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing question status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/discovery", nil))
	if body := decodeBody(t, rr); body["description"] != "Orders." {
		t.Fatalf("discovery body = %#v", body)
	}

	rr = postJSON(h, "/v1/query/translate", `{"question":"count orders"}`)
	if body := decodeBody(t, rr); body["sql"] != "SELECT count(*) FROM orders" || body["rejection_reason"] != "" {
		t.Fatalf("translate body = %#v", body)
	}
}

func TestUnconfiguredRoutesReturn501(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{})
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/v1/threads/t1/turns", strings.NewReader(`{"question":"q"}`)),
		httptest.NewRequest(http.MethodPost, "/v1/schema/reindex", nil),
		httptest.NewRequest(http.MethodGet, "/v1/discovery", nil),
		httptest.NewRequest(http.MethodPost, "/v1/query/translate", strings.NewReader(`{"question":"q"}`)),
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s %s status = %d", req.Method, req.URL.Path, rr.Code)
		}
	}
}

type fakeConversation struct {
	mu      sync.Mutex
	history map[string][]llm.Message
	err     error
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{history: map[string][]llm.Message{}}
}

func (f *fakeConversation) HandleTurn(ctx context.Context, question, threadID string) (string, error) {
	return f.HandleTurnStream(ctx, question, threadID, nil)
}

func (f *fakeConversation) HandleTurnStream(ctx context.Context, question, threadID string, fn llm.StreamFunc) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	answer := "answer: " + question
	if fn != nil {
		for _, part := range strings.SplitAfter(answer, " ") {
			if err := fn(ctx, part); err != nil {
				return "", err
			}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[threadID] = append(f.history[threadID], llm.Human(question), llm.Assistant(answer))
	return answer, nil
}

func (f *fakeConversation) Reset(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.history, threadID)
	return nil
}

func (f *fakeConversation) History(_ context.Context, threadID string) ([]llm.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[threadID], nil
}

type fakeSchema struct {
	snapshot  schema.Snapshot
	refreshes int
}

func (f *fakeSchema) Snapshot(context.Context) (schema.Snapshot, error) {
	return f.snapshot, nil
}

func (f *fakeSchema) Refresh(context.Context) (schema.Snapshot, error) {
	f.refreshes++
	return f.snapshot, nil
}

type fakeIndexer struct {
	texts []string
}

func (f *fakeIndexer) Reindex(_ context.Context, schemaText string) (retrieval.Summary, error) {
	f.texts = append(f.texts, schemaText)
	return retrieval.Summary{SchemaHash: schema.Hash(schemaText), TableCount: 1}, nil
}

type fakeTables []string

func (f fakeTables) RelevantTables(context.Context, string) ([]string, error) {
	return f, nil
}

type fakeDiscovery struct{}

func (fakeDiscovery) Content(context.Context) (discovery.Content, error) {
	return discovery.Content{Description: "Orders.", ExampleQuestions: []string{"How many orders?"}}, nil
}

type fakeTranslator struct{}

func (fakeTranslator) Translate(context.Context, string) (nl2sql.Candidate, error) {
	return nl2sql.Candidate{Query: "SELECT count(*) FROM orders"}, nil
}

func loadConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("text2sql-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
	}
	return body
}

func readEvents(t *testing.T, body string) ([]string, []string) {
	t.Helper()
	var events, data []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan events: %v", err)
	}
	return events, data
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
