package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckmesh/text2sql/internal/config"
	"github.com/duckmesh/text2sql/internal/discovery"
	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/nl2sql"
	"github.com/duckmesh/text2sql/internal/observability"
	"github.com/duckmesh/text2sql/internal/retrieval"
	"github.com/duckmesh/text2sql/internal/schema"
	"github.com/duckmesh/text2sql/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type Conversation interface {
	HandleTurn(ctx context.Context, question, threadID string) (string, error)
	HandleTurnStream(ctx context.Context, question, threadID string, fn llm.StreamFunc) (string, error)
	Reset(ctx context.Context, threadID string) error
	History(ctx context.Context, threadID string) ([]llm.Message, error)
}

type SchemaSource interface {
	Snapshot(ctx context.Context) (schema.Snapshot, error)
	Refresh(ctx context.Context) (schema.Snapshot, error)
}

type Reindexer interface {
	Reindex(ctx context.Context, schemaText string) (retrieval.Summary, error)
}

type TableFinder interface {
	RelevantTables(ctx context.Context, question string) ([]string, error)
}

type DiscoverySource interface {
	Content(ctx context.Context) (discovery.Content, error)
}

type Dependencies struct {
	Logger           *slog.Logger
	Readiness        ReadinessCheck
	DependencyTimout time.Duration
	Conversation     Conversation
	Schema           SchemaSource
	Indexer          Reindexer
	Tables           TableFinder
	Discovery        DiscoverySource
	Translator       nl2sql.Translator
	NewThreadID      func() string
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.NewThreadID == nil {
		deps.NewThreadID = uuid.NewString
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
		handleCreateThread(deps, w, r)
	})
	mux.HandleFunc("POST /v1/threads/{thread}/turns", func(w http.ResponseWriter, r *http.Request) {
		handleTurn(deps, w, r)
	})
	mux.HandleFunc("POST /v1/threads/{thread}/stream", func(w http.ResponseWriter, r *http.Request) {
		handleTurnStream(deps, w, r)
	})
	mux.HandleFunc("GET /v1/threads/{thread}", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/threads/{thread}", func(w http.ResponseWriter, r *http.Request) {
		handleReset(deps, w, r)
	})

	mux.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	mux.HandleFunc("POST /v1/schema/reindex", func(w http.ResponseWriter, r *http.Request) {
		handleReindex(deps, w, r)
	})
	mux.HandleFunc("GET /v1/schema/tables", func(w http.ResponseWriter, r *http.Request) {
		handleRelevantTables(deps, w, r)
	})
	mux.HandleFunc("GET /v1/discovery", func(w http.ResponseWriter, r *http.Request) {
		handleDiscovery(deps, w, r)
	})
	mux.HandleFunc("POST /v1/query/translate", func(w http.ResponseWriter, r *http.Request) {
		handleTranslateQuery(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckDatabase(db *sql.DB) ReadinessCheck {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("database is not configured")
		}
		return db.PingContext(ctx)
	}
}

func CheckObjectStore(store storage.Checker) ReadinessCheck {
	return func(ctx context.Context) error {
		if store == nil {
			return errors.New("object store is not configured")
		}
		return store.Check(ctx)
	}
}

// CheckIndexed fails until the schema has been indexed at least once.
func CheckIndexed(state retrieval.StateStore) ReadinessCheck {
	return func(ctx context.Context) error {
		_, found, err := state.Load(ctx)
		if err != nil {
			return err
		}
		if !found {
			return errors.New("schema has not been indexed")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, errorBody(ctx, code, message, retryable, extra))
}

func errorBody(ctx context.Context, code, message string, retryable bool, extra map[string]any) map[string]any {
	return map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
}
