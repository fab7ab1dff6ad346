package api

import (
	"net/http"
	"strings"

	"github.com/duckmesh/text2sql/internal/observability"
)

type translateRequest struct {
	Question string `json:"question"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema provider is not configured", false, nil)
		return
	}
	snapshot, err := deps.Schema.Snapshot(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hash":        snapshot.Hash,
		"text":        snapshot.Text,
		"table_count": len(snapshot.Tables),
		"taken_at":    snapshot.TakenAt,
	})
}

// handleReindex re-reads the schema from the database and reindexes it. The
// indexer skips the work when the schema hash is unchanged.
func handleReindex(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil || deps.Indexer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INDEX_NOT_CONFIGURED", "schema indexing is not configured", false, nil)
		return
	}
	snapshot, err := deps.Schema.Refresh(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load schema", true, map[string]any{"details": err.Error()})
		return
	}
	summary, err := deps.Indexer.Reindex(r.Context(), snapshot.Text)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "REINDEX_FAILED", "failed to reindex schema", true, map[string]any{"details": err.Error()})
		return
	}
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "schema reindex requested", append(observability.LogAttrs(r.Context()), "skipped", summary.Skipped, "tables", summary.TableCount)...)
	}
	writeJSON(w, http.StatusOK, summary)
}

func handleRelevantTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tables == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INDEX_NOT_CONFIGURED", "table retrieval is not configured", false, nil)
		return
	}
	question := strings.TrimSpace(r.URL.Query().Get("question"))
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question query parameter is required", false, nil)
		return
	}
	tables, err := deps.Tables.RelevantTables(r.Context(), question)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "RETRIEVAL_FAILED", "failed to retrieve relevant tables", true, map[string]any{"details": err.Error()})
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"question": question, "tables": tables})
}

func handleDiscovery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Discovery == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DISCOVERY_NOT_CONFIGURED", "discovery is not configured", false, nil)
		return
	}
	content, err := deps.Discovery.Content(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "DISCOVERY_FAILED", "failed to load discovery content", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func handleTranslateQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}
	var req translateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translation request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	candidate, err := deps.Translator.Translate(r.Context(), req.Question)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_FAILED", "query translation failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sql":              candidate.Query,
		"rejection_reason": candidate.RejectionReason,
	})
}
