package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/duckmesh/text2sql/internal/conversation"
	"github.com/duckmesh/text2sql/internal/llm"
)

type turnRequest struct {
	Question string `json:"question"`
}

type turnResponse struct {
	ThreadID string `json:"thread_id"`
	Answer   string `json:"answer"`
}

type historyResponse struct {
	ThreadID string        `json:"thread_id"`
	Messages []llm.Message `json:"messages"`
}

func handleCreateThread(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	runTurn(deps, w, r, deps.NewThreadID(), http.StatusCreated)
}

func handleTurn(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	runTurn(deps, w, r, r.PathValue("thread"), http.StatusOK)
}

func runTurn(deps Dependencies, w http.ResponseWriter, r *http.Request, threadID string, status int) {
	if deps.Conversation == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONVERSATION_NOT_CONFIGURED", "conversation pipeline is not configured", false, nil)
		return
	}
	question, ok := decodeTurn(w, r)
	if !ok {
		return
	}
	answer, err := deps.Conversation.HandleTurn(r.Context(), question, threadID)
	if err != nil {
		writeTurnError(r.Context(), w, threadID, err)
		return
	}
	writeJSON(w, status, turnResponse{ThreadID: threadID, Answer: answer})
}

// handleTurnStream sends "chunk" events as the answer is generated, then a
// single "done" or "error" event.
func handleTurnStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversation == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONVERSATION_NOT_CONFIGURED", "conversation pipeline is not configured", false, nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "response writer does not support streaming", false, nil)
		return
	}
	question, ok := decodeTurn(w, r)
	if !ok {
		return
	}
	threadID := r.PathValue("thread")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	answer, err := deps.Conversation.HandleTurnStream(r.Context(), question, threadID, func(_ context.Context, chunk string) error {
		if err := writeEvent(w, "chunk", map[string]string{"text": chunk}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		status, code, retryable := classifyTurnError(err)
		_ = writeEvent(w, "error", errorBody(r.Context(), code, err.Error(), retryable, map[string]any{"thread_id": threadID, "status": status}))
		flusher.Flush()
		return
	}
	_ = writeEvent(w, "done", turnResponse{ThreadID: threadID, Answer: answer})
	flusher.Flush()
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversation == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONVERSATION_NOT_CONFIGURED", "conversation pipeline is not configured", false, nil)
		return
	}
	threadID := r.PathValue("thread")
	messages, err := deps.Conversation.History(r.Context(), threadID)
	if err != nil {
		writeTurnError(r.Context(), w, threadID, err)
		return
	}
	if messages == nil {
		messages = []llm.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{ThreadID: threadID, Messages: messages})
}

func handleReset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversation == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONVERSATION_NOT_CONFIGURED", "conversation pipeline is not configured", false, nil)
		return
	}
	threadID := r.PathValue("thread")
	if err := deps.Conversation.Reset(r.Context(), threadID); err != nil {
		writeTurnError(r.Context(), w, threadID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "status": "cleared"})
}

func decodeTurn(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid turn request body", false, map[string]any{"details": err.Error()})
		return "", false
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return "", false
	}
	return req.Question, true
}

func classifyTurnError(err error) (int, string, bool) {
	switch {
	case errors.Is(err, conversation.ErrThreadIDRequired):
		return http.StatusBadRequest, "THREAD_ID_REQUIRED", false
	case errors.Is(err, conversation.ErrEmptyQuestion):
		return http.StatusBadRequest, "QUESTION_REQUIRED", false
	case errors.Is(err, conversation.ErrNoAnswer):
		return http.StatusUnprocessableEntity, "NO_ANSWER", false
	default:
		return http.StatusBadGateway, "TURN_FAILED", true
	}
}

func writeTurnError(ctx context.Context, w http.ResponseWriter, threadID string, err error) {
	status, code, retryable := classifyTurnError(err)
	writeError(ctx, w, status, code, err.Error(), retryable, map[string]any{"thread_id": threadID})
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
