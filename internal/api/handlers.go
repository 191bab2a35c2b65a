// Package api exposes the command pipeline over HTTP and MCP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds dependencies for the HTTP API.
type AppDeps struct {
	Assistant *pipeline.Assistant
	Sessions  *SessionStore
	Token     string
}

// NewAppHandler builds the authenticated HTTP API. The health endpoint is
// left outside auth so process managers can poll it.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/commands", handleCommand(deps))
		r.Post("/interpret", handleInterpret(deps))
		r.Get("/commands", handleListCommands(deps))
		r.Get("/transactions", handleListTransactions(deps))
		r.Post("/rollback", handleRollback(deps))
		r.Get("/errors/stats", handleErrorStats(deps))
		r.Get("/session", handleGetSession(deps))
		r.Put("/session", handlePutSession(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// CommandRequest is the body for /commands and /interpret.
type CommandRequest struct {
	Text string `json:"text"`
}

func handleCommand(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeCommandRequest(w, r)
		if !ok {
			return
		}

		var result *pipeline.Result
		deps.Sessions.With(func(session *gis.Session) {
			result = deps.Assistant.ProcessCommand(r.Context(), req.Text, session)
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func handleInterpret(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeCommandRequest(w, r)
		if !ok {
			return
		}

		var result *pipeline.Result
		deps.Sessions.With(func(session *gis.Session) {
			result = deps.Assistant.Interpret(r.Context(), req.Text, session)
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func decodeCommandRequest(w http.ResponseWriter, r *http.Request) (CommandRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return CommandRequest{}, false
	}
	if req.Text == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
		return CommandRequest{}, false
	}
	return req, true
}

func handleListCommands(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		commands, err := deps.Assistant.RecentCommands(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list commands: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if commands == nil {
			fmt.Fprint(w, "[]")
			return
		}
		json.NewEncoder(w).Encode(commands)
	}
}

func handleListTransactions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		txs := deps.Assistant.RecentTransactions(limit)

		w.Header().Set("Content-Type", "application/json")
		if txs == nil {
			fmt.Fprint(w, "[]")
			return
		}
		json.NewEncoder(w).Encode(txs)
	}
}

// RollbackRequest optionally names a transaction; empty means roll back to
// the latest snapshot.
type RollbackRequest struct {
	TransactionID string `json:"transaction_id"`
}

func handleRollback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RollbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var (
			result *pipeline.Result
			err    error
		)
		deps.Sessions.With(func(session *gis.Session) {
			if req.TransactionID == "" {
				result, err = deps.Assistant.RollbackLast(session)
			} else {
				result, err = deps.Assistant.RollbackTo(session, req.TransactionID)
			}
		})
		if err != nil {
			httpError(w, http.StatusConflict, "rollback_error", "rollback failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func handleErrorStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Assistant.ErrorStatistics()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := deps.Sessions.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(session)
	}
}

func handlePutSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var session gis.Session
		if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid session body: %v", err)
			return
		}

		deps.Sessions.Replace(session)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
