package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sjawhar/doobs/internal/journal"
	"github.com/sjawhar/doobs/internal/recognition"
)

const (
	defaultDiagnosticsLimit = 50
	maxDiagnosticsLimit     = 500
)

// Controls is what the API needs from the recognition controller.
type Controls interface {
	Start(ctx context.Context) error
	Stop() error
	Clear()
	DismissPermissionPrompt()
	Snapshot() recognition.Snapshot
}

// Diagnostics lists recent lifecycle events.
type Diagnostics interface {
	Recent(limit int) ([]journal.Entry, error)
}

func registerAPIRoutes(mux *http.ServeMux, opts Options) {
	controls := opts.Controls
	logger := opts.Logger

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if opts.Warnings != nil {
			warnings = opts.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"snapshot": controls.Snapshot(),
			"warnings": warnings,
		})
	})

	mux.HandleFunc("POST /api/start", func(w http.ResponseWriter, r *http.Request) {
		if err := controls.Start(r.Context()); err != nil {
			if errors.Is(err, recognition.ErrClosed) {
				writeJSONError(w, http.StatusServiceUnavailable, "recognition is shutting down")
				return
			}
			// The failure is already part of the snapshot.
			logger.Warn("start request failed", slog.String("error", err.Error()))
		}
		writeJSON(w, http.StatusOK, controls.Snapshot())
	})

	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, r *http.Request) {
		if err := controls.Stop(); err != nil {
			logger.Warn("stop request failed", slog.String("error", err.Error()))
		}
		writeJSON(w, http.StatusOK, controls.Snapshot())
	})

	mux.HandleFunc("POST /api/clear", func(w http.ResponseWriter, r *http.Request) {
		controls.Clear()
		writeJSON(w, http.StatusOK, controls.Snapshot())
	})

	mux.HandleFunc("POST /api/permission/dismiss", func(w http.ResponseWriter, r *http.Request) {
		controls.DismissPermissionPrompt()
		writeJSON(w, http.StatusOK, controls.Snapshot())
	})

	mux.HandleFunc("GET /api/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultDiagnosticsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxDiagnosticsLimit)
		}

		if opts.Diagnostics == nil {
			writeJSON(w, http.StatusOK, []journal.Entry{})
			return
		}
		entries, err := opts.Diagnostics.Recent(limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list diagnostics: %v", err))
			return
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
