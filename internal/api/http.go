package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ollamaup/internal/catalog"
	"github.com/kalambet/ollamaup/internal/install"
	"github.com/kalambet/ollamaup/internal/panel"
	"github.com/kalambet/ollamaup/internal/provision"
	"github.com/kalambet/ollamaup/internal/storage"
)

const maxRequestBodySize = 64 << 10

// HistoryLister lists past provisioning runs.
type HistoryLister interface {
	RecentRuns(limit int) ([]storage.Run, error)
}

type AppDeps struct {
	Panel        *panel.Panel
	Catalog      catalog.Resolver
	History      HistoryLister // optional; /api/history returns 404 when nil
	Token        string
	PollInterval time.Duration
}

// NewAppHandler returns the panel transport: JSON routes under /api and the
// message channel at /ws, both behind bearer auth.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/ws", handleWebSocket(deps))

		r.Route("/api", func(r chi.Router) {
			r.Get("/init", handleInit(deps))
			r.Get("/status", handleStatus(deps))
			r.Post("/server/install", handleInstallServer(deps))
			r.Post("/server/recheck", handleRecheck(deps))
			r.Post("/setup", handleSetup(deps))
			r.Delete("/setup", handleCancelSetup(deps))
			r.Get("/models/{id}/info", handleModelInfo(deps))
			r.Get("/history", handleHistory(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleInit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Panel.Init())
	}
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, _ := deps.Panel.Status(r.Context())
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleInstallServer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Mode install.Mode `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Panel.InstallServer(r.Context(), req.Mode); err != nil {
			if errors.Is(err, install.ErrUnknownMode) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "install failed: %v", err)
			return
		}

		snap, _ := deps.Panel.Status(r.Context())
		writeJSON(w, http.StatusAccepted, snap)
	}
}

func handleRecheck(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Panel.Recheck(r.Context()))
	}
}

// ndjsonPoster streams panel messages as newline-delimited JSON.
type ndjsonPoster struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (p *ndjsonPoster) Post(msg panel.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		p.w.Header().Set("Content-Type", "application/x-ndjson")
		p.w.Header().Set("Cache-Control", "no-cache")
		p.w.WriteHeader(http.StatusOK)
		p.started = true
	}
	if err := json.NewEncoder(p.w).Encode(msg); err != nil {
		return err
	}
	p.flusher.Flush()
	return nil
}

func handleSetup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var sel provision.Selections
		if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(sel.Models()) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of chatModelId, tabModelId, embeddingsModelId is required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		out := &ndjsonPoster{w: w, flusher: flusher}
		err := deps.Panel.Setup(r.Context(), sel, out)
		if errors.Is(err, panel.ErrSetupRunning) && !out.started {
			httpError(w, http.StatusConflict, "conflict_error", "a setup is already running")
		}
	}
}

func handleCancelSetup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": deps.Panel.CancelSetup()})
	}
}

func handleModelInfo(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := url.PathUnescape(chi.URLParam(r, "id"))
		if err != nil || id == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid model id")
			return
		}
		writeJSON(w, http.StatusOK, catalog.Lookup(r.Context(), deps.Catalog, id))
	}
}

type runResponse struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      string    `json:"finished_at,omitempty"`
	Models          []string  `json:"models"`
	Pulled          []string  `json:"pulled"`
	ChatModel       string    `json:"chat_model,omitempty"`
	TabModel        string    `json:"tab_model,omitempty"`
	EmbeddingsModel string    `json:"embeddings_model,omitempty"`
	Outcome         string    `json:"outcome"`
	FailedModel     string    `json:"failed_model,omitempty"`
	Error           string    `json:"error,omitempty"`
}

func toRunResponse(r storage.Run) runResponse {
	resp := runResponse{
		ID:              r.ID,
		StartedAt:       r.StartedAt,
		Models:          r.Models,
		Pulled:          r.Pulled,
		ChatModel:       r.ChatModel,
		TabModel:        r.TabModel,
		EmbeddingsModel: r.EmbeddingsModel,
		Outcome:         r.Outcome,
		FailedModel:     r.FailedModel,
		Error:           r.Error,
	}
	if !r.FinishedAt.IsZero() {
		resp.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	if resp.Pulled == nil {
		resp.Pulled = []string{}
	}
	return resp
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "history is not enabled")
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 500 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		runs, err := deps.History.RecentRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing history: %v", err)
			return
		}
		out := make([]runResponse, len(runs))
		for i, run := range runs {
			out[i] = toRunResponse(run)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
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
