package sandbox

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// callBody is the wire form of Client.Call.
type callBody struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

type startTaskBody struct {
	Index int `json:"index"`
}

type errorBody struct {
	Error string `json:"error"`
}

// NewRouter exposes a Platform over HTTP.
func NewRouter(p Platform) http.Handler {
	h := &handlers{platform: p}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/benchmarks/{name}", func(r chi.Router) {
			r.Get("/", h.benchmark)
			r.Post("/tasks", h.startTask)
			r.Post("/sessions", h.startSession)
		})
		r.Get("/sessions/{id}", h.session)
		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Post("/call", h.call)
			r.Post("/complete", h.complete)
			r.Post("/usage", h.usage)
		})
	})

	return r
}

type handlers struct {
	platform Platform
}

func (h *handlers) benchmark(w http.ResponseWriter, r *http.Request) {
	info, err := h.platform.Benchmark(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) startTask(w http.ResponseWriter, r *http.Request) {
	var body startTaskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, badRequest("invalid body: %v", err))
		return
	}
	info, err := h.platform.StartTask(r.Context(), chi.URLParam(r, "name"), body.Index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.platform.StartSession(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	info, err := h.platform.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) call(w http.ResponseWriter, r *http.Request) {
	var body callBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, badRequest("invalid body: %v", err))
		return
	}
	raw, err := h.platform.TaskClient(chi.URLParam(r, "taskID")).Call(r.Context(), body.Tool, body.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	c, err := h.platform.CompleteTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) usage(w http.ResponseWriter, r *http.Request) {
	var u UsageRecord
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, badRequest("invalid body: %v", err))
		return
	}
	if err := h.platform.LogUsage(r.Context(), chi.URLParam(r, "taskID"), u); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorBody{Error: apiErr.Detail})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}

// statusText is used by the client when a reply carries no error body.
func statusText(code int) string {
	return strconv.Itoa(code) + " " + http.StatusText(code)
}
