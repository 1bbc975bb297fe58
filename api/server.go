package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/rickicode/bulkpanel/engine"
	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
)

// Server exposes the engine over HTTP.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates the HTTP layer over an engine.
func NewServer(e *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, logger: logger}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Get("/v1/kinds", s.handleKinds)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/logs", s.handleLogs)
			r.Post("/stop", s.handleStop)
			r.Delete("/", s.handleDelete)
		})
	})

	return r
}

// submitRequest is the POST /v1/jobs body.
type submitRequest struct {
	Kind        job.Kind        `json:"kind"`
	Items       []job.Item      `json:"items"`
	Credentials job.Credentials `json:"credentials"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	if req.Kind == "" {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_job", "kind is required")
		return
	}
	if len(req.Items) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_job", "items must be non-empty")
		return
	}

	jobID, err := s.engine.Submit(r.Context(), req.Kind, req.Items, req.Credentials)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID.String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}
	snap, err := s.engine.GetStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	page, err := s.engine.GetLogs(r.Context(), jobID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}
	if err := s.engine.RequestStop(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}
	if err := s.engine.Delete(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleKinds lists the workflow kinds accepted by POST /v1/jobs.
func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	kinds := s.engine.Kinds()
	slices.Sort(kinds)
	writeJSON(w, http.StatusOK, map[string][]job.Kind{"kinds": kinds})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jobID parses the path parameter, answering 404 on malformed IDs: a
// syntactically invalid ID can never name a job.
func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	raw := chi.URLParam(r, "jobID")
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		writeErrorMessage(w, http.StatusNotFound, "not_found", "no such job")
		return id.JobID{}, false
	}
	return jobID, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// requestID tags each request with a UUID for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", rid)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", ww.Header().Get("X-Request-Id")),
		)
	})
}
