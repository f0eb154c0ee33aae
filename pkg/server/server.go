// Package server implements the C11 management HTTP API: read/query
// endpoints over the provenance store's captured requests, attributions,
// feedback, and per-source metrics, mounted via go-chi/chi the same way
// the front-end server's C6 HTTP surface is, per the spec's requirement
// that the management API and the front-end listener be distinct mounts.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mcpmux/proxy/pkg/feedback"
	"github.com/mcpmux/proxy/pkg/mcperr"
	"github.com/mcpmux/proxy/pkg/provenance"
)

// Server is the management HTTP API, read-mostly over one provenance
// Store plus the feedback submission path.
type Server struct {
	store    *provenance.Store
	feedback *feedback.Engine
}

// New builds a management API Server over store, submitting feedback
// through engine so submissions share the same serialized propagation
// path as every other caller.
func New(store *provenance.Store, engine *feedback.Engine) *Server {
	return &Server{store: store, feedback: engine}
}

// Handler returns the chi-routed http.Handler for this API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/requests", s.listCapturedRequests)
	r.Get("/lineage/{responseID}", s.getLineageManifest)
	r.Post("/feedback", s.submitFeedback)

	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// statusForError maps the internal error taxonomy onto the spec's
// fixed HTTP status mapping: 400 validation, 404 unknown id (storage
// lookup miss), 500 everything else.
func statusForError(err error) int {
	switch {
	case mcperr.Is(err, mcperr.KindValidation):
		return http.StatusBadRequest
	case mcperr.Is(err, mcperr.KindStorage):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// listCapturedRequests lists captured requests filtered by ISO-8601
// since/until, an optional host, and limit/offset pagination.
func (s *Server) listCapturedRequests(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	since, err := parseTimeOrDefault(q.Get("since"), time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since timestamp")
		return
	}
	until, err := parseTimeOrDefault(q.Get("until"), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid until timestamp")
		return
	}
	limit := parseIntOrDefault(q.Get("limit"), 50)
	offset := parseIntOrDefault(q.Get("offset"), 0)

	requests, err := s.store.ListCapturedRequests(req.Context(), since, until, q.Get("host"), limit, offset)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

func (s *Server) getLineageManifest(w http.ResponseWriter, req *http.Request) {
	responseID := chi.URLParam(req, "responseID")
	manifest, err := s.store.GetLineageManifest(req.Context(), responseID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if len(manifest.Entries) == 0 {
		writeError(w, http.StatusNotFound, "no lineage recorded for "+responseID)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

type submitFeedbackRequest struct {
	ResponseID string  `json:"response_id"`
	UserID     string  `json:"user_id"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
	Overwrite  bool    `json:"overwrite"`
}

// submitFeedback applies a feedback submission. Unlike the tracing-tool
// submit-feedback path (always idempotent replace), a bare REST
// resubmission without "overwrite": true is rejected with 409 Conflict —
// the spec's management-surface requirement — so HTTP clients must
// explicitly opt into replacing a prior rating.
func (s *Server) submitFeedback(w http.ResponseWriter, req *http.Request) {
	var body submitFeedbackRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ResponseID == "" || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "response_id and user_id are required")
		return
	}

	if !body.Overwrite {
		exists, err := s.store.HasFeedback(req.Context(), body.ResponseID, body.UserID)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		if exists {
			writeError(w, http.StatusConflict, "feedback already exists for this response and user; retry with overwrite=true")
			return
		}
	}

	if err := s.feedback.Submit(req.Context(), body.ResponseID, body.UserID, body.Score, body.Text); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func parseTimeOrDefault(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

func parseIntOrDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
