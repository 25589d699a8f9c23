// Package api provides HTTP handlers for the negotiation lab.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/deegee85/negotiation-lab/internal/domain"
	"github.com/deegee85/negotiation-lab/internal/engine"
	"github.com/deegee85/negotiation-lab/internal/metrics"
	"github.com/deegee85/negotiation-lab/internal/store"
	"github.com/deegee85/negotiation-lab/internal/summary"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize caps request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Handler handles negotiation endpoints.
type Handler struct {
	sessions store.SessionStore
	codes    store.AccessCodeStore
	eng      *engine.Engine
}

// NewHandler creates a new Handler.
func NewHandler(sessions store.SessionStore, codes store.AccessCodeStore, eng *engine.Engine) *Handler {
	return &Handler{
		sessions: sessions,
		codes:    codes,
		eng:      eng,
	}
}

// RegisterRoutes registers negotiation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/chat", h.Chat)
		r.Get("/summaries", h.Summaries)
		r.Get("/transcript", h.Transcript)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type startRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Start validates the access code and returns the session handle for the
// identity. Starting twice with the same email returns the existing session
// without resetting it.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Code = strings.TrimSpace(req.Code)
	if req.Name == "" || req.Email == "" || req.Code == "" {
		Error(w, http.StatusBadRequest, "missing name, email, or code")
		return
	}

	ok, err := h.codes.IsValid(r.Context(), req.Code)
	if err != nil {
		slog.Error("Access code check failed", "error", err)
		Error(w, http.StatusInternalServerError, "access code check failed")
		return
	}
	if !ok {
		Error(w, http.StatusForbidden, "invalid access code")
		return
	}

	session, created, err := h.sessions.Create(req.Name, req.Email)
	if err != nil {
		slog.Error("Failed to create session", "error", err, "email", req.Email)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if created {
		slog.Info("Session started", "session_id", session.Handle, "email", session.Email)
		metrics.SessionsStarted.Inc()
	}

	JSON(w, http.StatusOK, map[string]string{"session_id": session.Handle})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Chat processes one negotiation turn and returns the reply text.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id required")
		return
	}

	reply, err := h.eng.ProcessTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			Error(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			Error(w, http.StatusNotFound, "unknown session")
		case errors.Is(err, domain.ErrBusy):
			Error(w, http.StatusConflict, "a turn is already being processed, retry shortly")
		default:
			slog.Error("Turn processing failed", "error", err, "session_id", req.SessionID)
			Error(w, http.StatusInternalServerError, "turn processing failed")
		}
		return
	}

	JSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// Summaries returns derived records for every session in creation order.
func (h *Handler) Summaries(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, summary.SummarizeAll(h.sessions))
}

// Transcript returns the ordered turns of one session, looked up by
// session_id or by participant email. Rendering is the consumer's concern;
// this is just the read.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("session_id")
	email := r.URL.Query().Get("email")
	if handle == "" && email == "" {
		Error(w, http.StatusBadRequest, "session_id or email required")
		return
	}

	var (
		session *domain.Session
		err     error
	)
	if handle != "" {
		session, err = h.sessions.Get(handle)
	} else {
		session, err = h.sessions.GetByEmail(email)
	}
	if err != nil {
		Error(w, http.StatusNotFound, "unknown session")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.Handle,
		"turns":      session.Turns(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
