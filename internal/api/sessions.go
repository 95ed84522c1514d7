package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/abhisek/lectio/internal/quickcmd"
	"github.com/abhisek/lectio/internal/reading"
	"github.com/abhisek/lectio/internal/tutor"
)

type startRequest struct {
	ContentID string `json:"content_id"`
}

type summaryRequest struct {
	Summary string `json:"summary"`
}

type advanceRequest struct {
	To reading.Phase `json:"to"`
}

type utteranceRequest struct {
	Text     string            `json:"text"`
	Metadata quickcmd.Metadata `json:"metadata"`
}

// StartSession creates a session in PRE.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ContentID) == "" {
		Error(w, http.StatusBadRequest, "content_id is required")
		return
	}

	res, err := h.tutor.StartSession(r.Context(), UserIDFromContext(r.Context()), req.ContentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.tutor.Session(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// UpdatePrePhase stores goal-setting and moves the session to DURING.
func (h *Handler) UpdatePrePhase(w http.ResponseWriter, r *http.Request) {
	var req reading.PreReading
	if !decode(w, r, &req) {
		return
	}
	s, err := h.tutor.UpdatePrePhase(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// SaveSummary stores the reader's summary.
func (h *Handler) SaveSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.tutor.SaveSummary(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()), req.Summary)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// AdvancePhase moves the session forward.
func (h *Handler) AdvancePhase(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if !decode(w, r, &req) {
		return
	}
	to := reading.Phase(strings.ToUpper(strings.TrimSpace(string(req.To))))
	s, err := h.tutor.AdvancePhase(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()), to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// ProcessUtterance records and answers one reader message.
func (h *Handler) ProcessUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	if !decode(w, r, &req) {
		return
	}
	reply, err := h.tutor.ProcessUtterance(r.Context(), tutor.Utterance{
		SessionID: chi.URLParam(r, "id"),
		UserID:    UserIDFromContext(r.Context()),
		Text:      req.Text,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// GetOutcome returns the scores of a finished session.
func (h *Handler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	o, err := h.tutor.Outcome(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, o)
}
