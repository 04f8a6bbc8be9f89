package dashboard

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/frontdesk/internal/httpjson"
	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// Validation messages.
const (
	MsgResponseRequired = "Supervisor response is required"
	MsgQuestionRequired = "Question is required"
	MsgAnswerRequired   = "Answer is required"
)

// MsgBackendUnavailable is returned when the supervisor backend cannot be
// reached or answered with a server error.
const MsgBackendUnavailable = "Supervisor backend unavailable"

// Handler serves the supervisor views.
type Handler struct {
	svc *Service
}

// NewHandler creates a Handler backed by svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the supervisor endpoints on r, which is expected to be the
// /api sub-router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/dashboard", h.getDashboard)
	r.Patch("/help-requests/{id}/resolve", h.resolve)
	r.Get("/knowledge-base", h.getKnowledgeBase)
	r.Post("/knowledge-base", h.addKnowledgeEntry)
	r.Get("/analytics", h.getAnalytics)
	r.Post("/cleanup-timeouts", h.cleanupTimeouts)
	r.Get("/backend-health", h.getHealth)
}

func (h *Handler) getDashboard(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Dashboard(r.Context())
	h.reply(w, r, out, err)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req types.ResolveRequest
	if err := httpjson.Decode(r, &req, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, httpjson.MsgInvalidJSON)
		return
	}
	out, err := h.svc.ResolveHelpRequest(r.Context(), chi.URLParam(r, "id"), req)
	h.reply(w, r, out, err)
}

func (h *Handler) getKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.KnowledgeBase(r.Context(), r.URL.Query().Get("category"))
	h.reply(w, r, out, err)
}

func (h *Handler) addKnowledgeEntry(w http.ResponseWriter, r *http.Request) {
	var e types.NewKnowledgeEntry
	if err := httpjson.Decode(r, &e, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, httpjson.MsgInvalidJSON)
		return
	}
	out, err := h.svc.AddKnowledgeEntry(r.Context(), e)
	h.reply(w, r, out, err)
}

func (h *Handler) getAnalytics(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Analytics(r.Context())
	h.reply(w, r, out, err)
}

func (h *Handler) cleanupTimeouts(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.CleanupTimeouts(r.Context())
	h.reply(w, r, out, err)
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Health(r.Context())
	h.reply(w, r, out, err)
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err == nil {
		httpjson.Write(w, http.StatusOK, v)
		return
	}
	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		msg := ve.Message
		if msg == "" {
			msg = "Invalid request"
		}
		httpjson.Error(w, http.StatusBadRequest, msg)
	case errors.Is(err, types.ErrNotFound):
		httpjson.Error(w, http.StatusNotFound, "Not found")
	default:
		observe.Logger(r.Context()).Warn("dashboard: backend request failed", "err", err)
		httpjson.Error(w, http.StatusBadGateway, MsgBackendUnavailable)
	}
}
