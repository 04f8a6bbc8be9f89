package registrar

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/frontdesk/internal/httpjson"
	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// Response messages.
const (
	MsgCreated = "Customer session created successfully"
	MsgUpdated = "Customer session updated successfully"
)

// CreateRequest is the POST /api/customer-session body.
type CreateRequest struct {
	CustomerPhone string `json:"customerPhone"`
	CustomerName  string `json:"customerName,omitempty"`
}

// Response is the success body of every /api/customer-session call.
type Response struct {
	Success bool        `json:"success"`
	Session SessionView `json:"session"`
	Message string      `json:"message,omitempty"`
}

// SessionView is a session as returned over HTTP. CallDuration is reported
// in whole seconds for sessions that have started.
type SessionView struct {
	types.CustomerSession
	CallDuration *int64 `json:"callDuration,omitempty"`
}

// Handler serves /api/customer-session.
type Handler struct {
	reg *Registrar
}

// NewHandler creates a Handler backed by reg.
func NewHandler(reg *Registrar) *Handler {
	return &Handler{reg: reg}
}

// Routes mounts POST, GET and PUT on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.Get)
	r.Put("/", h.Update)
}

// Create handles POST.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpjson.Decode(r, &req, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, httpjson.MsgInvalidJSON)
		return
	}
	sess, err := h.reg.Create(r.Context(), req.CustomerPhone, req.CustomerName)
	if err != nil {
		h.fail(w, r, err, "Failed to create customer session")
		return
	}
	httpjson.Write(w, http.StatusOK, Response{Success: true, Session: SessionView{CustomerSession: sess}, Message: MsgCreated})
}

// Get handles GET with a sessionId or customerPhone query parameter.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, err := h.reg.Get(r.Context(), Lookup{
		SessionID: q.Get("sessionId"),
		Phone:     q.Get("customerPhone"),
	})
	if err != nil {
		h.fail(w, r, err, "Failed to fetch customer session")
		return
	}
	httpjson.Write(w, http.StatusOK, Response{Success: true, Session: h.view(sess)})
}

// Update handles PUT.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var u Update
	if err := httpjson.Decode(r, &u, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, httpjson.MsgInvalidJSON)
		return
	}
	sess, err := h.reg.Update(r.Context(), u)
	if err != nil {
		h.fail(w, r, err, "Failed to update customer session")
		return
	}
	httpjson.Write(w, http.StatusOK, Response{Success: true, Session: SessionView{CustomerSession: sess}, Message: MsgUpdated})
}

func (h *Handler) view(sess types.CustomerSession) SessionView {
	v := SessionView{CustomerSession: sess}
	if sess.StartTime.IsZero() {
		return v
	}
	end := h.reg.now()
	if sess.EndTime != nil {
		end = *sess.EndTime
	}
	secs := int64(end.Sub(sess.StartTime) / time.Second)
	if secs < 0 {
		secs = 0
	}
	v.CallDuration = &secs
	return v
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		httpjson.Error(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, types.ErrNotFound):
		httpjson.Error(w, http.StatusNotFound, "Customer session not found")
	default:
		observe.Logger(r.Context()).Error("registrar: request failed", "err", err)
		httpjson.Error(w, http.StatusInternalServerError, fallback)
	}
}
