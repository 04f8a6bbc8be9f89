package app

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/frontdesk/internal/httpjson"
	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// callsHandler serves /api/calls.
type callsHandler struct {
	calls *CallManager
}

func (h *callsHandler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/start", h.start)
	r.Delete("/{id}", h.end)
}

func (h *callsHandler) create(w http.ResponseWriter, r *http.Request) {
	var info types.CustomerInfo
	if err := httpjson.Decode(r, &info, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, httpjson.MsgInvalidJSON)
		return
	}
	v, err := h.calls.Create(info)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusAccepted, v)
}

func (h *callsHandler) list(w http.ResponseWriter, _ *http.Request) {
	httpjson.Write(w, http.StatusOK, h.calls.List())
}

func (h *callsHandler) get(w http.ResponseWriter, r *http.Request) {
	v, err := h.calls.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, v)
}

func (h *callsHandler) start(w http.ResponseWriter, r *http.Request) {
	v, err := h.calls.Start(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusAccepted, v)
}

func (h *callsHandler) end(w http.ResponseWriter, r *http.Request) {
	v, err := h.calls.End(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, v)
}

func (h *callsHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		httpjson.Error(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, types.ErrNotFound):
		httpjson.Error(w, http.StatusNotFound, "Call not found")
	case errors.Is(err, types.ErrAlreadyConnecting):
		httpjson.Error(w, http.StatusConflict, "Call is already in progress")
	case errors.Is(err, ErrShuttingDown):
		httpjson.Error(w, http.StatusServiceUnavailable, "Server is shutting down")
	default:
		observe.Logger(r.Context()).Error("app: call request failed", "err", err)
		httpjson.Error(w, http.StatusInternalServerError, "Failed to handle call")
	}
}
