package credential

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrWong99/frontdesk/internal/httpjson"
	"github.com/MrWong99/frontdesk/internal/observe"
	"github.com/MrWong99/frontdesk/pkg/types"
)

// Minter is the subset of [Gateway] used by [Handler].
type Minter interface {
	Mint(ctx context.Context, req Request) (Grant, error)
}

// Handler serves POST /api/token.
type Handler struct {
	minter Minter
}

// NewHandler creates a Handler backed by m.
func NewHandler(m Minter) *Handler {
	return &Handler{minter: m}
}

// ServeHTTP decodes a [Request], mints a credential and responds with
// {accessToken, url}. Malformed bodies are rejected before anything is
// minted.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpjson.Decode(r, &req, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, httpjson.MsgInvalidJSON)
		return
	}

	grant, err := h.minter.Mint(r.Context(), req)
	if err != nil {
		log := observe.Logger(r.Context())
		if errors.Is(err, types.ErrConfiguration) {
			log.Error("credential: signing material missing", "err", err)
			httpjson.Error(w, http.StatusInternalServerError, "Credential signing is not configured")
			return
		}
		log.Error("credential: mint failed", "err", err)
		httpjson.Error(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	httpjson.Write(w, http.StatusOK, grant)
}
