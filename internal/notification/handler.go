package notification

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ghostzpy/truco-server/internal/session"
)

// Handler contains dependencies for handling notification endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

// List returns the caller's active notices. Requires the session middleware.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := session.AccountIDFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "access denied"})
		return
	}
	items, err := h.svc.List(r.Context(), id)
	if err != nil {
		h.logger.Errorw("list notifications failed", "account_id", id, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"msg": "internal server error"})
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.Debugw("invalid notification payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "invalid payload"})
		return
	}
	n, err := h.svc.Create(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownAccount):
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"msg": err.Error()})
		default:
			h.logger.Errorw("create notification failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"msg": "internal server error"})
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"msg": "notification not found"})
	default:
		h.logger.Errorw("delete notification failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"msg": "internal server error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
