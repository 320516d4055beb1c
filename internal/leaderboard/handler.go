package leaderboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

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

// Top serves GET /leaderboard?limit=N.
func (h *Handler) Top(w http.ResponseWriter, r *http.Request) {
	limit := DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"msg": ErrInvalidLimit.Error()})
			return
		}
		limit = n
	}
	entries, err := h.svc.Top(r.Context(), limit)
	if err != nil {
		if errors.Is(err, ErrInvalidLimit) {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"msg": err.Error()})
			return
		}
		h.logger.Errorw("leaderboard query failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"msg": "internal server error"})
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
