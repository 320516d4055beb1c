package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ghostzpy/truco-server/internal/metrics"
	"github.com/ghostzpy/truco-server/internal/session"
)

const maxBodyBytes = 1 << 20

// TokenValidator resolves a bearer session token to an account id.
type TokenValidator interface {
	Validate(raw string) (string, error)
}

// Handler exposes the /auth, /user and admin balance endpoints.
type Handler struct {
	svc      *Service
	sessions TokenValidator
	logger   *zap.SugaredLogger
}

func NewHandler(svc *Service, sessions TokenValidator, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, sessions: sessions, logger: logger}
}

type emailRequest struct {
	Email string `json:"email"`
}

func (r emailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (r codeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Code, validation.Required, is.Digit),
	)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Msg       string    `json:"msg"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ID        string    `json:"id"`
}

// resetPasswordRequest carries both reset variants: a reset code, or the
// current password of a signed-in caller.
type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
	OldPassword string `json:"oldPassword"`
	SenhaAntiga string `json:"senhaAntiga"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type balanceRequest struct {
	Balance *decimal.Decimal `json:"balance"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.Register(r.Context(), req)
	metrics.AuthEvent("register", outcome(err))
	if err != nil {
		h.writeError(w, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"msg": "user created, check your email for the activation code",
		"id":  a.ID,
	})
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid token or email")
		return
	}
	err := h.svc.VerifyEmail(r.Context(), req.Email, req.Code)
	metrics.AuthEvent("verify_email", outcome(err))
	if err != nil {
		h.writeError(w, "verify email", err)
		return
	}
	writeMsg(w, http.StatusOK, "email verified")
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeMsg(w, http.StatusBadRequest, "email is required")
		return
	}
	err := h.svc.ResendVerification(r.Context(), req.Email)
	metrics.AuthEvent("resend_verification", outcome(err))
	if err != nil {
		h.writeError(w, "resend verification", err)
		return
	}
	writeMsg(w, http.StatusOK, "verification code sent")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	metrics.AuthEvent("login", outcome(err))
	if err != nil {
		h.writeError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Msg:       "authenticated",
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		ID:        res.AccountID,
	})
}

func (h *Handler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeMsg(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	_, err := h.svc.RequestPasswordReset(r.Context(), req.Email)
	metrics.AuthEvent("request_reset", outcome(err))
	if err != nil {
		h.writeError(w, "request reset", err)
		return
	}
	writeMsg(w, http.StatusOK, "reset code sent")
}

func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.VerifyResetToken(r.Context(), req.Email, req.Code)
	metrics.AuthEvent("verify_reset_token", outcome(err))
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
		return
	}
	reason := tokenFailureReason(err)
	if reason == "" {
		h.logger.Errorw("verify reset token failed", "err", err)
		writeMsg(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "reason": reason})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Code != "" {
		err := h.svc.ConfirmPasswordReset(r.Context(), req.Email, req.Code, req.NewPassword)
		metrics.AuthEvent("confirm_reset", outcome(err))
		if err != nil {
			h.writeError(w, "confirm reset", err)
			return
		}
		writeMsg(w, http.StatusOK, "password reset")
		return
	}

	raw := session.BearerToken(r)
	if req.NewPassword == "" || raw == "" {
		writeMsg(w, http.StatusUnprocessableEntity, "new password and token are required")
		return
	}
	id, err := h.sessions.Validate(raw)
	if err != nil {
		writeMsg(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	old := req.OldPassword
	if old == "" {
		old = req.SenhaAntiga
	}
	if old == "" {
		writeMsg(w, http.StatusUnprocessableEntity, "old password is required")
		return
	}
	h.changePassword(w, r, id, old, req.NewPassword)
}

// ChangePassword is mounted behind the session middleware.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := session.AccountIDFromContext(r.Context())
	if !ok {
		writeMsg(w, http.StatusUnauthorized, "access denied")
		return
	}
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.changePassword(w, r, id, req.OldPassword, req.NewPassword)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request, id, old, fresh string) {
	err := h.svc.ChangePassword(r.Context(), id, old, fresh)
	metrics.AuthEvent("change_password", outcome(err))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeMsg(w, http.StatusUnprocessableEntity, "invalid old password")
			return
		}
		h.writeError(w, "change password", err)
		return
	}
	writeMsg(w, http.StatusOK, "password changed")
}

func (h *Handler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.EmailExists(r.Context(), pathParam(r, "email"))
	if err != nil {
		h.writeError(w, "check email", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

func (h *Handler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.UsernameExists(r.Context(), pathParam(r, "username"))
	if err != nil {
		h.writeError(w, "check username", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

// GetByID returns the full profile; mounted behind the session middleware.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		h.writeError(w, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": a.Profile()})
}

// GetByEmail returns the full profile; mounted behind the session middleware.
func (h *Handler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetByEmail(r.Context(), pathParam(r, "email"))
	if err != nil {
		h.writeError(w, "get account by email", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": a.Profile()})
}

func (h *Handler) Data(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetByEmail(r.Context(), pathParam(r, "email"))
	if err != nil {
		h.writeError(w, "get account data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points":   a.Points,
		"objectId": a.ID,
		"username": a.Username,
		"email":    a.Email,
	})
}

func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetByEmail(r.Context(), pathParam(r, "email"))
	if err != nil {
		h.writeError(w, "get account detail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": a.Username,
		"name":     a.Name,
		"points":   a.Points,
		"balance":  a.Balance,
	})
}

func (h *Handler) Username(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetByEmail(r.Context(), pathParam(r, "email"))
	if err != nil {
		h.writeError(w, "get username", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": a.Username})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetByEmail(r.Context(), pathParam(r, "email"))
	if err != nil {
		h.writeError(w, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": a.Balance})
}

func (h *Handler) Points(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetByEmail(r.Context(), pathParam(r, "email"))
	if err != nil {
		h.writeError(w, "get points", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"points": a.Points})
}

// UpdateBalance is mounted behind the session middleware and RequireAdmin.
func (h *Handler) UpdateBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Balance == nil {
		writeMsg(w, http.StatusUnprocessableEntity, "balance is required")
		return
	}
	a, err := h.svc.UpdateBalance(r.Context(), pathParam(r, "id"), *req.Balance)
	if err != nil {
		h.writeError(w, "update balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"msg": "balance updated", "balance": a.Balance})
}

// RequireAdmin rejects callers whose session does not belong to an admin.
// It must run after the session middleware.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := session.AccountIDFromContext(r.Context())
		if !ok {
			writeMsg(w, http.StatusUnauthorized, "access denied")
			return
		}
		if err := h.svc.RequireAdmin(r.Context(), id); err != nil {
			h.writeError(w, "require admin", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		writeMsg(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeMsg(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEmailTaken):
		writeMsg(w, http.StatusUnprocessableEntity, "please use another email")
	case errors.Is(err, ErrUsernameTaken):
		writeMsg(w, http.StatusUnprocessableEntity, "username already in use")
	case errors.Is(err, ErrNotFound):
		writeMsg(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrInvalidCredentials):
		writeMsg(w, http.StatusUnprocessableEntity, "invalid password")
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpired), errors.Is(err, ErrEmailMismatch):
		writeMsg(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadyActive):
		writeMsg(w, http.StatusBadRequest, "account already verified")
	case errors.Is(err, ErrNotActivated):
		writeMsg(w, http.StatusForbidden, "account not verified")
	case errors.Is(err, ErrForbidden):
		writeMsg(w, http.StatusForbidden, "admin privileges required")
	case errors.Is(err, ErrRateLimited):
		writeMsg(w, http.StatusTooManyRequests, "too many attempts, try again later")
	default:
		h.logger.Errorw(op+" failed", "err", err)
		writeMsg(w, http.StatusInternalServerError, "internal server error")
	}
}

// tokenFailureReason returns the client-facing reason for a reset token
// rejection, or "" for internal failures.
func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "email and code are required"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrEmailMismatch):
		return "email mismatch"
	}
	return ""
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid_input"
	case IsConflict(err):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCredentials):
		return "bad_credentials"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrEmailMismatch):
		return "bad_token"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrNotActivated):
		return "wrong_state"
	}
	return "error"
}

// pathParam returns the decoded chi URL parameter; emails may arrive
// percent-encoded.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func writeMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"msg": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
