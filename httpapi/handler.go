// Package httpapi exposes the authentication engine over JSON HTTP.
package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	auth "github.com/Marriott12/armis-sub005"
)

// Handler serves the /auth/* endpoints.
type Handler struct {
	engine *auth.Engine
}

func New(engine *auth.Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes builds the endpoint mux. Read-only routes skip the CSRF check;
// every authenticated state-changing route requires both the bearer
// token and the X-CSRF-Token header.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.requireAuth(h.requireCSRF(h.handleLogout)))
	mux.HandleFunc("POST /auth/mfa/setup", h.requireAuth(h.requireCSRF(h.handleMFASetup)))
	mux.HandleFunc("POST /auth/mfa/verify", h.requireAuth(h.requireCSRF(h.handleMFAVerify)))
	mux.HandleFunc("POST /auth/mfa/disable", h.requireAuth(h.requireCSRF(h.handleMFADisable)))
	mux.HandleFunc("POST /auth/mfa/backup-codes", h.requireAuth(h.requireCSRF(h.handleBackupCodes)))
	mux.HandleFunc("GET /auth/audit", h.requireAuth(h.handleAudit))

	return withClientIP(mux)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	CSRFToken    string `json:"csrf_token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.engine.Login(r.Context(), req.Username, req.Password, req.MFACode)
	if err != nil {
		if errors.Is(err, auth.ErrRateLimited) {
			h.writeRateLimited(w, r, req.Username)
			return
		}
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResult(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResult(result))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if err := h.engine.Logout(r.Context(), identity.AccountID, identity.SessionID); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type mfaSetupResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	QRPNG           string   `json:"qr_png,omitempty"` // base64
	BackupCodes     []string `json:"backup_codes"`
}

func (h *Handler) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	setup, err := h.engine.SetupMFA(r.Context(), identity.AccountID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	resp := mfaSetupResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		BackupCodes:     setup.BackupCodes,
	}
	if len(setup.QRPNG) > 0 {
		resp.QRPNG = base64.StdEncoding.EncodeToString(setup.QRPNG)
	}
	writeJSON(w, http.StatusOK, resp)
}

type mfaVerifyRequest struct {
	Code string `json:"code"`
}

func (h *Handler) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identity := identityFrom(r.Context())
	if err := h.engine.ConfirmMFA(r.Context(), identity.AccountID, req.Code); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

// Disabling MFA and regenerating backup codes re-prove authenticator
// possession, so both take the current TOTP code in the body.
func (h *Handler) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identity := identityFrom(r.Context())
	if err := h.engine.DisableMFA(r.Context(), identity.AccountID, req.Code); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (h *Handler) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identity := identityFrom(r.Context())
	codes, err := h.engine.RegenerateBackupCodes(r.Context(), identity.AccountID, req.Code)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

type auditEntry struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	ClientIP   string    `json:"client_ip,omitempty"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var after time.Time
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after timestamp")
			return
		}
		after = parsed
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	events, err := h.engine.AuditTrail(r.Context(), identity.AccountID, after, limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	entries := make([]auditEntry, 0, len(events))
	for _, event := range events {
		entries = append(entries, auditEntry{
			ID:         event.ID,
			EventType:  event.EventType,
			ClientIP:   event.ClientIP,
			Success:    event.Success,
			Reason:     event.Reason,
			OccurredAt: event.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]auditEntry{"events": entries})
}

func tokenResult(result *auth.LoginResult) tokenResponse {
	return tokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
		CSRFToken:    result.CSRFToken,
	}
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
// Credential-class failures share one generic message so the response
// never distinguishes which factor failed.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrMFARequired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "mfa code required", MFARequired: true})
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidMFACode),
		errors.Is(err, auth.ErrMFAReplayed):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrRevokedToken):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, "account disabled")
	case errors.Is(err, auth.ErrCSRFMismatch):
		writeError(w, http.StatusForbidden, "csrf token mismatch")
	case errors.Is(err, auth.ErrMFAAlreadyEnabled),
		errors.Is(err, auth.ErrMFANotEnrolled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrRateLimited):
		h.writeRateLimited(w, r, "")
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeRateLimited(w http.ResponseWriter, r *http.Request, username string) {
	retryAfter := time.Minute
	if username != "" {
		if d, err := h.engine.RetryAfter(r.Context(), username); err == nil && d > 0 {
			retryAfter = d
		}
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.5)))
	writeError(w, http.StatusTooManyRequests, "too many attempts")
}
