// Package httpapi exposes the trust core over HTTP: session
// establishment from identity-provider tokens, CSRF token retrieval and
// the MFA lifecycle endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/zeitwerk/platform/internal/csrf"
	"github.com/zeitwerk/platform/internal/identity"
	"github.com/zeitwerk/platform/internal/mfa"
	"github.com/zeitwerk/platform/internal/ratelimit"
	"github.com/zeitwerk/platform/internal/session"
	"github.com/zeitwerk/platform/internal/shared/config"
	"github.com/zeitwerk/platform/internal/shared/errors"
	"go.uber.org/zap"
)

// Handler provides the HTTP handlers for the trust core.
type Handler struct {
	cfg      *config.Config
	logger   *zap.Logger
	mapper   *identity.Mapper
	sessions *session.Manager
	csrf     *csrf.Guard
	engine   *mfa.Engine
}

// NewHandler creates the API handler.
func NewHandler(cfg *config.Config, logger *zap.Logger, mapper *identity.Mapper, sessions *session.Manager, csrfGuard *csrf.Guard, engine *mfa.Engine) *Handler {
	return &Handler{
		cfg:      cfg,
		logger:   logger,
		mapper:   mapper,
		sessions: sessions,
		csrf:     csrfGuard,
		engine:   engine,
	}
}

// Routes registers the API routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/session", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.GetSession)
		r.Delete("/", h.DeleteSession)
	})

	r.Get("/csrf", h.GetCSRFToken)

	r.Route("/mfa", func(r chi.Router) {
		r.Get("/status", h.MFAStatus)
		r.Post("/setup", h.BeginMFASetup)
		r.Post("/confirm", h.ConfirmMFASetup)
		r.Post("/verify", h.VerifyMFA)
		r.Post("/backup-codes", h.RegenerateBackupCodes)

		r.Route("/trusted-devices", func(r chi.Router) {
			r.Get("/", h.ListTrustedDevices)
			r.Delete("/{deviceID}", h.RevokeTrustedDevice)
		})
	})

	return r
}

type createSessionRequest struct {
	Token string `json:"token"`
}

// CreateSession exchanges a verified identity-provider token for a
// server-side session. The response carries the first CSRF token; the
// hash cookie and session cookie are set alongside.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = req.Token
		}
	}
	if token == "" {
		errors.WriteJSON(w, errors.Unauthorized("missing identity token"))
		return
	}

	claims, err := identity.VerifyIDPToken(h.cfg.Auth, token)
	if err != nil {
		h.logger.Warn("idp token rejected", zap.Error(err))
		errors.WriteJSON(w, errors.Unauthorized("invalid identity token"))
		return
	}

	principal, err := h.mapper.Resolve(r.Context(), claims)
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}

	sess, csrfCookie, err := h.sessions.Create(r.Context(), principal, ratelimit.ClientIP(r), r.UserAgent())
	if err != nil {
		h.logger.Error("session creation failed", zap.Error(err))
		errors.WriteJSON(w, err)
		return
	}

	h.sessions.SetCookie(w, sess)
	h.csrf.SetCookie(w, csrfCookie, h.cfg.Session.CookieSecure)

	writeJSON(w, http.StatusCreated, map[string]any{
		"user": map[string]any{
			"id":    principal.UserID,
			"email": principal.Email,
			"name":  principal.Name,
			"role":  principal.Role,
		},
		"csrf_token": sess.CSRFToken,
		"expires_at": sess.ExpiresAt,
	})
}

// GetSession returns the caller's session state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    sess.Principal.UserID,
			"email": sess.Principal.Email,
			"name":  sess.Principal.Name,
			"role":  sess.Principal.Role,
		},
		"mfa_verified": h.sessions.StepUpValid(sess),
		"expires_at":   sess.ExpiresAt,
	})
}

// DeleteSession logs the caller out.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	if err := h.sessions.Destroy(r.Context(), sess); err != nil {
		errors.WriteJSON(w, err)
		return
	}
	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetCSRFToken returns the session's current token, rotating it so a
// client that lost track of its token can always resynchronize.
func (h *Handler) GetCSRFToken(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	token, cookieValue, err := h.sessions.RotateCSRF(r.Context(), sess)
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	h.csrf.SetCookie(w, cookieValue, h.cfg.Session.CookieSecure)

	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": token})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
