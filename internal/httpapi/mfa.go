package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/zeitwerk/platform/internal/pipeline"
	"github.com/zeitwerk/platform/internal/ratelimit"
	"github.com/zeitwerk/platform/internal/session"
	"github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/types"
)

// MFAStatus reports the caller's MFA state.
func (h *Handler) MFAStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	status, err := h.engine.Status(r.Context(), sess.Principal)
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// BeginMFASetup issues a temporary secret and returns the provisioning
// data for the authenticator app.
func (h *Handler) BeginMFASetup(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	info, err := h.engine.BeginSetup(r.Context(), sess.Principal, ratelimit.ClientIP(r), r.UserAgent())
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type codeRequest struct {
	Code        string `json:"code"`
	TrustDevice bool   `json:"trust_device"`
	DeviceName  string `json:"device_name"`
}

// ConfirmMFASetup verifies the first code against the pending secret
// and returns the backup codes. They are shown exactly once.
func (h *Handler) ConfirmMFASetup(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteJSON(w, errors.BadRequest("invalid request body"))
		return
	}

	codes, err := h.engine.ConfirmSetup(r.Context(), sess.Principal, req.Code, ratelimit.ClientIP(r), r.UserAgent())
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}

	if err := h.sessions.MarkMFAVerified(r.Context(), sess); err != nil {
		errors.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":      true,
		"backup_codes": codes,
	})
}

// VerifyMFA checks a TOTP or backup code and marks the session step-up
// verified. With trust_device set, a trusted-device token is minted and
// set as a cookie so future logins from this client skip the prompt.
func (h *Handler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteJSON(w, errors.BadRequest("invalid request body"))
		return
	}

	method, err := h.engine.Verify(r.Context(), sess.Principal, req.Code, ratelimit.ClientIP(r), r.UserAgent())
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}

	if err := h.sessions.MarkMFAVerified(r.Context(), sess); err != nil {
		errors.WriteJSON(w, err)
		return
	}

	resp := map[string]any{"verified": true, "method": method}

	if req.TrustDevice {
		name := req.DeviceName
		if name == "" {
			name = r.UserAgent()
		}
		token, device, err := h.engine.IssueTrustedDevice(r.Context(), sess.Principal, name, ratelimit.ClientIP(r), r.UserAgent())
		if err != nil {
			errors.WriteJSON(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     pipeline.TrustedDeviceCookie,
			Value:    token,
			Path:     "/",
			Expires:  device.ExpiresAt,
			Secure:   h.cfg.Session.CookieSecure,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		resp["trusted_device_expires_at"] = device.ExpiresAt
	}

	writeJSON(w, http.StatusOK, resp)
}

// RegenerateBackupCodes replaces all backup codes and returns the new
// set. The step-up gate upstream guarantees a fresh verification.
func (h *Handler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	if !h.sessions.StepUpValid(sess) {
		errors.WriteJSON(w, errors.Forbidden("MFA verification required"))
		return
	}

	codes, err := h.engine.RegenerateBackupCodes(r.Context(), sess.Principal, ratelimit.ClientIP(r), r.UserAgent())
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

type trustedDeviceResponse struct {
	ID         types.ID  `json:"id"`
	DeviceName string    `json:"device_name"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListTrustedDevices returns the caller's registered devices. Token
// hashes never leave the server.
func (h *Handler) ListTrustedDevices(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	devices, err := h.engine.ListTrustedDevices(r.Context(), sess.Principal.UserID)
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}

	out := make([]trustedDeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, trustedDeviceResponse{
			ID:         d.ID,
			DeviceName: d.DeviceName,
			ExpiresAt:  d.ExpiresAt,
			CreatedAt:  d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// RevokeTrustedDevice removes one trusted device.
func (h *Handler) RevokeTrustedDevice(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		errors.WriteJSON(w, errors.Unauthorized("no active session"))
		return
	}

	deviceID, err := types.ParseID(chi.URLParam(r, "deviceID"))
	if err != nil {
		errors.WriteJSON(w, errors.BadRequest("invalid device ID"))
		return
	}

	if err := h.engine.RevokeTrustedDevice(r.Context(), sess.Principal, deviceID, ratelimit.ClientIP(r)); err != nil {
		errors.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
