// Package csrf implements the double-submit cookie defense: a random
// token held server-side in the session must be echoed back by the
// client and must hash-match a cookie the attacker cannot read
// cross-origin.
package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeitwerk/platform/internal/shared/config"
	"github.com/zeitwerk/platform/internal/shared/errors"
)

// Machine-readable failure codes. Clients refresh the token and retry
// exactly once on any of them.
const (
	CodeMissing        = "CSRF_MISSING"
	CodeMismatch       = "CSRF_MISMATCH"
	CodeCookieMismatch = "CSRF_COOKIE_MISMATCH"
	CodeExpired        = "CSRF_EXPIRED"
	CodeOrigin         = "CSRF_ORIGIN"
)

const tokenBytes = 32

// Guard validates state-changing requests.
type Guard struct {
	cfg config.CSRFConfig
	now func() time.Time
}

// NewGuard creates a CSRF guard.
func NewGuard(cfg config.CSRFConfig) *Guard {
	return &Guard{cfg: cfg, now: time.Now}
}

// RequiresProtection reports whether the method changes state.
// GET/HEAD/OPTIONS are exempt.
func (g *Guard) RequiresProtection(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Issue generates a fresh token pair: the token itself, stored in the
// session and returned to the client in the response body, and the
// cookie value sha256(token).
func (g *Guard) Issue() (token, cookieValue string, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", errors.Wrap(err, "generate csrf token")
	}
	token = hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	return token, hex.EncodeToString(sum[:]), nil
}

// CookieName is the name of the hash cookie.
func (g *Guard) CookieName() string {
	return g.cfg.TokenName + "_hash"
}

// SetCookie writes the hash cookie on the response.
func (g *Guard) SetCookie(w http.ResponseWriter, cookieValue string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.CookieName(),
		Value:    cookieValue,
		Path:     "/",
		MaxAge:   int(g.cfg.Lifetime.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Validate checks a state-changing request against the token stored in
// the session. All comparisons are constant time; the first failed
// check wins and is reported with its machine-readable code.
func (g *Guard) Validate(storedToken string, issuedAt time.Time, r *http.Request) *errors.AppError {
	submitted := ExtractToken(r, g.cfg.TokenName)
	if storedToken == "" || submitted == "" {
		return errors.CSRF(CodeMissing, "missing CSRF token")
	}
	if subtle.ConstantTimeCompare([]byte(storedToken), []byte(submitted)) != 1 {
		return errors.CSRF(CodeMismatch, "invalid CSRF token")
	}

	cookie, err := r.Cookie(g.CookieName())
	if err != nil || cookie.Value == "" {
		return errors.CSRF(CodeCookieMismatch, "missing CSRF cookie")
	}
	sum := sha256.Sum256([]byte(submitted))
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(cookie.Value)) != 1 {
		return errors.CSRF(CodeCookieMismatch, "CSRF cookie mismatch")
	}

	if g.now().Sub(issuedAt) > g.cfg.Lifetime {
		return errors.CSRF(CodeExpired, "CSRF token expired")
	}

	if g.cfg.Strict {
		if err := g.checkOrigin(r.Header.Get("Origin"), r.Header.Get("Referer")); err != nil {
			return err
		}
	}
	return nil
}

// checkOrigin validates the Origin header, falling back to Referer,
// against the configured whitelist. Local development hosts are always
// accepted.
func (g *Guard) checkOrigin(origin, referer string) *errors.AppError {
	source := origin
	if source == "" {
		source = referer
	}
	if source == "" {
		return errors.CSRF(CodeOrigin, "missing Origin header")
	}

	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return errors.CSRF(CodeOrigin, "malformed Origin header")
	}
	base := u.Scheme + "://" + u.Host

	if isLocalHost(u.Hostname()) {
		return nil
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), base) {
			return nil
		}
	}
	return errors.CSRF(CodeOrigin, "origin not allowed")
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
