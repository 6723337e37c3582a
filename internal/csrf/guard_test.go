package csrf

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zeitwerk/platform/internal/shared/config"
)

func testGuard() *Guard {
	return NewGuard(config.CSRFConfig{
		TokenName:      "csrf_token",
		Lifetime:       time.Hour,
		Strict:         true,
		AllowedOrigins: []string{"https://zeit.example.com"},
	})
}

// validRequest builds a POST carrying the token in the header and the
// matching hash cookie.
func validRequest(g *Guard, token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/time-entries", nil)
	r.Header.Set("X-CSRF-Token", token)
	r.Header.Set("Origin", "https://zeit.example.com")
	sum := sha256.Sum256([]byte(token))
	r.AddCookie(&http.Cookie{Name: g.CookieName(), Value: hex.EncodeToString(sum[:])})
	return r
}

func TestIssue(t *testing.T) {
	g := testGuard()

	token, cookieValue, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("Expected 64-character token, got %d", len(token))
	}
	sum := sha256.Sum256([]byte(token))
	if cookieValue != hex.EncodeToString(sum[:]) {
		t.Error("Cookie value is not sha256 of the token")
	}

	token2, _, _ := g.Issue()
	if token == token2 {
		t.Error("Issue produced a duplicate token")
	}
}

func TestRequiresProtection(t *testing.T) {
	g := testGuard()

	for method, want := range map[string]bool{
		"GET": false, "HEAD": false, "OPTIONS": false,
		"POST": true, "PUT": true, "PATCH": true, "DELETE": true,
		"post": true,
	} {
		if got := g.RequiresProtection(method); got != want {
			t.Errorf("RequiresProtection(%s) = %v, want %v", method, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	g := testGuard()
	now := time.Unix(1700000000, 0)
	g.now = func() time.Time { return now }

	token, _, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	otherToken, _, _ := g.Issue()

	tests := []struct {
		name     string
		mutate   func(r *http.Request)
		issuedAt time.Time
		wantCode string
	}{
		{"valid request", func(r *http.Request) {}, now, ""},
		{"missing token", func(r *http.Request) {
			r.Header.Del("X-CSRF-Token")
		}, now, CodeMissing},
		{"token mismatch", func(r *http.Request) {
			r.Header.Set("X-CSRF-Token", otherToken)
		}, now, CodeMismatch},
		{"missing cookie", func(r *http.Request) {
			r.Header.Del("Cookie")
		}, now, CodeCookieMismatch},
		{"cookie hash mismatch", func(r *http.Request) {
			r.Header.Del("Cookie")
			r.AddCookie(&http.Cookie{Name: g.CookieName(), Value: strings.Repeat("ab", 32)})
		}, now, CodeCookieMismatch},
		{"expired token", func(r *http.Request) {}, now.Add(-2 * time.Hour), CodeExpired},
		{"disallowed origin", func(r *http.Request) {
			r.Header.Set("Origin", "https://evil.example.net")
		}, now, CodeOrigin},
		{"missing origin in strict mode", func(r *http.Request) {
			r.Header.Del("Origin")
		}, now, CodeOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest(g, token)
			tt.mutate(r)

			appErr := g.Validate(token, tt.issuedAt, r)
			if tt.wantCode == "" {
				if appErr != nil {
					t.Fatalf("Expected success, got %s: %s", appErr.Code, appErr.Message)
				}
				return
			}
			if appErr == nil {
				t.Fatalf("Expected failure %s, got success", tt.wantCode)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, appErr.Code)
			}
		})
	}
}

func TestValidateOriginFallbacks(t *testing.T) {
	g := testGuard()
	token, _, _ := g.Issue()

	// Referer substitutes for a missing Origin header.
	r := validRequest(g, token)
	r.Header.Del("Origin")
	r.Header.Set("Referer", "https://zeit.example.com/time-entries")
	if appErr := g.Validate(token, time.Now(), r); appErr != nil {
		t.Errorf("Referer fallback rejected: %s", appErr.Code)
	}

	// Local development origins pass regardless of the whitelist.
	r = validRequest(g, token)
	r.Header.Set("Origin", "http://localhost:5173")
	if appErr := g.Validate(token, time.Now(), r); appErr != nil {
		t.Errorf("Localhost origin rejected: %s", appErr.Code)
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *http.Request
		expected string
	}{
		{"primary header", func() *http.Request {
			r := httptest.NewRequest("POST", "/", nil)
			r.Header.Set("X-CSRF-Token", "from-header")
			return r
		}, "from-header"},
		{"alternate header spelling", func() *http.Request {
			r := httptest.NewRequest("POST", "/", nil)
			r.Header.Set("X-XSRF-Token", "from-xsrf")
			return r
		}, "from-xsrf"},
		{"header wins over body", func() *http.Request {
			r := httptest.NewRequest("POST", "/", strings.NewReader(`{"csrf_token":"from-body"}`))
			r.Header.Set("Content-Type", "application/json")
			r.Header.Set("X-CSRF-Token", "from-header")
			return r
		}, "from-header"},
		{"urlencoded form field", func() *http.Request {
			r := httptest.NewRequest("POST", "/", strings.NewReader("csrf_token=from-form&other=1"))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return r
		}, "from-form"},
		{"json body field", func() *http.Request {
			r := httptest.NewRequest("POST", "/", strings.NewReader(`{"csrf_token":"from-json"}`))
			r.Header.Set("Content-Type", "application/json")
			return r
		}, "from-json"},
		{"no token anywhere", func() *http.Request {
			return httptest.NewRequest("POST", "/", nil)
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractToken(tt.build(), "csrf_token"); got != tt.expected {
				t.Errorf("ExtractToken = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestExtractTokenRestoresBody(t *testing.T) {
	payload := `{"csrf_token":"abc","amount":8}`
	r := httptest.NewRequest("POST", "/", strings.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")

	if got := ExtractToken(r, "csrf_token"); got != "abc" {
		t.Fatalf("ExtractToken = %q", got)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("Reading restored body failed: %v", err)
	}
	if string(body) != payload {
		t.Errorf("Body not restored: %q", body)
	}
}
