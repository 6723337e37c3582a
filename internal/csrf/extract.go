package csrf

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// headerNames are the accepted header spellings, checked in order.
var headerNames = []string{"X-CSRF-Token", "X-CSRFToken", "X-XSRF-Token"}

const maxBodyPeek = 1 << 20 // 1 MiB

// ExtractToken pulls the submitted token from the request. Priority:
// custom header, then POST form field, then JSON body field. The first
// match wins. Body-based extraction buffers and restores r.Body so
// downstream handlers can still read it.
func ExtractToken(r *http.Request, fieldName string) string {
	for _, name := range headerNames {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch contentType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		body := peekBody(r)
		if contentType == "application/x-www-form-urlencoded" {
			if v := formValue(string(body), fieldName); v != "" {
				return v
			}
		}
	case "application/json":
		body := peekBody(r)
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(body, &payload); err == nil {
			var token string
			if raw, ok := payload[fieldName]; ok && json.Unmarshal(raw, &token) == nil {
				return token
			}
		}
	}
	return ""
}

// peekBody reads up to maxBodyPeek bytes and restores the body.
func peekBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	if err != nil {
		return nil
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	return body
}

// formValue parses a urlencoded body without consuming the request's
// form state.
func formValue(body, fieldName string) string {
	for _, pair := range strings.Split(body, "&") {
		key, value, _ := strings.Cut(pair, "=")
		if key == fieldName {
			if decoded, err := url.QueryUnescape(value); err == nil {
				return decoded
			}
			return value
		}
	}
	return ""
}
