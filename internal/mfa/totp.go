// Package mfa implements TOTP multi-factor authentication: secret
// lifecycle, code verification, backup codes, lockout tracking and
// trusted devices.
package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// totpPeriod is the RFC 6238 time step.
	totpPeriod = 30
	// totpDigits is the code length.
	totpDigits = 6
	// skewWindows is how many adjacent time steps are accepted on each
	// side of now, covering +-30s of client clock drift.
	skewWindows = 1
	// secretBytes yields a 32-character Base32 secret.
	secretBytes = 20
)

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh 32-character Base32 TOTP secret.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return base32NoPad.EncodeToString(raw), nil
}

// decodeSecret tolerates lower case, spaces and trailing padding.
func decodeSecret(secret string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	cleaned = strings.TrimRight(cleaned, "=")
	raw, err := base32NoPad.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	return raw, nil
}

// hotp computes RFC 4226 dynamic truncation: HMAC-SHA1 over the
// big-endian counter, offset from the low nibble of the last byte,
// 31-bit mask, mod 10^6.
func hotp(secret []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", totpDigits, value%1_000_000)
}

// GenerateCode returns the TOTP code for the given time.
func GenerateCode(secret string, t time.Time) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(raw, uint64(t.Unix()/totpPeriod)), nil
}

// VerifyCode checks a submitted code against the current time step and
// one step on either side. Comparisons are constant time; any window
// matching succeeds.
func VerifyCode(secret, code string, t time.Time) bool {
	raw, err := decodeSecret(secret)
	if err != nil {
		return false
	}

	counter := t.Unix() / totpPeriod
	matched := false
	for delta := int64(-skewWindows); delta <= skewWindows; delta++ {
		expected := hotp(raw, uint64(counter+delta))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			matched = true
		}
	}
	return matched
}

// ProvisioningURI builds the otpauth URI rendered as a QR code by the
// client.
func ProvisioningURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)
	params := url.Values{}
	params.Set("secret", secret)
	params.Set("issuer", issuer)
	params.Set("algorithm", "SHA1")
	params.Set("digits", "6")
	params.Set("period", "30")
	return "otpauth://totp/" + label + "?" + params.Encode()
}

// FormatManualKey groups the secret into 4-character blocks for manual
// authenticator entry.
func FormatManualKey(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
