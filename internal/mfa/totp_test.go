package mfa

import (
	"strings"
	"testing"
	"time"
)

// Reference secret used across authenticator-app documentation.
const testSecret = "JBSWY3DPEHPK3PXP"

func TestGenerateCode(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		unix     int64
		expected string
	}{
		{"documented secret at epoch 1234567890", testSecret, 1234567890, "742275"},
		{"documented secret at epoch 59", testSecret, 59, "996554"},
		// RFC 6238 Appendix B test vector (ASCII secret 12345678901234567890).
		{"rfc vector at epoch 59", "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", 59, "287082"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := GenerateCode(tt.secret, time.Unix(tt.unix, 0))
			if err != nil {
				t.Fatalf("GenerateCode failed: %v", err)
			}
			if code != tt.expected {
				t.Errorf("Expected code %s, got %s", tt.expected, code)
			}
		})
	}
}

func TestVerifyCodeSkewWindow(t *testing.T) {
	now := time.Unix(1234567890, 0)

	tests := []struct {
		name    string
		code    string
		allowed bool
	}{
		{"current window", "742275", true},
		{"previous window", "709928", true},
		{"next window", "835227", true},
		{"two windows ahead", "347350", false},
		{"two windows behind", "931787", false},
		{"wrong code", "000000", false},
		{"empty code", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyCode(testSecret, tt.code, now); got != tt.allowed {
				t.Errorf("VerifyCode(%q) = %v, want %v", tt.code, got, tt.allowed)
			}
		})
	}
}

func TestVerifyCodeSecretTolerance(t *testing.T) {
	now := time.Unix(1234567890, 0)

	// Lower case, spaces and padding must all decode to the same secret.
	variants := []string{
		"jbswy3dpehpk3pxp",
		"JBSW Y3DP EHPK 3PXP",
		"JBSWY3DPEHPK3PXP====",
	}
	for _, secret := range variants {
		if !VerifyCode(secret, "742275", now) {
			t.Errorf("VerifyCode with secret variant %q rejected a valid code", secret)
		}
	}

	if VerifyCode("not-base32!!", "742275", now) {
		t.Error("VerifyCode accepted an undecodable secret")
	}
}

func TestGenerateSecret(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		secret, err := GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret failed: %v", err)
		}
		if len(secret) != 32 {
			t.Fatalf("Expected 32-character secret, got %d", len(secret))
		}
		if seen[secret] {
			t.Fatal("GenerateSecret produced a duplicate")
		}
		seen[secret] = true

		if _, err := decodeSecret(secret); err != nil {
			t.Fatalf("Generated secret does not decode: %v", err)
		}
	}
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI("Zeitwerk", "anna.schmidt@example.com", testSecret)

	if !strings.HasPrefix(uri, "otpauth://totp/Zeitwerk:anna.schmidt@example.com?") {
		t.Errorf("Unexpected URI prefix: %s", uri)
	}
	for _, want := range []string{"secret=" + testSecret, "issuer=Zeitwerk", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, want) {
			t.Errorf("URI missing %q: %s", want, uri)
		}
	}
}

func TestFormatManualKey(t *testing.T) {
	if got := FormatManualKey(testSecret); got != "JBSW Y3DP EHPK 3PXP" {
		t.Errorf("Expected grouped key, got %q", got)
	}
}
