package mfa

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestCipherBoxRoundtrip(t *testing.T) {
	box := newCipherBox("server-secret")

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"totp secret", []byte(testSecret)},
		{"backup codes json", []byte(`["12345678","87654321"]`)},
		{"single byte", []byte{0x42}},
		{"block-sized input", bytes.Repeat([]byte{7}, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := box.encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("encrypt failed: %v", err)
			}
			decrypted, err := box.decrypt(encrypted)
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("Expected %q, got %q", tt.plaintext, decrypted)
			}
		})
	}
}

func TestCipherBoxRandomIV(t *testing.T) {
	box := newCipherBox("server-secret")

	a, err := box.encrypt([]byte(testSecret))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	b, err := box.encrypt([]byte(testSecret))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if a == b {
		t.Error("Two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestCipherBoxDecryptFailures(t *testing.T) {
	box := newCipherBox("server-secret")
	other := newCipherBox("different-secret")

	valid, err := box.encrypt([]byte(testSecret))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(valid)
	tampered := make([]byte, len(raw))
	copy(tampered, raw)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name  string
		box   *cipherBox
		input string
	}{
		{"not base64", box, "%%%not-base64%%%"},
		{"too short", box, base64.StdEncoding.EncodeToString([]byte("short"))},
		{"iv only", box, base64.StdEncoding.EncodeToString(raw[:16])},
		{"tampered ciphertext", box, base64.StdEncoding.EncodeToString(tampered)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.box.decrypt(tt.input)
			// Every failure mode collapses to the same generic error.
			if err != errDecrypt {
				t.Errorf("Expected errDecrypt, got %v", err)
			}
		})
	}

	// A wrong key either fails padding validation or yields garbage; it
	// must never round-trip the original plaintext.
	if plaintext, err := other.decrypt(valid); err == nil && bytes.Equal(plaintext, []byte(testSecret)) {
		t.Error("Decryption with the wrong key recovered the plaintext")
	}
}
