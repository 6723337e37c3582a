package mfa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// errDecrypt is deliberately generic: decryption failures must look
// exactly like a wrong code to the caller, never like a distinct error
// class an attacker could use as an oracle.
var errDecrypt = errors.New("decrypt failed")

// cipherBox encrypts MFA secrets and backup-code blobs at rest with
// AES-256-CBC. The key is sha256 of the server-held secret; a random
// 16-byte IV is prepended to each ciphertext.
type cipherBox struct {
	key [32]byte
}

func newCipherBox(serverSecret string) *cipherBox {
	return &cipherBox{key: sha256.Sum256([]byte(serverSecret))}
}

func (c *cipherBox) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *cipherBox) decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errDecrypt
	}
	if len(raw) < aes.BlockSize || (len(raw)-aes.BlockSize)%aes.BlockSize != 0 || len(raw) == aes.BlockSize {
		return nil, errDecrypt
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, errDecrypt
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errDecrypt
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, errDecrypt
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errDecrypt
		}
	}
	return data[:len(data)-padding], nil
}
