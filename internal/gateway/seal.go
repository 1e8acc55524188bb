package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealedPrefix marks an api key stored encrypted in the config file.
const SealedPrefix = "sealed:"

var ErrSealKeyRequired = errors.New("sealed credential needs CLOUDGATE_SEAL_KEY")

// ParseSealKey decodes a hex-encoded 32-byte key.
func ParseSealKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("seal key is not hex: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// GenerateSealKey returns a fresh hex-encoded key.
func GenerateSealKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305 and returns a value
// carrying SealedPrefix.
func Seal(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unseal returns value unchanged unless it carries SealedPrefix, in which
// case it is decrypted with key.
func Unseal(key []byte, value string) (string, error) {
	if !strings.HasPrefix(value, SealedPrefix) {
		return value, nil
	}
	if len(key) == 0 {
		return "", ErrSealKeyRequired
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("sealed value is not base64: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", errors.New("sealed value is truncated")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plain), nil
}
