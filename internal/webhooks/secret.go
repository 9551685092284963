// Package webhooks delivers platform events to agent-registered HTTP
// targets. Payloads are signed with a per-subscription secret; the
// secrets themselves rest encrypted in the database.
package webhooks

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSecretCorrupt is returned when a stored secret fails to decrypt.
var ErrSecretCorrupt = errors.New("webhook secret corrupt")

// ErrPayloadCorrupt is returned when a sealed delivery body fails to
// open.
var ErrPayloadCorrupt = errors.New("webhook payload corrupt")

// NewSecret mints a random 32-byte subscription secret. The hex form is
// shown to the subscriber exactly once at creation.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// EncryptSecret seals a secret for storage. A nil key stores the secret
// as-is; production configuration requires the key.
func EncryptSecret(key []byte, secret string) ([]byte, error) {
	if key == nil {
		return []byte(secret), nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("webhook key: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, []byte(secret), nil), nil
}

// DecryptSecret opens a stored secret.
func DecryptSecret(key, sealed []byte) (string, error) {
	if key == nil {
		return string(sealed), nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("webhook key: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", ErrSecretCorrupt
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrSecretCorrupt
	}
	return string(plain), nil
}

// payloadKey derives the AEAD key from the hex subscription secret.
func payloadKey(secret string) ([]byte, error) {
	key, err := hex.DecodeString(secret)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("subscription secret is not a %d-byte hex key", chacha20poly1305.KeySize)
	}
	return key, nil
}

// SealPayload encrypts a delivery body under the subscription secret
// with a fresh random nonce. The wire form is nonce || ciphertext.
func SealPayload(secret string, body []byte) ([]byte, error) {
	key, err := payloadKey(secret)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, body, nil), nil
}

// OpenPayload decrypts a sealed delivery body; the receiver-side
// counterpart of SealPayload.
func OpenPayload(secret string, sealed []byte) ([]byte, error) {
	key, err := payloadKey(secret)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrPayloadCorrupt
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrPayloadCorrupt
	}
	return plain, nil
}

// Sign computes the hex HMAC-SHA256 of body under the subscription
// secret. Receivers recompute this over the raw request body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
