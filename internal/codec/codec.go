// Package codec implements the shareable-id codec: a deterministic,
// reversible obfuscation of sensitive account identifiers. The same input
// always produces the same output, so a shareable id can serve as a stable
// lookup key without exposing the raw account id.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Key holds the process-wide codec secret. It is constructed once at startup
// from a 64-char hex string and passed into New explicitly; rotating it
// requires re-encoding every stored shareable id.
type Key struct {
	raw []byte
}

func ParseKey(hexKey string) (Key, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return Key{}, fmt.Errorf("decode codec key: %w", err)
	}
	if len(raw) != 32 {
		return Key{}, fmt.Errorf("codec key must be 32 bytes (64 hex chars)")
	}
	return Key{raw: raw}, nil
}

// Codec encodes and decodes account identifiers with AES-256-GCM. The nonce
// is derived from the plaintext with HMAC-SHA256 (SIV-style) instead of being
// random, which makes Encode a pure function of its input. Safe for
// concurrent use; all state is read-only after construction.
type Codec struct {
	aead cipher.AEAD
	mac  []byte
}

func New(key Key) (*Codec, error) {
	block, err := aes.NewCipher(key.raw)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	mac := sha256.Sum256(append([]byte("shareable-id-nonce:"), key.raw...))
	return &Codec{aead: aead, mac: mac[:]}, nil
}

// Encode obfuscates a raw account id into a URL-safe shareable id.
func (c *Codec) Encode(rawID string) (string, error) {
	if rawID == "" {
		return "", fmt.Errorf("empty id")
	}

	nonce := c.deriveNonce(rawID)
	ciphertext := c.aead.Seal(nonce, nonce, []byte(rawID), nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Decode recovers the raw account id from a shareable id.
func (c *Codec) Decode(encoded string) (string, error) {
	ciphertext, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode shareable id: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("shareable id too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt shareable id: %w", err)
	}

	return string(plaintext), nil
}

func (c *Codec) deriveNonce(rawID string) []byte {
	h := hmac.New(sha256.New, c.mac)
	h.Write([]byte(rawID))
	return h.Sum(nil)[:c.aead.NonceSize()]
}
