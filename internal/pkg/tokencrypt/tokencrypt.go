// Package tokencrypt seals per-user channel access tokens at rest with
// XChaCha20-Poly1305. The sealed form is base64(nonce || ciphertext).
package tokencrypt

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrKeyMissing = errors.New("token encryption key is not configured")
	ErrMalformed  = errors.New("sealed token is malformed")
)

// Sealer encrypts and decrypts tokens with one key. The user id is bound as
// additional data so a sealed token cannot be moved between users.
type Sealer struct {
	aead cipher.AEAD
}

// New parses a hex encoded 32 byte key.
func New(hexKey string) (*Sealer, error) {
	if hexKey == "" {
		return nil, ErrKeyMissing
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode token encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init token cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

func userAD(userID int64) []byte {
	return fmt.Appendf(nil, "user:%d", userID)
}

func (s *Sealer) Seal(userID int64, token string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(token)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(token), userAD(userID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(userID int64, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, userAD(userID))
	if err != nil {
		return "", fmt.Errorf("open sealed token: %w", err)
	}
	return string(plain), nil
}
