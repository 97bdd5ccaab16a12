package twofactor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// Sealer encrypts two-factor secrets and recovery codes before they are
// written to the users table, using AES-256-GCM keyed from the application
// secret. Sealed values are base64 text: [nonce][ciphertext+tag].
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer derives the sealing key from secret.
func NewSealer(secret string) (*Sealer, error) {
	key := sha256.Sum256([]byte(secret + "|2fa-seal"))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext. Empty input seals to the empty string.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	n := s.gcm.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := s.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}

// SealCodes encrypts a list of recovery codes as a JSON array.
func (s *Sealer) SealCodes(codes []string) (string, error) {
	if len(codes) == 0 {
		return "", nil
	}
	data, err := json.Marshal(codes)
	if err != nil {
		return "", fmt.Errorf("encoding recovery codes: %w", err)
	}
	return s.Seal(string(data))
}

// OpenCodes reverses SealCodes.
func (s *Sealer) OpenCodes(sealed string) ([]string, error) {
	plain, err := s.Open(sealed)
	if err != nil || plain == "" {
		return nil, err
	}
	var codes []string
	if err := json.Unmarshal([]byte(plain), &codes); err != nil {
		return nil, fmt.Errorf("decoding recovery codes: %w", err)
	}
	return codes, nil
}
