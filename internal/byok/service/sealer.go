package service

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPayload is the stored envelope. Version allows a future key or
// cipher rotation without rewriting existing rows.
type sealedPayload struct {
	Version    int    `json:"v"`
	Nonce      string `json:"n"`
	Ciphertext string `json:"c"`
}

var errSealedPayloadMalformed = errors.New("sealed_payload_malformed")

// sealer encrypts credential values with XChaCha20-Poly1305.
type sealer struct {
	aead cipher.AEAD
}

// newSealer derives the sealer from a hex-encoded 32-byte key.
func newSealer(hexKey string) (*sealer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	out, err := json.Marshal(sealedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *sealer) Open(sealed string) (string, error) {
	var payload sealedPayload
	if err := json.Unmarshal([]byte(sealed), &payload); err != nil {
		return "", errSealedPayloadMalformed
	}
	if payload.Version != 1 {
		return "", errSealedPayloadMalformed
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return "", errSealedPayloadMalformed
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", errSealedPayloadMalformed
	}

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
