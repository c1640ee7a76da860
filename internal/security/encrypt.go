package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const encryptedPrefix = "enc:v1:"

var hkdfInfo = []byte("hostchat message content")

// Encryptor provides symmetric encryption for message content at rest.
// The AES-256 key is derived from the configured secret with HKDF-SHA256.
type Encryptor struct {
	aead cipher.AEAD
}

func NewEncryptor(secret []byte) (*Encryptor, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	k := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), k); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt returns a prefixed base64 ciphertext. The empty string stays empty.
func (e *Encryptor) Encrypt(plain string) (string, error) {
	if e == nil || plain == "" {
		return plain, nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Values without the prefix were written before
// encryption was enabled and are returned as-is.
func (e *Encryptor) Decrypt(enc string) (string, error) {
	if len(enc) < len(encryptedPrefix) || enc[:len(encryptedPrefix)] != encryptedPrefix {
		return enc, nil
	}
	if e == nil {
		return "", errors.New("encrypted payload but no encryption key configured")
	}
	raw, err := base64.StdEncoding.DecodeString(enc[len(encryptedPrefix):])
	if err != nil {
		return "", err
	}
	if len(raw) < e.aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce := raw[:e.aead.NonceSize()]
	plain, err := e.aead.Open(nil, nonce, raw[e.aead.NonceSize():], nil)
	if err != nil {
		return "", errors.New("failed to decrypt message payload")
	}
	return string(plain), nil
}
