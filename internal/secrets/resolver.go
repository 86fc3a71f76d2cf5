// Package secrets resolves secret values used by authentication
// configurations. A secret value is either an env://NAME reference,
// dereferenced from the process environment at use time, or AES-256-GCM
// ciphertext produced by Encrypt, decrypted on demand with the process-wide
// key. Plaintext secrets are never persisted and never logged.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"webhook-delivery/internal/common/errors"
)

// EnvRefPrefix marks a secret value as an environment-variable reference.
const EnvRefPrefix = "env://"

// Resolver decrypts or dereferences secret values. The decryption key is
// derived once at construction and is read-only afterwards, so a Resolver
// is safe for concurrent use by multiple goroutines.
type Resolver struct {
	key []byte // 32-byte AES-256 key derived via PBKDF2
}

// NewResolver creates a Resolver from the process-wide encryption key.
//
// The key is run through PBKDF2 to derive exactly 32 bytes for AES-256
// regardless of input length. The key should come from the environment,
// never from source code or the database holding the ciphertexts.
func NewResolver(key string) (*Resolver, error) {
	if key == "" {
		return nil, errors.ConfigError("encryption key cannot be empty")
	}

	// Static salt keeps derivation deterministic across restarts so
	// previously stored ciphertexts stay decryptable.
	salt := []byte("webhook-delivery-salt")
	derived := pbkdf2.Key([]byte(key), salt, 10000, 32, sha256.New)

	return &Resolver{key: derived}, nil
}

// Resolve turns a stored secret value into its plaintext.
//
// Values of the form "env://NAME" are read from the environment; anything
// else is treated as ciphertext produced by Encrypt. The returned plaintext
// must not be logged or persisted by callers.
func (r *Resolver) Resolve(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	if name, ok := strings.CutPrefix(value, EnvRefPrefix); ok {
		plain, found := os.LookupEnv(name)
		if !found {
			return "", errors.SecretNotFoundError(EnvRefPrefix + name)
		}
		return plain, nil
	}

	return r.decrypt(value)
}

// IsEnvRef reports whether the value is an environment-variable reference
// rather than ciphertext.
func IsEnvRef(value string) bool {
	return strings.HasPrefix(value, EnvRefPrefix)
}

// Encrypt encrypts a plaintext secret with AES-256-GCM and returns
// base64(nonce || ciphertext) suitable for storage.
//
// A fresh random nonce is generated per call. Nonce reuse under one key
// leaks the key-stream, so the nonce always comes from crypto/rand, never
// from a counter or fixed value. Encrypting the same plaintext twice
// produces different ciphertexts.
func (r *Resolver) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := r.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to generate nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt reverses Encrypt. Tampered, truncated, or wrongly keyed input
// fails the GCM tag check and yields a SecretDecrypt error; the error never
// carries any part of the plaintext.
func (r *Resolver) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.SecretDecryptError("ciphertext is not valid base64", err)
	}

	gcm, err := r.aead()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.SecretDecryptError("ciphertext shorter than nonce", nil)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.SecretDecryptError("authentication tag mismatch", err)
	}

	return string(plain), nil
}

func (r *Resolver) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}
	return gcm, nil
}
