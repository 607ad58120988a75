package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the byte length of the derived AES-256 master key.
const MasterKeySize = 32

var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// SecretBox provides authenticated encryption for per-user secrets (TOTP
// seeds). Each user gets a distinct AES-256-GCM key derived from the master
// key with HKDF, so a leaked ciphertext cannot be decrypted under another
// user's identity even with store access.
type SecretBox struct {
	master []byte
}

// NewSecretBox derives a 32-byte master key from arbitrary key material
// using SHA-256.
func NewSecretBox(keyMaterial []byte) (*SecretBox, error) {
	if len(keyMaterial) == 0 {
		return nil, errors.New("cryptox: empty master key material")
	}
	sum := sha256.Sum256(keyMaterial)
	return &SecretBox{master: sum[:]}, nil
}

// NewSecretBoxFromSource loads master key material from, in order of
// preference: the file at path (if non-empty), the named environment
// variable, or a freshly generated ephemeral key. Ephemeral keys mean
// secrets do not survive a restart and are only suitable for development.
func NewSecretBoxFromSource(path, envVar string) (*SecretBox, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}
		return NewSecretBox(data)
	}

	if envKey := os.Getenv(envVar); envKey != "" {
		return NewSecretBox([]byte(envKey))
	}

	material := make([]byte, MasterKeySize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral master key: %w", err)
	}
	return NewSecretBox(material)
}

// Seal encrypts plaintext under the key derived for scope and returns a
// base64-encoded blob of the form [12-byte nonce][ciphertext][16-byte tag].
func (b *SecretBox) Seal(scope, plaintext string) (string, error) {
	gcm, err := b.gcmFor(scope)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a blob produced by Seal for the same scope. Decryption under
// a different scope fails authentication.
func (b *SecretBox) Open(scope, blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	gcm, err := b.gcmFor(scope)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}

// gcmFor builds an AES-256-GCM instance keyed for the given scope.
func (b *SecretBox) gcmFor(scope string) (cipher.AEAD, error) {
	key := make([]byte, MasterKeySize)
	kdf := hkdf.New(sha256.New, b.master, nil, []byte(scope))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive scoped key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
