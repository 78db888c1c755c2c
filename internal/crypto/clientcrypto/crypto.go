// Package clientcrypto contains the client-side ciphers that seal consent records
// under a printable secret, and the record codec built on top of them.
package clientcrypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals bytes under a passphrase-like secret into a printable string.
type Cipher interface {
	// Seal encrypts plaintext with a fresh salt.
	Seal(plaintext []byte, secret string) (string, error)
	// Open reverses Seal. Implementations without integrity protection may
	// return garbage for a wrong secret instead of an error.
	Open(ciphertext string, secret string) ([]byte, error)
}

// Params
const (
	KeyLen  = 32
	SaltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1

	// XChaChaPrefix marks ciphertexts produced by XChaCha.
	XChaChaPrefix = "xchacha1:"
)

var errShort = errors.New("ciphertext too short")

// Rand returns n bytes from crypto/rand.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKey derives a symmetric key from secret and salt using Argon2id.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

// XChaCha is the authenticated cipher: Argon2id(secret, salt) keys
// XChaCha20-Poly1305 with a random nonce. A wrong secret always fails Open.
type XChaCha struct{}

// Seal returns XChaChaPrefix + base64(salt || nonce || ciphertext+tag).
func (XChaCha) Seal(plaintext []byte, secret string) (string, error) {
	salt, err := Rand(SaltLen)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(DeriveKey([]byte(secret), salt))
	if err != nil {
		return "", err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return XChaChaPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a ciphertext produced by Seal.
func (XChaCha) Open(ciphertext string, secret string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, XChaChaPrefix))
	if err != nil {
		return nil, err
	}
	if len(raw) < SaltLen+chacha20poly1305.NonceSizeX {
		return nil, errShort
	}
	salt := raw[:SaltLen]
	nonce := raw[SaltLen : SaltLen+chacha20poly1305.NonceSizeX]
	ct := raw[SaltLen+chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(DeriveKey([]byte(secret), salt))
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ct, nil)
}
