package clientcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // EVP_BytesToKey is defined over MD5
	"encoding/base64"
	"errors"
)

// OpenSSLAES is passphrase AES-256-CBC in the OpenSSL "Salted__" format:
// key and IV come from EVP_BytesToKey(MD5, one round) over secret||salt and the
// output is base64("Salted__" || salt || ciphertext). There is no integrity
// tag; a wrong secret is only caught when the padding happens to be invalid.
type OpenSSLAES struct{}

const (
	opensslMagic   = "Salted__"
	opensslSaltLen = 8
)

// OpenSSLPrefix is how every OpenSSLAES ciphertext starts once base64-encoded.
const OpenSSLPrefix = "U2FsdGVkX1"

var errPadding = errors.New("bad padding")

// Seal encrypts plaintext with a random 8-byte salt.
func (OpenSSLAES) Seal(plaintext []byte, secret string) (string, error) {
	salt, err := Rand(opensslSaltLen)
	if err != nil {
		return "", err
	}
	key, iv := bytesToKey([]byte(secret), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	data := pad(plaintext)
	out := make([]byte, len(opensslMagic)+opensslSaltLen+len(data))
	copy(out, opensslMagic)
	copy(out[len(opensslMagic):], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(opensslMagic)+opensslSaltLen:], data)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts an OpenSSL-format ciphertext.
func (OpenSSLAES) Open(ciphertext string, secret string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, err
	}
	hdr := len(opensslMagic) + opensslSaltLen
	if len(raw) < hdr+aes.BlockSize || !bytes.Equal(raw[:len(opensslMagic)], []byte(opensslMagic)) {
		return nil, errShort
	}
	data := raw[hdr:]
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a whole number of blocks")
	}
	key, iv := bytesToKey([]byte(secret), raw[len(opensslMagic):hdr])
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)
	return unpad(plain)
}

// bytesToKey is OpenSSL EVP_BytesToKey with MD5 and a single iteration,
// producing a 32-byte key and a 16-byte IV.
func bytesToKey(secret, salt []byte) (key, iv []byte) {
	var (
		derived []byte
		prev    []byte
	)
	for len(derived) < 32+aes.BlockSize {
		h := md5.New() //nolint:gosec
		h.Write(prev)
		h.Write(secret)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:32], derived[32 : 32+aes.BlockSize]
}

// pad appends PKCS#7 padding; a full block is added when already aligned.
func pad(in []byte) []byte {
	n := aes.BlockSize - len(in)%aes.BlockSize
	out := make([]byte, len(in), len(in)+n)
	copy(out, in)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(in []byte) ([]byte, error) {
	if len(in) == 0 {
		return nil, errPadding
	}
	n := int(in[len(in)-1])
	if n == 0 || n > aes.BlockSize || n > len(in) {
		return nil, errPadding
	}
	for _, b := range in[len(in)-n:] {
		if int(b) != n {
			return nil, errPadding
		}
	}
	return in[:len(in)-n], nil
}
