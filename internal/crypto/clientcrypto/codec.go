package clientcrypto

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/and161185/consent-keeper/internal/errs"
	"github.com/and161185/consent-keeper/internal/model"
)

// CipherName selects the cipher new records are sealed with.
type CipherName string

// Supported ciphers.
const (
	CipherAESCBC  CipherName = "aes-cbc"
	CipherXChaCha CipherName = "xchacha20poly1305"
)

// ParseCipherName maps a config value to a CipherName; empty means CipherAESCBC.
func ParseCipherName(s string) (CipherName, error) {
	switch CipherName(strings.ToLower(strings.TrimSpace(s))) {
	case "", CipherAESCBC:
		return CipherAESCBC, nil
	case CipherXChaCha:
		return CipherXChaCha, nil
	default:
		return "", fmt.Errorf("validation: unknown cipher %q", s)
	}
}

// RecordCodec serializes a ConsentRecord to JSON and seals it. Decryption
// picks the cipher from the ciphertext prefix, so stores holding records of
// both kinds keep working after the configured cipher changes.
type RecordCodec struct {
	seal Cipher
}

// NewRecordCodec constructs a codec that seals with the named cipher.
func NewRecordCodec(name CipherName) *RecordCodec {
	if name == CipherXChaCha {
		return &RecordCodec{seal: XChaCha{}}
	}
	return &RecordCodec{seal: OpenSSLAES{}}
}

// Encrypt serializes and seals record under secret.
func (c *RecordCodec) Encrypt(record *model.ConsentRecord, secret string) (string, error) {
	if record == nil {
		return "", fmt.Errorf("%w: empty record", errs.ErrEncryption)
	}
	if secret == "" {
		return "", fmt.Errorf("%w: empty secret", errs.ErrEncryption)
	}
	plain, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("%w: marshal record: %v", errs.ErrEncryption, err)
	}
	out, err := c.seal.Seal(plain, secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrEncryption, err)
	}
	return out, nil
}

// Decrypt opens ciphertext and parses it back into a record. Anything that
// does not come out as a record with an id is ErrDecryption; a wrong secret
// and a corrupted ciphertext look the same.
func (c *RecordCodec) Decrypt(ciphertext, secret string) (*model.ConsentRecord, error) {
	if ciphertext == "" || secret == "" {
		return nil, fmt.Errorf("%w: empty input", errs.ErrDecryption)
	}
	var opener Cipher = OpenSSLAES{}
	if strings.HasPrefix(ciphertext, XChaChaPrefix) {
		opener = XChaCha{}
	}
	plain, err := opener.Open(ciphertext, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecryption, err)
	}
	if !utf8.Valid(plain) {
		return nil, fmt.Errorf("%w: plaintext is not text", errs.ErrDecryption)
	}
	var rec model.ConsentRecord
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("%w: plaintext is not a record", errs.ErrDecryption)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: plaintext is not a record", errs.ErrDecryption)
	}
	return &rec, nil
}
