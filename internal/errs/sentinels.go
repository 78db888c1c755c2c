// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Failure kinds surfaced by the sealing pipeline. Callers match them with errors.Is.
var (
	// ErrValidation indicates the caller handed over an incomplete record.
	ErrValidation = errors.New("validation")

	// ErrGeneration indicates the secure random source could not produce output.
	ErrGeneration = errors.New("secure random source unavailable")

	// ErrEncryption indicates the record or secret was missing or unserializable.
	ErrEncryption = errors.New("encryption failed")

	// ErrNotFound indicates the requested document id does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrDecryption indicates a wrong key or corrupted ciphertext; the two are indistinguishable.
	ErrDecryption = errors.New("decryption failed")

	// ErrRender indicates a structurally malformed record reached the renderer.
	ErrRender = errors.New("render failed")

	// ErrThrottled indicates too many failed reveals of the same document in a short time.
	ErrThrottled = errors.New("too many failed attempts")

	// ErrStorage indicates the underlying key-value area could not be read or written.
	ErrStorage = errors.New("storage failure")
)
