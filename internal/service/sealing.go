// Package service implements the sealing pipeline: validate, encrypt,
// persist and render a consent record, and the reverse path.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/consent-keeper/internal/errs"
	"github.com/and161185/consent-keeper/internal/limiter"
	"github.com/and161185/consent-keeper/internal/model"
	"github.com/and161185/consent-keeper/internal/render"
	"github.com/and161185/consent-keeper/internal/repository"
)

// IDKeyGenerator produces document ids and access keys.
type IDKeyGenerator interface {
	GenerateID() (string, error)
	GenerateKey() (string, error)
}

// RecordCipher turns records into ciphertext and back.
type RecordCipher interface {
	Encrypt(record *model.ConsentRecord, secret string) (string, error)
	Decrypt(ciphertext, secret string) (*model.ConsentRecord, error)
}

// DocumentRenderer lays a record out as a printable document.
type DocumentRenderer interface {
	Render(record *model.ConsentRecord) (*render.Document, error)
}

// SealResult is what the caller gets back from Seal. Key is shown once and
// is not stored anywhere.
type SealResult struct {
	ID       string
	Key      string
	Metadata model.Metadata
	Document *render.Document // nil when rendering failed
}

// Sealer runs the pipeline. It keeps no state between calls apart from the store.
type Sealer struct {
	store    repository.DocumentStore
	cipher   RecordCipher
	gen      IDKeyGenerator
	renderer DocumentRenderer
	limiter  limiter.Limiter // nil disables throttling
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sealer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Sealer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithLimiter throttles repeated wrong-key reveals of the same id.
func WithLimiter(l limiter.Limiter) Option {
	return func(s *Sealer) { s.limiter = l }
}

// NewSealer wires the pipeline.
func NewSealer(store repository.DocumentStore, cipher RecordCipher, gen IDKeyGenerator, renderer DocumentRenderer, opts ...Option) *Sealer {
	s := &Sealer{store: store, cipher: cipher, gen: gen, renderer: renderer, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Seal validates the record, assigns it an id, date and signatures, encrypts
// it under a fresh key, persists the envelope and renders the document.
//
// Nothing is persisted when validation, generation or encryption fails. A
// render failure happens after the envelope is stored: the result still
// carries id and key and the error wraps errs.ErrRender.
func (s *Sealer) Seal(ctx context.Context, record *model.ConsentRecord, sigs model.Signatures) (SealResult, error) {
	if err := record.Validate(); err != nil {
		return SealResult{}, err
	}
	if err := sigs.Validate(); err != nil {
		return SealResult{}, err
	}

	id, err := s.gen.GenerateID()
	if err != nil {
		return SealResult{}, fmt.Errorf("generate id: %w", err)
	}
	key, err := s.gen.GenerateKey()
	if err != nil {
		return SealResult{}, fmt.Errorf("generate key: %w", err)
	}

	now := s.now()
	rec := *record
	rec.ID = id
	rec.Date = now.UTC().Format(model.DateLayout)
	rec.ValidPeriod = rec.ValidPeriod.OrDefault()
	rec.Signatures = sigs

	ct, err := s.cipher.Encrypt(&rec, key)
	if err != nil {
		return SealResult{}, err
	}
	meta := model.MetadataOf(&rec)
	env := model.Envelope{Ciphertext: ct, CreateDate: now.UTC(), Metadata: meta}
	if err := s.store.Put(ctx, id, env); err != nil {
		s.log.Error("persist sealed record", zap.String("id", id), zap.Error(err))
		return SealResult{}, err
	}

	res := SealResult{ID: id, Key: key, Metadata: meta}
	doc, err := s.renderer.Render(&rec)
	if err != nil {
		s.log.Warn("record sealed but not rendered", zap.String("id", id), zap.Error(err))
		if !errors.Is(err, errs.ErrRender) {
			err = fmt.Errorf("%w: %v", errs.ErrRender, err)
		}
		return res, err
	}
	res.Document = doc
	s.log.Info("record sealed", zap.String("id", id), zap.String("validPeriod", string(meta.ValidPeriod)),
		zap.Int("pages", doc.PageCount()))
	return res, nil
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	return nil
}

// Reveal loads and decrypts the record for id. Unknown ids are
// errs.ErrNotFound; a wrong key and a corrupted envelope are both
// errs.ErrDecryption.
func (s *Sealer) Reveal(ctx context.Context, id, key string) (*model.ConsentRecord, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", errs.ErrValidation)
	}
	if s.limiter != nil {
		ok, retry, err := s.limiter.Allow(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: limiter: %v", errs.ErrStorage, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: retry in %s", errs.ErrThrottled, retry.Round(time.Second))
		}
	}
	env, err := s.store.GetEnvelope(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.log.Info("reveal of unknown id", zap.String("id", id))
		}
		return nil, err
	}
	rec, err := s.cipher.Decrypt(env.Ciphertext, key)
	if err == nil && rec.ID != id {
		s.log.Warn("envelope holds a different record", zap.String("id", id))
		err = fmt.Errorf("%w: record id mismatch", errs.ErrDecryption)
	}
	if err != nil {
		s.log.Info("reveal rejected", zap.String("id", id))
		s.recordFailure(ctx, id)
		return nil, err
	}
	if s.limiter != nil {
		if err := s.limiter.Success(ctx, id); err != nil {
			s.log.Warn("limiter reset failed", zap.String("id", id), zap.Error(err))
		}
	}
	return rec, nil
}

func (s *Sealer) recordFailure(ctx context.Context, id string) {
	if s.limiter == nil {
		return
	}
	blocked, d, err := s.limiter.Failure(ctx, id)
	if err != nil {
		s.log.Warn("limiter update failed", zap.String("id", id), zap.Error(err))
		return
	}
	if blocked {
		s.log.Warn("reveal blocked", zap.String("id", id), zap.Duration("for", d))
	}
}

// Exists reports whether a sealed record is stored under id.
func (s *Sealer) Exists(ctx context.Context, id string) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	return s.store.Has(ctx, id)
}

// List returns the cleartext metadata of every stored record.
func (s *Sealer) List(ctx context.Context) ([]model.ListEntry, error) {
	return s.store.ListMetadata(ctx)
}

// Delete removes the record stored under id and reports whether it existed.
func (s *Sealer) Delete(ctx context.Context, id string) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	s.log.Info("record deleted", zap.String("id", id), zap.Bool("existed", ok))
	return ok, nil
}

// Render lays out an already revealed record.
func (s *Sealer) Render(record *model.ConsentRecord) (*render.Document, error) {
	return s.renderer.Render(record)
}
