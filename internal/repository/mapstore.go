// Package repository contains the document store and the key-value areas backing it.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/consent-keeper/internal/convert"
	"github.com/and161185/consent-keeper/internal/errs"
	"github.com/and161185/consent-keeper/internal/model"
)

// MapStore implements DocumentStore as one JSON map kept in an Area.
//
// Every write loads the whole map, changes one key and stores the whole map
// back. Two writers interleaving on the same area lose an update: the later
// Store wins and drops entries the earlier one added. WithLocking serializes
// writers within this process; nothing coordinates separate processes.
type MapStore struct {
	area Area
	log  *zap.Logger
	mu   *sync.Mutex // nil unless WithLocking
}

var _ DocumentStore = (*MapStore)(nil)

// MapStoreOption configures a MapStore.
type MapStoreOption func(*MapStore)

// WithLocking guards each read-modify-write with an in-process mutex.
func WithLocking() MapStoreOption {
	return func(s *MapStore) { s.mu = &sync.Mutex{} }
}

// WithLogger sets the logger used for degraded reads.
func WithLogger(log *zap.Logger) MapStoreOption {
	return func(s *MapStore) {
		if log != nil {
			s.log = log
		}
	}
}

// NewMapStore constructs a store over area.
func NewMapStore(area Area, opts ...MapStoreOption) *MapStore {
	s := &MapStore{area: area, log: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// areaMap is one loaded area: decodable envelopes plus entries kept verbatim.
type areaMap struct {
	entries convert.StoredMap
	skipped convert.Unreadable
}

// load returns the persisted map. A missing map, or one whose top level is
// not a JSON object, reads as empty. Malformed entries are skipped but kept
// for the next save.
func (s *MapStore) load(ctx context.Context) (areaMap, error) {
	empty := areaMap{entries: convert.StoredMap{}}
	raw, err := s.area.Load(ctx)
	if errors.Is(err, errs.ErrNotFound) {
		return empty, nil
	}
	if err != nil {
		return areaMap{}, fmt.Errorf("%w: load: %v", errs.ErrStorage, err)
	}
	m, bad, err := convert.DecodeMap(raw)
	if err != nil {
		s.log.Warn("persisted map unreadable, treating as empty", zap.Error(err), zap.Int("bytes", len(raw)))
		return empty, nil
	}
	for id := range bad {
		s.log.Warn("skipping malformed entry", zap.String("id", id))
	}
	return areaMap{entries: m, skipped: bad}, nil
}

func (s *MapStore) save(ctx context.Context, m areaMap) error {
	raw, err := convert.EncodeMap(m.entries, m.skipped)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", errs.ErrStorage, err)
	}
	if err := s.area.Store(ctx, raw); err != nil {
		return fmt.Errorf("%w: store: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *MapStore) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Put inserts or overwrites the envelope for id.
func (s *MapStore) Put(ctx context.Context, id string, env model.Envelope) error {
	if id == "" {
		return errors.New("validation: empty id")
	}
	defer s.lock()()

	m, err := s.load(ctx)
	if err != nil {
		return err
	}
	m.entries[id] = convert.ToStored(env)
	return s.save(ctx, m)
}

// GetEnvelope returns the envelope for id or errs.ErrNotFound.
func (s *MapStore) GetEnvelope(ctx context.Context, id string) (model.Envelope, error) {
	m, err := s.load(ctx)
	if err != nil {
		return model.Envelope{}, err
	}
	st, ok := m.entries[id]
	if !ok || st.EncryptedData == "" {
		return model.Envelope{}, errs.ErrNotFound
	}
	return convert.FromStored(st), nil
}

// Has reports whether an envelope exists for id.
func (s *MapStore) Has(ctx context.Context, id string) (bool, error) {
	_, err := s.GetEnvelope(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ListMetadata returns cleartext metadata ordered by createDate, then id.
func (s *MapStore) ListMetadata(ctx context.Context) ([]model.ListEntry, error) {
	m, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ListEntry, 0, len(m.entries))
	for _, st := range m.entries {
		out = append(out, convert.ToListEntry(st))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreateDate.Equal(out[j].CreateDate) {
			return out[i].CreateDate.Before(out[j].CreateDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes the envelope for id and reports whether one existed.
func (s *MapStore) Delete(ctx context.Context, id string) (bool, error) {
	defer s.lock()()

	m, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := m.entries[id]
	_, bad := m.skipped[id]
	if !ok && !bad {
		return false, nil
	}
	delete(m.entries, id)
	delete(m.skipped, id)
	if err := s.save(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}
