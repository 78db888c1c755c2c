package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/and161185/consent-keeper/internal/crypto/clientcrypto"
	"github.com/and161185/consent-keeper/internal/errs"
	"github.com/and161185/consent-keeper/internal/idkey"
	"github.com/and161185/consent-keeper/internal/model"
	"github.com/and161185/consent-keeper/internal/render"
	"github.com/and161185/consent-keeper/internal/repository"
	"github.com/and161185/consent-keeper/internal/repository/file"
)

type fakeStore struct {
	data   map[string]model.Envelope
	putErr error
	puts   int
}

var _ repository.DocumentStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore { return &fakeStore{data: map[string]model.Envelope{}} }

func (f *fakeStore) Put(_ context.Context, id string, env model.Envelope) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.data[id] = env
	return nil
}
func (f *fakeStore) GetEnvelope(_ context.Context, id string) (model.Envelope, error) {
	env, ok := f.data[id]
	if !ok {
		return model.Envelope{}, errs.ErrNotFound
	}
	return env, nil
}
func (f *fakeStore) Has(_ context.Context, id string) (bool, error) {
	_, ok := f.data[id]
	return ok, nil
}
func (f *fakeStore) ListMetadata(context.Context) ([]model.ListEntry, error) {
	var out []model.ListEntry
	for _, env := range f.data {
		out = append(out, model.ListEntry{Metadata: env.Metadata, CreateDate: env.CreateDate})
	}
	return out, nil
}
func (f *fakeStore) Delete(_ context.Context, id string) (bool, error) {
	_, ok := f.data[id]
	delete(f.data, id)
	return ok, nil
}

type fakeGen struct {
	id, key string
	err     error
}

func (g fakeGen) GenerateID() (string, error)  { return g.id, g.err }
func (g fakeGen) GenerateKey() (string, error) { return g.key, g.err }

type failingCipher struct{}

func (failingCipher) Encrypt(*model.ConsentRecord, string) (string, error) {
	return "", errs.ErrEncryption
}
func (failingCipher) Decrypt(string, string) (*model.ConsentRecord, error) {
	return nil, errs.ErrDecryption
}

type failingRenderer struct{}

func (failingRenderer) Render(*model.ConsentRecord) (*render.Document, error) {
	return nil, errors.New("font missing")
}

var fixedNow = time.Date(2026, 10, 17, 21, 30, 0, 0, time.FixedZone("CST", 8*3600))

func sig(t *testing.T, shade uint8) model.SignatureImage {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 30, 12))
	for x := 0; x < 30; x++ {
		img.SetGray(x, 6, color.Gray{Y: shade})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func draft() *model.ConsentRecord {
	return &model.ConsentRecord{
		Party1:           model.Party{Name: "A", IDNumber: "110101199001011234", Contact: "13800000000"},
		Party2:           model.Party{Name: "B", IDNumber: "110101199002022345"},
		ValidPeriod:      model.ValidPeriod24h,
		Acknowledgements: model.AllAcknowledgements(),
	}
}

func newSealer(t *testing.T, store repository.DocumentStore) *Sealer {
	t.Helper()
	return NewSealer(store, clientcrypto.NewRecordCodec(clientcrypto.CipherAESCBC),
		idkey.New(idkey.WithClock(func() time.Time { return fixedNow })), render.New(),
		WithClock(func() time.Time { return fixedNow }))
}

func TestSealer_DateIsUTC(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	// 02:00 on the 18th in UTC+8 is still the 17th in UTC.
	early := time.Date(2026, 10, 18, 2, 0, 0, 0, time.FixedZone("CST", 8*3600))
	s := NewSealer(store, clientcrypto.NewRecordCodec(clientcrypto.CipherAESCBC),
		idkey.New(idkey.WithClock(func() time.Time { return early })), render.New(),
		WithClock(func() time.Time { return early }))

	res, err := s.Seal(ctx, draft(), model.Signatures{Party1: sig(t, 0), Party2: sig(t, 40)})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if res.Metadata.Date != "2026-10-17" {
		t.Fatalf("date=%q, want the UTC date", res.Metadata.Date)
	}
	rec, err := s.Reveal(ctx, res.ID, res.Key)
	if err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	if rec.Date != "2026-10-17" {
		t.Fatalf("record date=%q", rec.Date)
	}
}

func TestSealer_SealAndReveal(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newSealer(t, store)
	sigs := model.Signatures{Party1: sig(t, 0), Party2: sig(t, 40)}

	res, err := s.Seal(ctx, draft(), sigs)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-z]{16}$`).MatchString(res.ID) {
		t.Fatalf("unexpected id shape %q", res.ID)
	}
	if len(res.Key) != idkey.KeyLen || strings.Trim(res.Key, idkey.KeyAlphabet) != "" {
		t.Fatalf("unexpected key %q", res.Key)
	}
	want := model.Metadata{ID: res.ID, Date: "2026-10-17", ValidPeriod: model.ValidPeriod24h}
	if res.Metadata != want {
		t.Fatalf("metadata %+v, want %+v", res.Metadata, want)
	}
	if res.Document == nil || res.Document.PageCount() != 1 {
		t.Fatalf("want a one-page document")
	}
	if got := len(res.Document.Pages[0].Filter(render.KindSignature)); got != 2 {
		t.Fatalf("signature slots = %d", got)
	}

	env := store.data[res.ID]
	if env.Metadata != want || !env.CreateDate.Equal(fixedNow) || env.CreateDate.Location() != time.UTC {
		t.Fatalf("stored envelope %+v", env)
	}
	if strings.Contains(env.Ciphertext, "110101199001011234") || strings.Contains(env.Ciphertext, res.Key) {
		t.Fatalf("envelope leaks plaintext or key")
	}

	rec, err := s.Reveal(ctx, res.ID, res.Key)
	if err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	if rec.ID != res.ID || rec.Date != "2026-10-17" || rec.Party1.Name != "A" || rec.Party2.Name != "B" {
		t.Fatalf("revealed %+v", rec)
	}
	if !bytes.Equal(rec.Signatures.Party2, sigs.Party2) {
		t.Fatalf("signature bytes changed")
	}
}

func TestSealer_SealDoesNotMutateDraft(t *testing.T) {
	d := draft()
	d.ValidPeriod = ""
	res, err := newSealer(t, newFakeStore()).Seal(context.Background(), d, model.Signatures{Party1: sig(t, 0), Party2: sig(t, 0)})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if d.ID != "" || d.Date != "" || d.Signatures.Party1 != nil {
		t.Fatalf("draft mutated: %+v", d)
	}
	if res.Metadata.ValidPeriod != model.DefaultValidPeriod {
		t.Fatalf("empty period must default, got %q", res.Metadata.ValidPeriod)
	}
}

func TestSealer_SealValidation(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newSealer(t, store)
	sigs := model.Signatures{Party1: sig(t, 0), Party2: sig(t, 0)}

	if _, err := s.Seal(ctx, nil, sigs); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("nil record: %v", err)
	}
	d := draft()
	d.Acknowledgements.IsInformed = false
	if _, err := s.Seal(ctx, d, sigs); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("missing acknowledgement: %v", err)
	}
	if _, err := s.Seal(ctx, draft(), model.Signatures{Party1: sig(t, 0)}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("missing signature: %v", err)
	}
	if store.puts != 0 {
		t.Fatalf("invalid input reached the store")
	}
}

func TestSealer_SealFailuresPersistNothing(t *testing.T) {
	ctx := context.Background()
	sigs := model.Signatures{Party1: sig(t, 0), Party2: sig(t, 0)}

	store := newFakeStore()
	s := NewSealer(store, clientcrypto.NewRecordCodec(""), fakeGen{err: errs.ErrGeneration}, render.New())
	if _, err := s.Seal(ctx, draft(), sigs); !errors.Is(err, errs.ErrGeneration) {
		t.Fatalf("generation: %v", err)
	}
	s = NewSealer(store, failingCipher{}, fakeGen{id: "id1", key: "k"}, render.New())
	if _, err := s.Seal(ctx, draft(), sigs); !errors.Is(err, errs.ErrEncryption) {
		t.Fatalf("encryption: %v", err)
	}
	if store.puts != 0 {
		t.Fatalf("failed seal reached the store")
	}

	store.putErr = errs.ErrStorage
	s = NewSealer(store, clientcrypto.NewRecordCodec(""), fakeGen{id: "id1", key: "k"}, render.New())
	if _, err := s.Seal(ctx, draft(), sigs); !errors.Is(err, errs.ErrStorage) {
		t.Fatalf("storage: %v", err)
	}
}

func TestSealer_RenderFailureKeepsEnvelope(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := NewSealer(store, clientcrypto.NewRecordCodec(""), fakeGen{id: "id1", key: "k1"}, failingRenderer{})

	res, err := s.Seal(ctx, draft(), model.Signatures{Party1: sig(t, 0), Party2: sig(t, 0)})
	if !errors.Is(err, errs.ErrRender) {
		t.Fatalf("want ErrRender, got %v", err)
	}
	if res.ID != "id1" || res.Key != "k1" || res.Document != nil {
		t.Fatalf("result %+v", res)
	}
	if _, err := s.Reveal(ctx, "id1", "k1"); err != nil {
		t.Fatalf("envelope must stay retrievable: %v", err)
	}
}

func TestSealer_RevealFailures(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newSealer(t, store)
	res, err := s.Seal(ctx, draft(), model.Signatures{Party1: sig(t, 0), Party2: sig(t, 0)})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := s.Reveal(ctx, "unknown", res.Key); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
	if _, err := s.Reveal(ctx, res.ID, "wrong-key-wrong-key-wrong-key-00"); !errors.Is(err, errs.ErrDecryption) {
		t.Fatalf("wrong key: %v", err)
	}
	if _, err := s.Reveal(ctx, "", res.Key); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty id: %v", err)
	}
	if _, err := s.Reveal(ctx, res.ID, ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty key: %v", err)
	}

	// An envelope copied under another id does not reveal.
	store.data["other"] = store.data[res.ID]
	if _, err := s.Reveal(ctx, "other", res.Key); !errors.Is(err, errs.ErrDecryption) {
		t.Fatalf("moved envelope: %v", err)
	}
}

func TestSealer_ExistsListDelete(t *testing.T) {
	ctx := context.Background()
	s := newSealer(t, newFakeStore())
	res, err := s.Seal(ctx, draft(), model.Signatures{Party1: sig(t, 0), Party2: sig(t, 0)})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if ok, err := s.Exists(ctx, res.ID); err != nil || !ok {
		t.Fatalf("Exists: %v %v", ok, err)
	}
	list, err := s.List(ctx)
	if err != nil || len(list) != 1 || list[0].ID != res.ID {
		t.Fatalf("List: %+v %v", list, err)
	}
	if ok, err := s.Delete(ctx, res.ID); err != nil || !ok {
		t.Fatalf("Delete: %v %v", ok, err)
	}
	if _, err := s.Reveal(ctx, res.ID, res.Key); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("reveal after delete: %v", err)
	}
	if ok, _ := s.Delete(ctx, res.ID); ok {
		t.Fatalf("second delete reported removal")
	}
	if _, err := s.Exists(ctx, " "); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("blank id: %v", err)
	}
}

func TestSealer_FileBackedRoundtrip(t *testing.T) {
	ctx := context.Background()
	area, err := file.New(t.TempDir(), repository.DefaultAreaName)
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	store := repository.NewMapStore(area, repository.WithLocking())
	s := NewSealer(store, clientcrypto.NewRecordCodec(clientcrypto.CipherXChaCha), idkey.New(), render.New())

	res, err := s.Seal(ctx, draft(), model.Signatures{Party1: sig(t, 0), Party2: sig(t, 0)})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	// A second pipeline over the same file sees the record.
	again := NewSealer(repository.NewMapStore(area), clientcrypto.NewRecordCodec(""), idkey.New(), render.New())
	rec, err := again.Reveal(ctx, res.ID, res.Key)
	if err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	doc, err := again.Render(rec)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if doc.FileName() != render.FileName(res.ID) {
		t.Fatalf("file name %q", doc.FileName())
	}
}

type memLimiter struct {
	max    int
	fails  map[string]int
	resets int
}

func (m *memLimiter) Allow(_ context.Context, id string) (bool, time.Duration, error) {
	if m.fails[id] >= m.max {
		return false, time.Minute, nil
	}
	return true, 0, nil
}
func (m *memLimiter) Success(_ context.Context, id string) error {
	m.resets++
	delete(m.fails, id)
	return nil
}
func (m *memLimiter) Failure(_ context.Context, id string) (bool, time.Duration, error) {
	m.fails[id]++
	return m.fails[id] >= m.max, time.Minute, nil
}

func TestSealer_RevealThrottled(t *testing.T) {
	ctx := context.Background()
	lim := &memLimiter{max: 2, fails: map[string]int{}}
	s := NewSealer(newFakeStore(), clientcrypto.NewRecordCodec(""), idkey.New(), render.New(), WithLimiter(lim))
	res, err := s.Seal(ctx, draft(), model.Signatures{Party1: sig(t, 0), Party2: sig(t, 0)})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := s.Reveal(ctx, res.ID, res.Key); err != nil || lim.resets != 1 {
		t.Fatalf("Reveal: %v resets=%d", err, lim.resets)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Reveal(ctx, res.ID, "bad"); !errors.Is(err, errs.ErrDecryption) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := s.Reveal(ctx, res.ID, res.Key); !errors.Is(err, errs.ErrThrottled) {
		t.Fatalf("want ErrThrottled, got %v", err)
	}
	// Unknown ids do not count as failures.
	if _, err := s.Reveal(ctx, "nope", "bad"); !errors.Is(err, errs.ErrNotFound) || lim.fails["nope"] != 0 {
		t.Fatalf("unknown id: %v", err)
	}
}
