// Package convert maps domain envelopes to and from the persisted store layout.
package convert

import (
	"encoding/json"
	"time"

	"github.com/and161185/consent-keeper/internal/model"
)

// CreateDateLayout matches JavaScript's Date.toISOString (UTC, millisecond precision).
const CreateDateLayout = "2006-01-02T15:04:05.000Z07:00"

// StoredEnvelope is the JSON shape of one entry in the persisted map.
type StoredEnvelope struct {
	EncryptedData string         `json:"encryptedData"`
	CreateDate    string         `json:"createDate"`
	Metadata      model.Metadata `json:"metadata"`
}

// StoredMap is the whole persisted area: id -> envelope.
type StoredMap map[string]StoredEnvelope

// ToStored converts a domain envelope to its persisted shape.
func ToStored(e model.Envelope) StoredEnvelope {
	return StoredEnvelope{
		EncryptedData: e.Ciphertext,
		CreateDate:    e.CreateDate.UTC().Format(CreateDateLayout),
		Metadata:      e.Metadata,
	}
}

// FromStored converts a persisted entry back to a domain envelope. An
// unparsable createDate yields the zero time rather than an error.
func FromStored(s StoredEnvelope) model.Envelope {
	created, err := time.Parse(time.RFC3339Nano, s.CreateDate)
	if err != nil {
		created = time.Time{}
	}
	return model.Envelope{
		Ciphertext: s.EncryptedData,
		CreateDate: created,
		Metadata:   s.Metadata,
	}
}

// ToListEntry keeps only the cleartext fields of a persisted entry.
func ToListEntry(s StoredEnvelope) model.ListEntry {
	return model.ListEntry{Metadata: s.Metadata, CreateDate: FromStored(s).CreateDate}
}

// Unreadable holds persisted entries that do not have the envelope shape,
// kept verbatim so a rewrite of the area does not drop them.
type Unreadable map[string]json.RawMessage

// DecodeMap parses a persisted area. Empty input is an empty map. Entries
// that fail to decode are returned in Unreadable; only a top level that is
// not a JSON object is an error.
func DecodeMap(b []byte) (StoredMap, Unreadable, error) {
	m := StoredMap{}
	bad := Unreadable{}
	if len(b) == 0 {
		return m, bad, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, nil, err
	}
	for id, v := range raw {
		var st StoredEnvelope
		if err := json.Unmarshal(v, &st); err != nil {
			bad[id] = v
			continue
		}
		m[id] = st
	}
	return m, bad, nil
}

// EncodeMap serializes a persisted area. Unreadable entries are written back
// unchanged unless m holds the same id.
func EncodeMap(m StoredMap, keep Unreadable) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m)+len(keep))
	for id, v := range keep {
		out[id] = v
	}
	for id, st := range m {
		b, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		out[id] = b
	}
	return json.Marshal(out)
}
