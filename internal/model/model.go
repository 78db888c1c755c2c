// Package model defines domain entities used by the pipeline, the store and the renderer.
package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/consent-keeper/internal/errs"
)

// DateLayout is the calendar date format of ConsentRecord.Date.
const DateLayout = "2006-01-02"

// ValidPeriod is how long a sealed consent stays in effect.
type ValidPeriod string

// Supported validity periods.
const (
	ValidPeriod6h  ValidPeriod = "6小时"
	ValidPeriod12h ValidPeriod = "12小时"
	ValidPeriod24h ValidPeriod = "24小时"
	ValidPeriod48h ValidPeriod = "48小时"

	DefaultValidPeriod = ValidPeriod24h
)

// ValidPeriods lists the enumeration in display order.
var ValidPeriods = []ValidPeriod{ValidPeriod6h, ValidPeriod12h, ValidPeriod24h, ValidPeriod48h}

// Valid reports whether p is one of ValidPeriods.
func (p ValidPeriod) Valid() bool {
	for _, v := range ValidPeriods {
		if p == v {
			return true
		}
	}
	return false
}

// OrDefault returns p, or DefaultValidPeriod when p is empty.
func (p ValidPeriod) OrDefault() ValidPeriod {
	if p == "" {
		return DefaultValidPeriod
	}
	return p
}

// Party identifies one signatory.
type Party struct {
	Name     string `json:"name"`
	IDNumber string `json:"idNumber"`
	Contact  string `json:"contact"` // optional
}

// Acknowledgements are the five statements both parties must confirm.
type Acknowledgements struct {
	IsAdult        bool `json:"isAdult"`
	IsConsensual   bool `json:"isConsensual"`
	IsInformed     bool `json:"isInformed"`
	IsRespectful   bool `json:"isRespectful"`
	IsConfidential bool `json:"isConfidential"`
}

// AllAcknowledgements returns a set with every flag confirmed.
func AllAcknowledgements() Acknowledgements {
	return Acknowledgements{IsAdult: true, IsConsensual: true, IsInformed: true, IsRespectful: true, IsConfidential: true}
}

// Missing returns the JSON names of unconfirmed flags.
func (a Acknowledgements) Missing() []string {
	var out []string
	for _, f := range []struct {
		name string
		ok   bool
	}{
		{"isAdult", a.IsAdult},
		{"isConsensual", a.IsConsensual},
		{"isInformed", a.IsInformed},
		{"isRespectful", a.IsRespectful},
		{"isConfidential", a.IsConfidential},
	} {
		if !f.ok {
			out = append(out, f.name)
		}
	}
	return out
}

// SignatureImage holds raster image bytes. In JSON it is a data URL
// ("data:image/png;base64,..."), the shape signature pads emit.
type SignatureImage []byte

// MarshalJSON encodes the image as a data URL; an empty image encodes as "".
func (s SignatureImage) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte(`""`), nil
	}
	mime := http.DetectContentType(s)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return json.Marshal("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(s))
}

// UnmarshalJSON accepts a data URL, a bare base64 string, "" or null.
func (s *SignatureImage) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	if str == "" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(str, "data:") {
		i := strings.Index(str, ",")
		if i < 0 || !strings.HasSuffix(str[:i], ";base64") {
			return fmt.Errorf("signature: unsupported data URL")
		}
		str = str[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	*s = raw
	return nil
}

// Signatures carries both parties' handwritten signature images.
type Signatures struct {
	Party1 SignatureImage `json:"party1"`
	Party2 SignatureImage `json:"party2"`
}

// Validate requires both images.
func (s Signatures) Validate() error {
	if len(s.Party1) == 0 {
		return fmt.Errorf("%w: party1 signature is required", errs.ErrValidation)
	}
	if len(s.Party2) == 0 {
		return fmt.Errorf("%w: party2 signature is required", errs.ErrValidation)
	}
	return nil
}

// ConsentRecord is the plaintext agreement. It only exists transiently and
// inside decrypted envelopes; once sealed it is never updated.
type ConsentRecord struct {
	ID               string           `json:"id"`
	Date             string           `json:"date"`
	Party1           Party            `json:"party1"`
	Party2           Party            `json:"party2"`
	ValidPeriod      ValidPeriod      `json:"validPeriod"`
	CustomTerms      string           `json:"customTerms"`
	Acknowledgements Acknowledgements `json:"acknowledgements"`
	Signatures       Signatures       `json:"signatures"`
}

// Validate checks the fields a caller must fill before sealing. It does not
// look at ID, Date or Signatures, which the pipeline supplies.
func (r *ConsentRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: empty record", errs.ErrValidation)
	}
	for _, p := range []struct {
		label string
		party Party
	}{{"party1", r.Party1}, {"party2", r.Party2}} {
		if strings.TrimSpace(p.party.Name) == "" {
			return fmt.Errorf("%w: %s name is required", errs.ErrValidation, p.label)
		}
		if strings.TrimSpace(p.party.IDNumber) == "" {
			return fmt.Errorf("%w: %s idNumber is required", errs.ErrValidation, p.label)
		}
	}
	if !r.ValidPeriod.OrDefault().Valid() {
		return fmt.Errorf("%w: unsupported validPeriod %q", errs.ErrValidation, r.ValidPeriod)
	}
	if missing := r.Acknowledgements.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: unconfirmed acknowledgements %s", errs.ErrValidation, strings.Join(missing, ","))
	}
	return nil
}

// Metadata is the cleartext part of an envelope; listing never exposes more.
type Metadata struct {
	ID          string      `json:"id"`
	Date        string      `json:"date"`
	ValidPeriod ValidPeriod `json:"validPeriod"`
}

// MetadataOf extracts the cleartext fields of r.
func MetadataOf(r *ConsentRecord) Metadata {
	return Metadata{ID: r.ID, Date: r.Date, ValidPeriod: r.ValidPeriod}
}

// Envelope is the persisted, encrypted form of a ConsentRecord.
type Envelope struct {
	Ciphertext string    // output of the record codec
	CreateDate time.Time // persistence time, distinct from Metadata.Date
	Metadata   Metadata
}

// ListEntry is one row of a store listing.
type ListEntry struct {
	Metadata
	CreateDate time.Time `json:"createDate"`
}
