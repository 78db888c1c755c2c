package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/and161185/consent-keeper/internal/errs"
)

// WritePDF writes the document as a compressed A4 PDF.
func (d *Document) WritePDF(w io.Writer) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(MarginLeft, MarginTop, MarginRight)
	pdf.SetTitle(d.Properties.Title, true)
	pdf.SetSubject(d.Properties.Subject, true)
	pdf.SetCreator(d.Properties.Creator, true)
	pdf.SetAuthor(d.Properties.Author, true)
	pdf.SetKeywords(d.Properties.Keywords, true)

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	for _, p := range d.Pages {
		pdf.AddPage()
		for _, e := range p.Elements {
			if len(e.PNG) == 0 {
				continue
			}
			// Identical images (watermark, legal notice) are embedded once.
			sum := sha256.Sum256(e.PNG)
			name := hex.EncodeToString(sum[:8])
			pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(e.PNG))
			pdf.ImageOptions(name, e.X, e.Y, e.W, e.H, false, opts, 0, "")
		}
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrRender, err)
		}
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("%w: write pdf: %v", errs.ErrRender, err)
	}
	return nil
}

// Bytes returns the PDF encoding of the document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.WritePDF(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
