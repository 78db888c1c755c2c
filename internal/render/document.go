// Package render lays a consent record out on A4 pages and writes it as PDF.
//
// All text is rasterized; the PDF only carries images, so any script the
// configured font covers comes out intact regardless of the viewer.
package render

import (
	"fmt"
	"strings"
)

// A4 page size in millimetres.
const (
	PageWidth  = 210.0
	PageHeight = 297.0
)

// Kind tells what an element is for.
type Kind int

const (
	KindText Kind = iota
	KindSignature
	KindWatermark
	KindFooter
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindSignature:
		return "signature"
	case KindWatermark:
		return "watermark"
	case KindFooter:
		return "footer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Element is one placed image. Position and size are in millimetres from the
// top-left page corner. PNG is empty for a signature slot without an image.
type Element struct {
	Kind  Kind
	X, Y  float64
	W, H  float64
	Lines []string // wrapped text, empty for signatures
	PNG   []byte
}

// Text returns the element's lines joined without separators.
func (e Element) Text() string {
	return strings.Join(e.Lines, "")
}

// Page is one A4 sheet in paint order.
type Page struct {
	Elements []Element
}

func (p *Page) add(e Element) { p.Elements = append(p.Elements, e) }

// Filter returns the page elements of kind k.
func (p *Page) Filter(k Kind) []Element {
	var out []Element
	for _, e := range p.Elements {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Properties are the document information fields of the PDF.
type Properties struct {
	Title    string
	Subject  string
	Creator  string
	Author   string
	Keywords string
}

// DefaultProperties are stamped on every rendered agreement.
var DefaultProperties = Properties{
	Title:    "性行为同意协议",
	Subject:  "性行为同意协议文档",
	Creator:  "性行为同意协议系统",
	Author:   "系统生成",
	Keywords: "同意协议,数字签名,加密",
}

// Document is a rendered agreement held in memory.
type Document struct {
	ID         string
	Properties Properties
	Pages      []*Page
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return len(d.Pages) }

// FileName is the suggested file name for the document.
func (d *Document) FileName() string { return FileName(d.ID) }

// FileName returns consent-agreement-<id>.pdf.
func FileName(id string) string { return "consent-agreement-" + id + ".pdf" }
