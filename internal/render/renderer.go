package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/and161185/consent-keeper/internal/errs"
	"github.com/and161185/consent-keeper/internal/model"
)

// Page geometry in millimetres.
const (
	MarginTop    = 20.0
	MarginRight  = 20.0
	MarginBottom = 20.0
	MarginLeft   = 25.0
	ContentWidth = PageWidth - MarginLeft - MarginRight

	// breakLine is the cursor position past which a checked block moves to
	// a new page. Unchecked blocks may still run past it.
	breakLine = PageHeight - MarginBottom - 20
)

const (
	titleWidth  = 80.0
	titleSize   = 10.0
	metaSize    = 4.0
	headingSize = 5.0
	fieldSize   = 5.0
	bodySize    = 4.0

	fieldIndent = 5.0

	titleGap     = 4.0
	lineGap      = 1.5
	sectionGap   = 4.0
	headingGap   = 2.0
	paragraphGap = 3.0

	signatureWidth   = 70.0
	signatureHeight  = 30.0
	signaturePadding = 10.0
	signatureOffset  = 5.0 // image top below the label top
)

const agreementTemplate = `双方在完全自愿、清醒、理性，并无任何精神或药物影响的情况下，共同确认并同意以下内容：

1. 双方均已达到法定成年年龄，具有完全民事行为能力；
2. 双方均自愿参与本次性行为，不存在任何形式的胁迫、欺骗或误导；
3. 双方均了解可能的健康风险，并已采取适当的安全措施；
4. 双方均尊重对方的身体自主权，同意在任何一方表示不适或拒绝时立即停止；
5. 双方均同意对本次行为及相关信息保密，不向第三方泄露；
6. 本协议自双方签字确认后生效，有效期为%s。`

// AgreementParagraphs returns the fixed clauses with period substituted.
func AgreementParagraphs(period model.ValidPeriod) []string {
	return paragraphs(fmt.Sprintf(agreementTemplate, period.OrDefault()))
}

func paragraphs(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Renderer turns records into documents.
type Renderer struct {
	engine    TextLayoutEngine
	log       *zap.Logger
	props     Properties
	glyphWrap bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithEngine sets the text engine. The default is NewBasicEngine.
func WithEngine(e TextLayoutEngine) Option {
	return func(r *Renderer) {
		if e != nil {
			r.engine = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Renderer) {
		if log != nil {
			r.log = log
		}
	}
}

// WithProperties overrides the PDF document information.
func WithProperties(p Properties) Option {
	return func(r *Renderer) { r.props = p }
}

// WithGlyphWrap wraps by measured glyph width instead of the character budget.
func WithGlyphWrap() Option {
	return func(r *Renderer) { r.glyphWrap = true }
}

// New constructs a Renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{engine: NewBasicEngine(), log: zap.NewNop(), props: DefaultProperties}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// layout is the state of one Render call.
type layout struct {
	r    *Renderer
	doc  *Document
	page *Page
	y    float64
}

func (l *layout) newPage() {
	l.page = &Page{}
	l.doc.Pages = append(l.doc.Pages, l.page)
	l.y = MarginTop
}

// check starts a new page when the cursor is past the break line.
func (l *layout) check() {
	if l.y > breakLine {
		l.newPage()
	}
}

func (l *layout) wrap(text string, width, size float64) []string {
	if l.r.glyphWrap {
		return WrapMeasured(text, width, size, l.r.engine.Measure)
	}
	return Wrap(text, width, size)
}

// text places a wrapped block at (x, l.y) and returns its height.
func (l *layout) text(kind Kind, s string, x, width, size float64, bold bool) (float64, error) {
	lines := l.wrap(s, width, size)
	return l.place(l.page, kind, lines, x, l.y, width, size, bold)
}

func (l *layout) place(p *Page, kind Kind, lines []string, x, y, width, size float64, bold bool) (float64, error) {
	e, err := l.block(kind, lines, x, y, width, size, bold)
	if err != nil {
		return 0, err
	}
	p.add(e)
	return e.H, nil
}

// block rasterizes lines into an element without placing it.
func (l *layout) block(kind Kind, lines []string, x, y, width, size float64, bold bool) (Element, error) {
	img, err := l.r.engine.Rasterize(lines, width, size, bold)
	if err != nil {
		return Element{}, fmt.Errorf("%w: rasterize %q: %v", errs.ErrRender, strings.Join(lines, ""), err)
	}
	b, err := encodePNG(img)
	if err != nil {
		return Element{}, err
	}
	h := LineHeight(size) * float64(len(lines))
	return Element{Kind: kind, X: x, Y: y, W: width, H: h, Lines: lines, PNG: b}, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", errs.ErrRender, err)
	}
	return buf.Bytes(), nil
}

// normalizeSignature re-encodes a PNG, JPEG or WebP signature as PNG.
func normalizeSignature(sig model.SignatureImage) ([]byte, error) {
	if len(sig) == 0 {
		return nil, nil
	}
	img, _, err := image.Decode(bytes.NewReader(sig))
	if err != nil {
		return nil, fmt.Errorf("%w: decode signature: %v", errs.ErrRender, err)
	}
	return encodePNG(img)
}

// Render lays rec out on A4 pages, then adds the watermark and footers.
func (r *Renderer) Render(rec *model.ConsentRecord) (*Document, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", errs.ErrRender)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: record has no id", errs.ErrRender)
	}
	l := &layout{r: r, doc: &Document{ID: rec.ID, Properties: r.props}}
	l.newPage()

	if err := l.header(rec); err != nil {
		return nil, err
	}
	if err := l.parties(rec); err != nil {
		return nil, err
	}
	if err := l.section("协议内容", AgreementParagraphs(rec.ValidPeriod)); err != nil {
		return nil, err
	}
	if terms := paragraphs(rec.CustomTerms); len(terms) > 0 {
		if err := l.section("附加条款", terms); err != nil {
			return nil, err
		}
	}
	if err := l.signatures(rec); err != nil {
		return nil, err
	}
	if err := r.watermark(l.doc); err != nil {
		return nil, err
	}
	if err := l.footers(); err != nil {
		return nil, err
	}
	r.log.Debug("agreement rendered", zap.String("id", rec.ID), zap.Int("pages", l.doc.PageCount()))
	return l.doc, nil
}

func (l *layout) header(rec *model.ConsentRecord) error {
	h, err := l.text(KindText, DefaultProperties.Title, (PageWidth-titleWidth)/2, titleWidth, titleSize, true)
	if err != nil {
		return err
	}
	l.y += h + titleGap

	if h, err = l.text(KindText, "协议编号: "+rec.ID, MarginLeft, ContentWidth, metaSize, false); err != nil {
		return err
	}
	l.y += h + lineGap
	if h, err = l.text(KindText, "创建日期: "+rec.Date, MarginLeft, ContentWidth, metaSize, false); err != nil {
		return err
	}
	l.y += h + sectionGap
	return nil
}

func (l *layout) parties(rec *model.ConsentRecord) error {
	h, err := l.text(KindText, "参与方信息", MarginLeft, ContentWidth, headingSize, true)
	if err != nil {
		return err
	}
	l.y += h + headingGap

	for i, p := range []model.Party{rec.Party1, rec.Party2} {
		fields := []string{
			fmt.Sprintf("参与方%d: %s", i+1, p.Name),
			"证件号码: " + p.IDNumber,
			"联系方式: " + p.Contact,
		}
		for j, f := range fields {
			h, err := l.text(KindText, f, MarginLeft+fieldIndent, ContentWidth-2*fieldIndent, fieldSize, false)
			if err != nil {
				return err
			}
			gap := lineGap
			if j == len(fields)-1 {
				gap = sectionGap
			}
			l.y += h + gap
		}
	}
	return nil
}

// section emits a checked heading followed by checked paragraphs.
func (l *layout) section(heading string, paras []string) error {
	l.check()
	h, err := l.text(KindText, heading, MarginLeft, ContentWidth, headingSize, true)
	if err != nil {
		return err
	}
	l.y += h + headingGap
	for _, p := range paras {
		l.check()
		h, err := l.text(KindText, p, MarginLeft, ContentWidth, bodySize, false)
		if err != nil {
			return err
		}
		l.y += h + paragraphGap
	}
	return nil
}

func (l *layout) signatures(rec *model.ConsentRecord) error {
	l.check()
	l.y += sectionGap
	h, err := l.text(KindText, "参与方签名确认", MarginLeft, ContentWidth, headingSize, true)
	if err != nil {
		return err
	}
	l.y += h + headingGap

	labelWidth := ContentWidth/2 - signaturePadding
	var labelHeight float64
	for i, sig := range []model.SignatureImage{rec.Signatures.Party1, rec.Signatures.Party2} {
		x := MarginLeft + float64(i)*ContentWidth/2
		h, err := l.text(KindText, fmt.Sprintf("参与方%d签名:", i+1), x, labelWidth, fieldSize, false)
		if err != nil {
			return err
		}
		labelHeight = h
		img, err := normalizeSignature(sig)
		if err != nil {
			return err
		}
		l.page.add(Element{Kind: KindSignature, X: x, Y: l.y + signatureOffset, W: signatureWidth, H: signatureHeight, PNG: img})
	}
	l.y += labelHeight + signatureHeight + sectionGap

	_, err = l.text(KindText, "签署日期: "+rec.Date, MarginLeft, ContentWidth, fieldSize, false)
	return err
}

// Footer positions in millimetres.
const (
	footerSize       = 5.0
	pageNumberX      = (PageWidth - 50) / 2
	pageNumberY      = PageHeight - MarginBottom
	pageNumberWidth  = 50.0
	legalNoticeX     = (250 - 100) / 2.0
	legalNoticeY     = PageHeight - MarginBottom + 8
	legalNoticeWidth = 100.0

	LegalNotice = "本文档已加密并受法律保护"
)

// PageLabel is the footer text of page i (1-based) out of n.
func PageLabel(i, n int) string { return fmt.Sprintf("第 %d 页，共 %d 页", i, n) }

// footers stamps page numbers once the page count is final.
func (l *layout) footers() error {
	notice, err := l.block(KindFooter, l.wrap(LegalNotice, legalNoticeWidth, footerSize),
		legalNoticeX, legalNoticeY, legalNoticeWidth, footerSize, false)
	if err != nil {
		return err
	}
	n := len(l.doc.Pages)
	for i, p := range l.doc.Pages {
		num, err := l.block(KindFooter, l.wrap(PageLabel(i+1, n), pageNumberWidth, footerSize),
			pageNumberX, pageNumberY, pageNumberWidth, footerSize, false)
		if err != nil {
			return err
		}
		p.add(num)
		p.add(notice)
	}
	return nil
}
