package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/wudi/pdfkit/builder"
	"github.com/wudi/pdfkit/filters"
	"github.com/wudi/pdfkit/ir"
	"github.com/wudi/pdfkit/ir/raw"
	"github.com/wudi/pdfkit/ir/semantic"
	"github.com/wudi/pdfkit/parser"
	"github.com/wudi/pdfkit/writer"
	"seehuhn.de/go/geom/rect"

	"github.com/wudi/pdfcompose/placement"
)

// Producer is written to the document information of saved files.
const Producer = "pdfcompose"

// Kit is an Engine backed by the pdfkit parser, builder and writer.
type Kit struct {
	pipeline *ir.Pipeline
	parser   *parser.DocumentParser
	filters  *filters.Pipeline
}

// NewKit returns an engine using the default pdfkit pipeline.
func NewKit() *Kit {
	return &Kit{
		pipeline: ir.NewDefault(),
		parser:   parser.NewDocumentParser(parser.Config{}),
		filters: filters.NewPipeline([]filters.Decoder{
			filters.NewFlateDecoder(),
			filters.NewLZWDecoder(),
			filters.NewASCII85Decoder(),
			filters.NewASCIIHexDecoder(),
		}, filters.Limits{}),
	}
}

// Open reads and parses the file at path.
func (k *Kit) Open(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := k.pipeline.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if doc.Encrypted {
		return nil, fmt.Errorf("parse: encrypted documents are not supported")
	}
	rawDoc, err := k.parser.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	rr := &resourceReader{doc: rawDoc, filters: k.filters}
	if err := rr.fill(ctx, doc.Pages); err != nil {
		return nil, err
	}
	return &kitDoc{kit: k, pages: doc.Pages}, nil
}

// New returns an empty document.
func (k *Kit) New() Document {
	return &kitDoc{kit: k}
}

type kitDoc struct {
	kit    *Kit
	pages  []*semantic.Page
	forms  int
	closed bool
}

func (d *kitDoc) PageCount() int { return len(d.pages) }

func (d *kitDoc) page(i int) (*semantic.Page, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if i < 0 || i >= len(d.pages) {
		return nil, fmt.Errorf("page %d of %d: %w", i, len(d.pages), ErrPageRange)
	}
	return d.pages[i], nil
}

func (d *kitDoc) Page(i int) (PageInfo, error) {
	p, err := d.page(i)
	if err != nil {
		return PageInfo{}, err
	}
	box := visibleBox(p)
	return PageInfo{
		Width:    box.Dx(),
		Height:   box.Dy(),
		Rotation: normalizeRotation(p.Rotate),
		Box:      box,
	}, nil
}

func (d *kitDoc) foreign(src Document) (*kitDoc, error) {
	s, ok := src.(*kitDoc)
	if !ok || s.kit != d.kit {
		return nil, ErrForeignDocument
	}
	if d.closed || s.closed {
		return nil, ErrClosed
	}
	return s, nil
}

func (d *kitDoc) InsertPages(src Document) error {
	s, err := d.foreign(src)
	if err != nil {
		return err
	}
	for _, p := range s.pages {
		c := *p
		c.OriginalRef = raw.ObjectRef{}
		c.Dirty = true
		d.pages = append(d.pages, &c)
	}
	return nil
}

func (d *kitDoc) SetPageRotation(i int, angle int) error {
	p, err := d.page(i)
	if err != nil {
		return err
	}
	p.Rotate = normalizeRotation(angle)
	p.Dirty = true
	return nil
}

func (d *kitDoc) NewPage(width, height float64) (PageHandle, error) {
	if d.closed {
		return 0, ErrClosed
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("new page: invalid size %gx%g", width, height)
	}
	d.pages = append(d.pages, &semantic.Page{
		MediaBox: semantic.Rectangle{URX: width, URY: height},
		Dirty:    true,
	})
	return PageHandle(len(d.pages) - 1), nil
}

// DrawPageInto wraps the source page in a form XObject and paints it on the
// destination page through a single cm operator. The resources of the source
// page are merged into those of the destination page.
func (d *kitDoc) DrawPageInto(dest PageHandle, r rect.Rect, src Document, pageIndex int, rotation int) error {
	s, err := d.foreign(src)
	if err != nil {
		return err
	}
	target, err := d.page(int(dest))
	if err != nil {
		return err
	}
	p, err := s.page(pageIndex)
	if err != nil {
		return err
	}
	box := visibleBox(p)
	if box.Dx() <= 0 || box.Dy() <= 0 {
		return fmt.Errorf("draw page %d: empty page box", pageIndex)
	}

	if target.Resources == nil {
		target.Resources = &semantic.Resources{}
	}
	renames := mergeResources(target.Resources, p.Resources)
	data := pageContent(p)
	if len(renames) > 0 {
		data = renameResources(data, renames)
	}
	name := d.formName(target.Resources)
	form := semantic.XObject{
		Subtype:   "Form",
		BBox:      semantic.Rectangle{LLX: box.LLx, LLY: box.LLy, URX: box.URx, URY: box.URy},
		Resources: renamedResources(p.Resources, renames),
		Data:      data,
		Dirty:     true,
	}
	if target.Resources.XObjects == nil {
		target.Resources.XObjects = make(map[string]semantic.XObject)
	}
	target.Resources.XObjects[name] = form

	m := placement.Transform(box, rotation, r)
	if len(target.Contents) == 0 {
		target.Contents = []semantic.ContentStream{{}}
	}
	ops := &target.Contents[0].Operations
	*ops = append(*ops,
		semantic.Operation{Operator: "q"},
		semantic.Operation{Operator: "cm", Operands: []semantic.Operand{
			semantic.NumberOperand{Value: m[0]},
			semantic.NumberOperand{Value: m[1]},
			semantic.NumberOperand{Value: m[2]},
			semantic.NumberOperand{Value: m[3]},
			semantic.NumberOperand{Value: m[4]},
			semantic.NumberOperand{Value: m[5]},
		}},
		semantic.Operation{Operator: "Do", Operands: []semantic.Operand{semantic.NameOperand{Value: name}}},
		semantic.Operation{Operator: "Q"},
	)
	target.Dirty = true
	return nil
}

// formName picks the next PgN name not already used on the page.
func (d *kitDoc) formName(res *semantic.Resources) string {
	taken := resourceNames(res)
	for {
		d.forms++
		name := fmt.Sprintf("Pg%d", d.forms)
		if !taken[name] {
			return name
		}
	}
}

func (d *kitDoc) Save(ctx context.Context, w io.Writer, opts SaveOptions) error {
	if d.closed {
		return ErrClosed
	}
	b := builder.NewBuilder()
	for _, p := range d.pages {
		b.AddPage(p)
	}
	b.SetInfo(&semantic.DocumentInfo{Producer: Producer})
	doc, err := b.Build()
	if err != nil {
		return fmt.Errorf("build document: %w", err)
	}

	cfg := writer.Config{Version: writer.PDF17}
	if opts.Optimize {
		cfg.Compression = 9
		cfg.ContentFilter = writer.FilterFlate
		cfg.XRefStreams = true
		cfg.ObjectStreams = true
		cfg.Deterministic = true
	}
	if err := writer.NewWriter().Write(ctx, doc, w, cfg); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func (d *kitDoc) Close() error {
	d.closed = true
	d.pages = nil
	return nil
}

func visibleBox(p *semantic.Page) rect.Rect {
	b := p.CropBox
	if b.URX-b.LLX <= 0 || b.URY-b.LLY <= 0 {
		b = p.MediaBox
	}
	return rect.Rect{LLx: b.LLX, LLy: b.LLY, URx: b.URX, URy: b.URY}
}

func normalizeRotation(r int) int {
	r %= 360
	if r < 0 {
		r += 360
	}
	return r
}
