// Package enginetest provides an in-memory engine.Engine which records the
// operations performed on it.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"seehuhn.de/go/geom/rect"

	"github.com/wudi/pdfcompose/engine"
)

// Size returns a PageInfo for an unrotated page of the given size.
func Size(w, h float64) engine.PageInfo {
	return engine.PageInfo{Width: w, Height: h, Box: rect.Rect{URx: w, URy: h}}
}

// Rotated returns a PageInfo for a page carrying its own /Rotate value.
func Rotated(w, h float64, rotation int) engine.PageInfo {
	p := Size(w, h)
	p.Rotation = rotation
	return p
}

// Draw records a DrawPageInto call.
type Draw struct {
	Source     string
	SourcePage int
	Rect       rect.Rect
	Rotation   int
}

// Page is a page of an in-memory document.
type Page struct {
	engine.PageInfo
	// Source and SourcePage identify where an inserted page came from.
	// Source is empty for pages created with NewPage.
	Source     string
	SourcePage int
	Draws      []Draw
}

// Engine is a fake engine serving documents registered with AddFile.
type Engine struct {
	mu      sync.Mutex
	files   map[string][]engine.PageInfo
	fail    map[string]error
	opened  []string
	live    int
	saveErr error
	// Opening, if set, receives the path of every Open call on entry.
	Opening chan<- string
	// Block, if set, is received from before each Open returns.
	Block chan struct{}
}

// New returns an engine without any files.
func New() *Engine {
	return &Engine{
		files: make(map[string][]engine.PageInfo),
		fail:  make(map[string]error),
	}
}

// AddFile registers a document at path.
func (e *Engine) AddFile(path string, pages ...engine.PageInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[path] = append([]engine.PageInfo(nil), pages...)
	delete(e.fail, path)
}

// Fail makes opening path return err.
func (e *Engine) Fail(path string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail[path] = err
}

// FailSave makes every Save return err.
func (e *Engine) FailSave(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saveErr = err
}

// Opened lists the paths passed to Open, in order.
func (e *Engine) Opened() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.opened...)
}

// Live reports the number of documents which have not been closed.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

func (e *Engine) Open(ctx context.Context, path string) (engine.Document, error) {
	if e.Opening != nil {
		e.Opening <- path
	}
	if e.Block != nil {
		select {
		case <-e.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = append(e.opened, path)
	if err := e.fail[path]; err != nil {
		return nil, err
	}
	infos, ok := e.files[path]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	doc := &Document{engine: e, name: path}
	for i, info := range infos {
		doc.Pages = append(doc.Pages, &Page{PageInfo: info, Source: path, SourcePage: i})
	}
	e.live++
	return doc, nil
}

func (e *Engine) New() engine.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live++
	return &Document{engine: e}
}

// Document is an in-memory document.
type Document struct {
	engine *Engine
	name   string
	closed bool

	Pages []*Page
}

func (d *Document) check() error {
	if d.closed {
		return engine.ErrClosed
	}
	return nil
}

func (d *Document) page(i int) (*Page, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(d.Pages) {
		return nil, fmt.Errorf("page %d of %d: %w", i, len(d.Pages), engine.ErrPageRange)
	}
	return d.Pages[i], nil
}

func (d *Document) other(src engine.Document) (*Document, error) {
	s, ok := src.(*Document)
	if !ok || s.engine != d.engine {
		return nil, engine.ErrForeignDocument
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return s, d.check()
}

func (d *Document) PageCount() int { return len(d.Pages) }

func (d *Document) Page(i int) (engine.PageInfo, error) {
	p, err := d.page(i)
	if err != nil {
		return engine.PageInfo{}, err
	}
	return p.PageInfo, nil
}

func (d *Document) InsertPages(src engine.Document) error {
	s, err := d.other(src)
	if err != nil {
		return err
	}
	for _, p := range s.Pages {
		c := *p
		c.Draws = append([]Draw(nil), p.Draws...)
		d.Pages = append(d.Pages, &c)
	}
	return nil
}

func (d *Document) SetPageRotation(i int, angle int) error {
	p, err := d.page(i)
	if err != nil {
		return err
	}
	angle %= 360
	if angle < 0 {
		angle += 360
	}
	p.Rotation = angle
	return nil
}

func (d *Document) NewPage(width, height float64) (engine.PageHandle, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("new page: invalid size %gx%g", width, height)
	}
	d.Pages = append(d.Pages, &Page{PageInfo: Size(width, height), SourcePage: -1})
	return engine.PageHandle(len(d.Pages) - 1), nil
}

func (d *Document) DrawPageInto(dest engine.PageHandle, r rect.Rect, src engine.Document, pageIndex int, rotation int) error {
	s, err := d.other(src)
	if err != nil {
		return err
	}
	target, err := d.page(int(dest))
	if err != nil {
		return err
	}
	if _, err := s.page(pageIndex); err != nil {
		return err
	}
	target.Draws = append(target.Draws, Draw{Source: s.name, SourcePage: pageIndex, Rect: r, Rotation: rotation})
	return nil
}

// Save writes a line per page describing its size, rotation and origin.
func (d *Document) Save(ctx context.Context, w io.Writer, opts engine.SaveOptions) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.engine.mu.Lock()
	saveErr := d.engine.saveErr
	d.engine.mu.Unlock()
	if saveErr != nil {
		return saveErr
	}
	fmt.Fprintf(w, "doc pages=%d optimize=%v\n", len(d.Pages), opts.Optimize)
	for i, p := range d.Pages {
		if _, err := fmt.Fprintf(w, "page %d %gx%g rotate=%d from=%s:%d draws=%d\n",
			i, p.Width, p.Height, p.Rotation, p.Source, p.SourcePage, len(p.Draws)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) Close() error {
	if d.closed {
		return errors.New("enginetest: document closed twice")
	}
	d.closed = true
	d.engine.mu.Lock()
	d.engine.live--
	d.engine.mu.Unlock()
	return nil
}
