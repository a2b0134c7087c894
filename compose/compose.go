// Package compose merges an ordered list of source PDFs into one output
// document, applying per-page rotations and, optionally, fitting every page
// onto a uniform target size.
package compose

import (
	"context"
	"fmt"
	"time"

	"github.com/wudi/pdfcompose/engine"
	"github.com/wudi/pdfcompose/geometry"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/placement"
	"github.com/wudi/pdfcompose/rotation"
)

// Source is an input file together with the rotations chosen for its pages.
type Source struct {
	Path      string
	Rotations rotation.Map
}

// Config configures a Composer. The zero value is usable.
type Config struct {
	Logger observability.Logger
	Tracer observability.Tracer
	// KeepUnoptimized disables stream compression and object cleanup on
	// save.
	KeepUnoptimized bool
}

// Composer builds output documents with an engine.
type Composer struct {
	engine   engine.Engine
	logger   observability.Logger
	tracer   observability.Tracer
	optimize bool
}

// New returns a Composer using e for all document operations.
func New(e engine.Engine, cfg Config) *Composer {
	c := &Composer{
		engine:   e,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		optimize: !cfg.KeepUnoptimized,
	}
	if c.logger == nil {
		c.logger = observability.NopLogger{}
	}
	if c.tracer == nil {
		c.tracer = observability.NopTracer()
	}
	return c
}

// Engine returns the engine the composer works with.
func (c *Composer) Engine() engine.Engine { return c.engine }

// Recompose builds a new output document from sources, in order.
//
// With a nil target every page is copied unmodified and user rotations are
// added to the page's own /Rotate value. Otherwise each page is drawn,
// rotated, scaled and centered, onto a fresh page of exactly *target.
//
// Recompose does not modify its arguments and returns either a complete
// output or an error, never a partial document. The caller owns the result
// and must Close it.
func (c *Composer) Recompose(ctx context.Context, sources []Source, target *geometry.Size) (_ *Output, err error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanRecompose)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()
	start := time.Now()

	var pol policy = passThrough{}
	if target != nil {
		if target.Width <= 0 || target.Height <= 0 {
			return nil, &CompositionError{Op: "fit", Path: target.String(), Page: -1, Err: ErrDegenerate}
		}
		pol = fitted{canvas: *target}
	}

	doc := c.engine.New()
	out := &Output{doc: doc, composer: c}
	defer func() {
		if err != nil {
			doc.Close()
		}
	}()

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages, err := c.appendSource(ctx, doc, src, pol)
		if err != nil {
			c.logger.Warn("recompose failed", observability.String("path", src.Path), observability.Error("err", err))
			return nil, err
		}
		out.pages = append(out.pages, pages...)
	}

	elapsed := time.Since(start)
	span.SetTag(observability.MetricSourceCount, len(sources))
	span.SetTag(observability.MetricPageCount, len(out.pages))
	span.SetTag(observability.MetricComposeTime, elapsed)
	c.logger.Debug("recomposed",
		observability.Int("sources", len(sources)),
		observability.Int("pages", len(out.pages)),
		observability.Bool("scaled", target != nil),
		observability.Duration("elapsed", elapsed),
	)
	return out, nil
}

// step is one page of the composition plan.
type step struct {
	page int
	info engine.PageInfo
	// user is the angle chosen for the page, effective adds the page's own
	// rotation to it.
	user      rotation.Angle
	effective rotation.Angle
}

// policy decides where the pages of a source end up in the output.
type policy interface {
	// begin is called once per source before any of its steps.
	begin(out, src engine.Document) (base int, err error)
	place(out, src engine.Document, base int, s step) (PageSummary, error)
}

type passThrough struct{}

func (passThrough) begin(out, src engine.Document) (int, error) {
	base := out.PageCount()
	if err := out.InsertPages(src); err != nil {
		return 0, err
	}
	return base, nil
}

func (passThrough) place(out, _ engine.Document, base int, s step) (PageSummary, error) {
	rot := rotation.Normalize(s.info.Rotation)
	if s.user != 0 {
		if err := out.SetPageRotation(base+s.page, int(s.effective)); err != nil {
			return PageSummary{}, err
		}
		rot = s.effective
	}
	return PageSummary{Size: displayed(s.info.Width, s.info.Height, rot), Rotation: rot}, nil
}

type fitted struct {
	canvas geometry.Size
}

func (fitted) begin(engine.Document, engine.Document) (int, error) { return 0, nil }

func (f fitted) place(out, src engine.Document, _ int, s step) (PageSummary, error) {
	h, err := out.NewPage(f.canvas.Width, f.canvas.Height)
	if err != nil {
		return PageSummary{}, err
	}
	p := placement.Fit(s.info.Width, s.info.Height, s.effective, f.canvas)
	if err := out.DrawPageInto(h, p.Rect, src, s.page, p.Rotation); err != nil {
		return PageSummary{}, err
	}
	return PageSummary{Size: f.canvas, Scale: p.Scale}, nil
}

func (c *Composer) appendSource(ctx context.Context, out engine.Document, src Source, pol policy) ([]PageSummary, error) {
	doc, err := c.engine.Open(ctx, src.Path)
	if err != nil {
		return nil, &OpenError{Path: src.Path, Err: err}
	}
	defer doc.Close()

	steps, err := plan(doc, src)
	if err != nil {
		return nil, err
	}
	for _, p := range src.Rotations.Pages() {
		if p >= len(steps) {
			c.logger.Warn("rotation for missing page ignored",
				observability.String("path", src.Path),
				observability.Int("page", p+1),
				observability.Int("pages", len(steps)))
		}
	}

	base, err := pol.begin(out, doc)
	if err != nil {
		return nil, &CompositionError{Op: "insert", Path: src.Path, Page: -1, Err: err}
	}
	summaries := make([]PageSummary, 0, len(steps))
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, err := pol.place(out, doc, base, s)
		if err != nil {
			return nil, &CompositionError{Op: "place", Path: src.Path, Page: s.page, Err: err}
		}
		sum.Source = src.Path
		sum.SourcePage = s.page
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// plan reads every page of doc up front so that invalid pages are reported
// before the output is touched.
func plan(doc engine.Document, src Source) ([]step, error) {
	n := doc.PageCount()
	steps := make([]step, 0, n)
	for i := 0; i < n; i++ {
		info, err := doc.Page(i)
		if err != nil {
			return nil, &CompositionError{Op: "read", Path: src.Path, Page: i, Err: err}
		}
		if info.Width <= 0 || info.Height <= 0 {
			return nil, &CompositionError{
				Op:   "read",
				Path: src.Path,
				Page: i,
				Err:  fmt.Errorf("%w: %gx%g", ErrDegenerate, info.Width, info.Height),
			}
		}
		user := src.Rotations.Get(i)
		steps = append(steps, step{
			page:      i,
			info:      info,
			user:      user,
			effective: user.Add(info.Rotation),
		})
	}
	return steps, nil
}

// displayed returns the size of a page as a viewer shows it.
func displayed(w, h float64, rot rotation.Angle) geometry.Size {
	if rot.Quarter() {
		return geometry.Size{Width: h, Height: w}
	}
	return geometry.Size{Width: w, Height: h}
}
