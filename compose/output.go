package compose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wudi/pdfcompose/engine"
	"github.com/wudi/pdfcompose/geometry"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/rotation"
)

// PageSummary describes one page of an Output.
type PageSummary struct {
	Source     string
	SourcePage int
	// Size is the page size as displayed, after /Rotate.
	Size geometry.Size
	// Rotation is the /Rotate value of the output page. Pages drawn onto a
	// target size are never rotated themselves.
	Rotation rotation.Angle
	// Scale is the factor applied when fitting, 0 for copied pages.
	Scale float64
}

// Output is a composed document held in memory.
type Output struct {
	doc      engine.Document
	composer *Composer
	pages    []PageSummary
}

// PageCount returns the number of output pages.
func (o *Output) PageCount() int { return len(o.pages) }

// Pages returns a summary of every output page.
func (o *Output) Pages() []PageSummary {
	return append([]PageSummary(nil), o.pages...)
}

// PageSize returns the displayed size of page i, as reported by the engine.
func (o *Output) PageSize(i int) (geometry.Size, error) {
	info, err := o.doc.Page(i)
	if err != nil {
		return geometry.Size{}, err
	}
	return displayed(info.Width, info.Height, rotation.Normalize(info.Rotation)), nil
}

// Save writes the document to path. The file is written to a temporary name
// in the same directory first, so path is either fully replaced or left as it
// was.
func (o *Output) Save(ctx context.Context, path string) (err error) {
	c := o.composer
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanSave)
	start := time.Now()
	defer func() {
		if err != nil {
			span.SetError(err)
			c.logger.Warn("save failed", observability.String("path", path), observability.Error("err", err))
		}
		span.Finish()
	}()

	if err := o.write(ctx, path); err != nil {
		return &SaveError{Path: path, Err: err}
	}

	elapsed := time.Since(start)
	span.SetTag(observability.MetricSaveTime, elapsed)
	c.logger.Info("saved",
		observability.String("path", path),
		observability.Int("pages", len(o.pages)),
		observability.Duration("elapsed", elapsed),
	)
	return nil
}

func (o *Output) write(ctx context.Context, path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err := o.doc.Save(ctx, f, engine.SaveOptions{Optimize: o.composer.optimize}); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := f.Chmod(0o644); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	committed = true
	return nil
}

// Close releases the document.
func (o *Output) Close() error {
	return o.doc.Close()
}
