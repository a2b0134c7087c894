// Package engine defines the PDF capabilities the composer relies on and
// provides an implementation backed by github.com/wudi/pdfkit.
package engine

import (
	"context"
	"errors"
	"io"

	"seehuhn.de/go/geom/rect"
)

var (
	// ErrClosed is returned when a closed document is used.
	ErrClosed = errors.New("document is closed")
	// ErrPageRange is returned for page indices outside the document.
	ErrPageRange = errors.New("page index out of range")
	// ErrForeignDocument is returned when documents of different engines are
	// mixed.
	ErrForeignDocument = errors.New("document belongs to a different engine")
)

// PageInfo describes a page as stored in its document.
type PageInfo struct {
	// Width and Height are the size of Box, before Rotation is applied.
	Width  float64
	Height float64
	// Rotation is the page's own clockwise /Rotate value.
	Rotation int
	// Box is the visible page area (crop box, or media box if unset).
	Box rect.Rect
}

// PageHandle refers to a page created with Document.NewPage.
type PageHandle int

// SaveOptions configures serialization.
type SaveOptions struct {
	// Optimize drops unreferenced objects, compresses streams and writes
	// compact cross reference data.
	Optimize bool
}

// Document is an open PDF document.
type Document interface {
	PageCount() int
	Page(i int) (PageInfo, error)

	// InsertPages appends all pages of src, unmodified, at the end.
	InsertPages(src Document) error
	// SetPageRotation sets the /Rotate value of page i.
	SetPageRotation(i int, angle int) error
	// NewPage appends an empty page of the given size.
	NewPage(width, height float64) (PageHandle, error)
	// DrawPageInto draws page pageIndex of src as vector content into r on
	// dest, turned counter-clockwise by rotation degrees.
	DrawPageInto(dest PageHandle, r rect.Rect, src Document, pageIndex int, rotation int) error

	Save(ctx context.Context, w io.Writer, opts SaveOptions) error
	Close() error
}

// Engine opens existing documents and creates new ones.
type Engine interface {
	Open(ctx context.Context, path string) (Document, error)
	New() Document
}
