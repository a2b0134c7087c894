package rotation

import "fmt"

// A Draft edits the rotations of one document without touching the live Map.
// Nothing is visible to other readers until Commit.
type Draft struct {
	work      Map
	pageCount int
}

// NewDraft starts editing a copy of m for a document with pageCount pages.
func NewDraft(m Map, pageCount int) *Draft {
	return &Draft{work: m.Clone(), pageCount: pageCount}
}

// PageCount returns the number of pages of the edited document.
func (d *Draft) PageCount() int { return d.pageCount }

// Angle returns the draft angle of page.
func (d *Draft) Angle(page int) Angle { return d.work.Get(page) }

// Rotate adds delta degrees (typically +90 or -90) to one page.
func (d *Draft) Rotate(page, delta int) error {
	if page < 0 || page >= d.pageCount {
		return fmt.Errorf("rotate page %d of %d: %w", page, d.pageCount, ErrPageRange)
	}
	d.work.rotate(page, delta)
	return nil
}

// RotateAll adds delta degrees to every page.
func (d *Draft) RotateAll(delta int) {
	for p := 0; p < d.pageCount; p++ {
		d.work.rotate(p, delta)
	}
}

// Commit returns the edited map. The draft keeps its own copy, so further
// edits do not leak into the returned value.
func (d *Draft) Commit() Map { return d.work.Clone() }
