// Package geometry maps named paper sizes and an orientation onto target page
// dimensions in PDF points (1 inch = 72 points).
package geometry

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Size is a page size in points.
type Size struct {
	Width  float64
	Height float64
}

// Portrait returns the size with width <= height.
func (s Size) Portrait() Size {
	if s.Width > s.Height {
		return Size{Width: s.Height, Height: s.Width}
	}
	return s
}

// Landscape returns the size with width >= height.
func (s Size) Landscape() Size {
	p := s.Portrait()
	return Size{Width: p.Height, Height: p.Width}
}

func (s Size) String() string { return fmt.Sprintf("%gx%g", s.Width, s.Height) }

// SizeKey identifies an entry of the paper size catalog.
type SizeKey int

const (
	// Original keeps every page at its own size (no scaling).
	Original SizeKey = iota
	ANSIA
	ANSIB
	ANSIC
	ISOA4
	ISOA3
	ISOA2
	ISOA5
	USLegal
)

// Orientation selects how a catalog size is laid out.
type Orientation int

const (
	Portrait Orientation = iota
	Landscape
)

func (o Orientation) String() string {
	switch o {
	case Portrait:
		return "portrait"
	case Landscape:
		return "landscape"
	default:
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
}

// ParseOrientation accepts "portrait" or "landscape" in any letter case.
func ParseOrientation(s string) (Orientation, error) {
	switch fold(strings.TrimSpace(s)) {
	case "portrait", "p":
		return Portrait, nil
	case "landscape", "l":
		return Landscape, nil
	}
	return Portrait, fmt.Errorf("unknown orientation %q", s)
}

// Entry describes one catalog size.
type Entry struct {
	Key   SizeKey
	Name  string // short name used on the command line
	Label string
	size  Size
	none  bool
}

// Size returns the canonical portrait size of the entry.
func (e Entry) Size() (Size, bool) { return e.size, !e.none }

var catalog = []Entry{
	{Key: Original, Name: "original", Label: "Original Size (No Scaling)", none: true},
	{Key: ANSIA, Name: "ansi-a", Label: "ANSI A (8.5 x 11 in)", size: Size{612, 792}},
	{Key: ANSIB, Name: "ansi-b", Label: "ANSI B (11 x 17 in)", size: Size{792, 1224}},
	{Key: ANSIC, Name: "ansi-c", Label: "ANSI C (17 x 22 in)", size: Size{1224, 1584}},
	{Key: ISOA4, Name: "a4", Label: "ISO A4 (210 x 297 mm)", size: Size{595, 842}},
	{Key: ISOA3, Name: "a3", Label: "ISO A3 (297 x 420 mm)", size: Size{842, 1191}},
	{Key: ISOA2, Name: "a2", Label: "ISO A2 (420 x 594 mm)", size: Size{1191, 1684}},
	{Key: ISOA5, Name: "a5", Label: "ISO A5 (148 x 210 mm)", size: Size{420, 595}},
	{Key: USLegal, Name: "legal", Label: "US Legal (8.5 x 14 in)", size: Size{612, 1008}},
}

// aliases accepted by Lookup in addition to the entry names.
var aliases = map[string]SizeKey{
	"none":    Original,
	"letter":  ANSIA,
	"tabloid": ANSIB,
	"ledger":  ANSIB,
}

// Catalog returns all entries in display order, starting with Original.
func Catalog() []Entry {
	out := make([]Entry, len(catalog))
	copy(out, catalog)
	return out
}

func (k SizeKey) entry() Entry {
	for _, e := range catalog {
		if e.Key == k {
			return e
		}
	}
	panic(fmt.Sprintf("geometry: unknown size key %d", int(k)))
}

func (k SizeKey) String() string {
	for _, e := range catalog {
		if e.Key == k {
			return e.Name
		}
	}
	return fmt.Sprintf("SizeKey(%d)", int(k))
}

// Label returns the human readable catalog label.
func (k SizeKey) Label() string { return k.entry().Label }

// Resolve returns the target page size for key laid out in orientation o.
// The second result is false for Original, meaning "do not resize".
//
// Resolve panics if key is not part of the catalog.
func Resolve(key SizeKey, o Orientation) (Size, bool) {
	e := key.entry()
	if e.none {
		return Size{}, false
	}
	switch o {
	case Portrait:
		return e.size.Portrait(), true
	case Landscape:
		return e.size.Landscape(), true
	default:
		panic(fmt.Sprintf("geometry: unknown orientation %d", int(o)))
	}
}

// Target is Resolve returning nil for Original, the form expected by the
// composer.
func Target(key SizeKey, o Orientation) *Size {
	s, ok := Resolve(key, o)
	if !ok {
		return nil
	}
	return &s
}

// Lookup finds a catalog key by short name, alias or full label. Matching
// ignores letter case.
func Lookup(name string) (SizeKey, error) {
	n := fold(strings.TrimSpace(name))
	if k, ok := aliases[n]; ok {
		return k, nil
	}
	for _, e := range catalog {
		if n == e.Name || n == fold(e.Label) {
			return e.Key, nil
		}
	}
	return Original, fmt.Errorf("unknown page size %q", name)
}

func fold(s string) string {
	return cases.Fold().String(s)
}
