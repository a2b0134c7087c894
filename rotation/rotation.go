// Package rotation stores user-chosen page rotations of a source document.
//
// Angles are always one of 0, 90, 180 and 270 degrees. A Map is only changed
// through a Draft, which works on a private copy and replaces the map in one
// step on Commit.
package rotation

import (
	"errors"
	"fmt"
	"sort"
)

// ErrPageRange is returned for page indices outside the document.
var ErrPageRange = errors.New("page index out of range")

// Angle is a clockwise rotation in degrees.
type Angle int

// Normalize reduces deg modulo 360 into [0, 360). Values that are not
// multiples of 90 are rounded down to the previous quarter turn.
func Normalize(deg int) Angle {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Angle(deg - deg%90)
}

// Add returns a+delta, normalized.
func (a Angle) Add(delta int) Angle { return Normalize(int(a) + delta) }

// Quarter reports whether the angle swaps the page width and height.
func (a Angle) Quarter() bool { return a == 90 || a == 270 }

// Map maps zero-based page indices to angles. The zero value is an empty map
// in which every page has angle 0.
type Map struct {
	angles map[int]Angle
}

// Get returns the angle stored for page.
func (m Map) Get(page int) Angle { return m.angles[page] }

// Len returns the number of pages with a non-zero angle.
func (m Map) Len() int {
	n := 0
	for _, a := range m.angles {
		if a != 0 {
			n++
		}
	}
	return n
}

// Pages returns the pages with a non-zero angle in increasing order.
func (m Map) Pages() []int {
	pages := make([]int, 0, len(m.angles))
	for p, a := range m.angles {
		if a != 0 {
			pages = append(pages, p)
		}
	}
	sort.Ints(pages)
	return pages
}

// Clone returns a deep copy of m.
func (m Map) Clone() Map {
	if len(m.angles) == 0 {
		return Map{}
	}
	c := make(map[int]Angle, len(m.angles))
	for p, a := range m.angles {
		c[p] = a
	}
	return Map{angles: c}
}

// Equal reports whether both maps assign the same angle to every page.
func (m Map) Equal(o Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for p, a := range m.angles {
		if o.Get(p) != a {
			return false
		}
	}
	return true
}

func (m Map) String() string {
	s := "{"
	for i, p := range m.Pages() {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%d:%d", p, m.angles[p])
	}
	return s + "}"
}

func (m *Map) rotate(page, delta int) {
	if m.angles == nil {
		m.angles = make(map[int]Angle)
	}
	a := m.angles[page].Add(delta)
	if a == 0 {
		delete(m.angles, page)
		return
	}
	m.angles[page] = a
}
