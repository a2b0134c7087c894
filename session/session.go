// Package session holds the state of an interactive composition: the ordered
// source list, the chosen page size and the current output. Every change
// rebuilds the output from scratch.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfcompose/compose"
	"github.com/wudi/pdfcompose/geometry"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/rotation"
)

var (
	// ErrEmpty is returned by Save when there is nothing to save.
	ErrEmpty = errors.New("no output to save")
	// ErrStale is returned by Save when the output does not reflect the
	// latest change, because the rebuild failed or is still running.
	ErrStale = errors.New("output is out of date")
	// ErrIndex is returned for source indices outside the list.
	ErrIndex = errors.New("source index out of range")
	// ErrChanged is returned when a rotation edit is applied after its
	// source was removed.
	ErrChanged = errors.New("source list changed during edit")

	errUnchanged = errors.New("unchanged")
)

// Session is safe for concurrent use. When rebuilds overlap, the most recent
// request wins and older ones are canceled.
type Session struct {
	composer *compose.Composer
	logger   observability.Logger

	mu       sync.Mutex
	sources  []entry
	nextID   uint64
	size     geometry.SizeKey
	orient   geometry.Orientation
	output   *compose.Output
	err      error // error of the latest rebuild
	gen      uint64
	inflight context.CancelFunc
}

// New returns an empty session at original size, portrait.
func New(c *compose.Composer, logger observability.Logger) *Session {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Session{composer: c, logger: logger}
}

// Add appends paths to the source list.
func (s *Session) Add(ctx context.Context, paths ...string) error {
	return s.update(ctx, func() error {
		for _, p := range paths {
			s.nextID++
			s.sources = append(s.sources, entry{id: s.nextID, Source: compose.Source{Path: p}})
		}
		return nil
	})
}

// Remove drops source i from the list.
func (s *Session) Remove(ctx context.Context, i int) error {
	return s.update(ctx, func() error {
		if err := s.check(i); err != nil {
			return err
		}
		s.sources = append(s.sources[:i], s.sources[i+1:]...)
		return nil
	})
}

// MoveUp swaps source i with its predecessor. Moving the first source is a
// no-op.
func (s *Session) MoveUp(ctx context.Context, i int) error {
	return s.swap(ctx, i, i-1)
}

// MoveDown swaps source i with its successor. Moving the last source is a
// no-op.
func (s *Session) MoveDown(ctx context.Context, i int) error {
	return s.swap(ctx, i, i+1)
}

func (s *Session) swap(ctx context.Context, i, j int) error {
	return s.update(ctx, func() error {
		if err := s.check(i); err != nil {
			return err
		}
		if j < 0 || j >= len(s.sources) {
			return errUnchanged
		}
		s.sources[i], s.sources[j] = s.sources[j], s.sources[i]
		return nil
	})
}

// SetSize selects the target page size.
func (s *Session) SetSize(ctx context.Context, key geometry.SizeKey) error {
	key.Label() // panics for keys outside the catalog
	return s.update(ctx, func() error {
		s.size = key
		return nil
	})
}

// SetOrientation selects the orientation of the target page size. It has no
// visible effect at original size.
func (s *Session) SetOrientation(ctx context.Context, o geometry.Orientation) error {
	return s.update(ctx, func() error {
		if o != geometry.Portrait && o != geometry.Landscape {
			return fmt.Errorf("unknown orientation %v", o)
		}
		s.orient = o
		return nil
	})
}

// entry is a source in the list. The id tells apart entries sharing a path
// and follows the entry as it moves.
type entry struct {
	id uint64
	compose.Source
}

// Edit is a pending change to the rotations of one source.
type Edit struct {
	*rotation.Draft
	Path string
	id   uint64
}

// EditRotations starts a rotation edit for source i. The source is opened to
// learn its page count. Changes made to the returned Edit are invisible until
// passed to ApplyRotations.
func (s *Session) EditRotations(ctx context.Context, i int) (*Edit, error) {
	s.mu.Lock()
	if err := s.check(i); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	src := s.sources[i]
	s.mu.Unlock()

	doc, err := s.composer.Engine().Open(ctx, src.Path)
	if err != nil {
		return nil, &compose.OpenError{Path: src.Path, Err: err}
	}
	n := doc.PageCount()
	doc.Close()

	return &Edit{Draft: rotation.NewDraft(src.Rotations, n), Path: src.Path, id: src.id}, nil
}

// ApplyRotations replaces the rotations of the edited source with the
// content of e. The edit follows its source through moves and removals of
// other sources.
func (s *Session) ApplyRotations(ctx context.Context, e *Edit) error {
	return s.update(ctx, func() error {
		for i := range s.sources {
			if s.sources[i].id == e.id {
				s.sources[i].Rotations = e.Commit()
				return nil
			}
		}
		return ErrChanged
	})
}

// Sources returns a copy of the source list.
func (s *Session) Sources() []compose.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSources(s.sources)
}

// Geometry returns the selected size and orientation.
func (s *Session) Geometry() (geometry.SizeKey, geometry.Orientation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, s.orient
}

// Preview describes the current output.
type Preview struct {
	Pages  []compose.PageSummary
	Target *geometry.Size
	// Err is the error of the latest rebuild. Pages still describe the
	// last successful one.
	Err error
}

// Preview returns a snapshot of the current output.
func (s *Session) Preview() Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Preview{Target: geometry.Target(s.size, s.orient), Err: s.err}
	if s.output != nil {
		p.Pages = s.output.Pages()
	}
	return p
}

// PageSize returns the displayed size of output page i.
func (s *Session) PageSize(i int) (geometry.Size, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output == nil {
		return geometry.Size{}, ErrEmpty
	}
	return s.output.PageSize(i)
}

// Save writes the output to path and, on success, ends the composition by
// clearing the source list. On failure the session is unchanged.
func (s *Session) Save(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output == nil || len(s.sources) == 0 {
		return ErrEmpty
	}
	if s.err != nil {
		return fmt.Errorf("%w: %v", ErrStale, s.err)
	}
	if s.inflight != nil {
		return fmt.Errorf("%w: rebuild in progress", ErrStale)
	}
	if err := s.output.Save(ctx, path); err != nil {
		return err
	}
	s.output.Close()
	s.output = nil
	s.sources = nil
	return nil
}

// Close releases the current output.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
	s.gen++
	if s.output == nil {
		return nil
	}
	err := s.output.Close()
	s.output = nil
	return err
}

// check must be called with s.mu held.
func (s *Session) check(i int) error {
	if i < 0 || i >= len(s.sources) {
		return fmt.Errorf("source %d of %d: %w", i, len(s.sources), ErrIndex)
	}
	return nil
}

// update applies mutate under the lock and rebuilds the output. If a newer
// update starts while the rebuild runs, this one is canceled and its result
// discarded.
func (s *Session) update(ctx context.Context, mutate func() error) error {
	s.mu.Lock()
	if err := mutate(); err != nil {
		s.mu.Unlock()
		if err == errUnchanged {
			return nil
		}
		return err
	}
	if s.inflight != nil {
		s.inflight()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.inflight = cancel
	sources := cloneSources(s.sources)
	target := geometry.Target(s.size, s.orient)
	s.mu.Unlock()

	var out *compose.Output
	var err error
	if len(sources) > 0 {
		out, err = s.composer.Recompose(ctx, sources, target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		if out != nil {
			out.Close()
		}
		s.logger.Debug("rebuild superseded", observability.Int("sources", len(sources)))
		return nil
	}
	s.inflight = nil
	if err != nil {
		s.err = err
		s.logger.Warn("rebuild failed, keeping previous output", observability.Error("err", err))
		return err
	}
	if s.output != nil {
		s.output.Close()
	}
	s.output = out
	s.err = nil
	return nil
}

func cloneSources(in []entry) []compose.Source {
	out := make([]compose.Source, len(in))
	for i, src := range in {
		out[i] = compose.Source{Path: src.Path, Rotations: src.Rotations.Clone()}
	}
	return out
}
