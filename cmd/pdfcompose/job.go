package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wudi/pdfcompose/geometry"
	"github.com/wudi/pdfcompose/rotation"
)

// job describes one composition. Relative paths in a job file are resolved
// against the directory of the file.
type job struct {
	Output      string      `json:"output,omitempty"`
	Size        string      `json:"size,omitempty"`
	Orientation string      `json:"orientation,omitempty"`
	Sources     []jobSource `json:"sources"`
}

type jobSource struct {
	Path   string       `json:"path"`
	Rotate []rotateRule `json:"rotate,omitempty"`
}

// rotateRule turns the pages selected by Pages clockwise by Angle degrees.
type rotateRule struct {
	Pages string `json:"pages"`
	Angle int    `json:"angle"`
}

func loadJob(path string) (job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return job{}, fmt.Errorf("read job: %w", err)
	}
	var j job
	if err := json.Unmarshal(data, &j); err != nil {
		return job{}, fmt.Errorf("parse job %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	j.Output = rel(j.Output)
	for i := range j.Sources {
		if j.Sources[i].Path == "" {
			return job{}, fmt.Errorf("parse job %s: source %d has no path", path, i+1)
		}
		j.Sources[i].Path = rel(j.Sources[i].Path)
	}
	return j, nil
}

// target resolves the size and orientation of the job. A nil size keeps the
// original page sizes.
func (j job) target() (*geometry.Size, error) {
	key := geometry.Original
	if j.Size != "" {
		k, err := geometry.Lookup(j.Size)
		if err != nil {
			return nil, err
		}
		key = k
	}
	o := geometry.Portrait
	if j.Orientation != "" {
		v, err := geometry.ParseOrientation(j.Orientation)
		if err != nil {
			return nil, err
		}
		o = v
	}
	return geometry.Target(key, o), nil
}

func (r rotateRule) apply(d *rotation.Draft) error {
	if r.Angle%90 != 0 {
		return fmt.Errorf("rotate %q: angle %d is not a multiple of 90", r.Pages, r.Angle)
	}
	pages, err := parsePages(r.Pages, d.PageCount())
	if err != nil {
		return err
	}
	for _, p := range pages {
		if err := d.Rotate(p, r.Angle); err != nil {
			return err
		}
	}
	return nil
}

// parsePages parses a list of 1-based pages and ranges such as "1-3,5,8-"
// and returns the selected zero-based indices in order of first mention.
// "all" and the empty string select every page.
func parsePages(spec string, n int) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "all") {
		pages := make([]int, n)
		for i := range pages {
			pages[i] = i
		}
		return pages, nil
	}

	var pages []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := pageNumber(lo, n)
		if err != nil {
			return nil, fmt.Errorf("pages %q: %w", spec, err)
		}
		last := first
		if isRange {
			last = n
			if strings.TrimSpace(hi) != "" {
				if last, err = pageNumber(hi, n); err != nil {
					return nil, fmt.Errorf("pages %q: %w", spec, err)
				}
			}
			if last < first {
				return nil, fmt.Errorf("pages %q: range %s is reversed", spec, part)
			}
		}
		for p := first; p <= last; p++ {
			if !seen[p] {
				seen[p] = true
				pages = append(pages, p-1)
			}
		}
	}
	return pages, nil
}

func pageNumber(s string, n int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid page %q", s)
	}
	if v < 1 || v > n {
		return 0, fmt.Errorf("page %d outside 1-%d", v, n)
	}
	return v, nil
}

// rotateFlags collects repeated -rotate FILE:PAGES=ANGLE flags.
type rotateFlags []fileRule

type fileRule struct {
	file int
	rotateRule
}

func (f *rotateFlags) String() string {
	parts := make([]string, len(*f))
	for i, r := range *f {
		parts[i] = fmt.Sprintf("%d:%s=%d", r.file, r.Pages, r.Angle)
	}
	return strings.Join(parts, " ")
}

func (f *rotateFlags) Set(v string) error {
	file, rest, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("want FILE:PAGES=ANGLE, got %q", v)
	}
	i := strings.LastIndex(rest, "=")
	if i < 0 {
		return fmt.Errorf("want FILE:PAGES=ANGLE, got %q", v)
	}
	n, err := strconv.Atoi(file)
	if err != nil {
		return fmt.Errorf("invalid file number %q", file)
	}
	angle, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return fmt.Errorf("invalid angle %q", rest[i+1:])
	}
	*f = append(*f, fileRule{file: n, rotateRule: rotateRule{Pages: rest[:i], Angle: angle}})
	return nil
}
