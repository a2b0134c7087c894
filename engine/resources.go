package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/wudi/pdfkit/filters"
	"github.com/wudi/pdfkit/ir/raw"
	"github.com/wudi/pdfkit/ir/semantic"
)

// maxFormDepth bounds the nesting of form XObjects searched for resources.
const maxFormDepth = 8

// resourceReader recovers the fonts and XObjects of every page from the raw
// object graph. The semantic layer only carries graphics states and colour
// spaces, which leaves page content referring to undefined names once the
// page is copied.
type resourceReader struct {
	doc     *raw.Document
	filters *filters.Pipeline
}

// fill adds the recovered resources to pages, which must be in page tree
// order. Names the semantic layer already defined are kept, and pages are
// left alone when the page tree does not match them.
func (rr *resourceReader) fill(ctx context.Context, pages []*semantic.Page) error {
	dicts := rr.pageResources()
	if len(dicts) != len(pages) {
		return nil
	}
	for i, res := range dicts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if res == nil {
			continue
		}
		p := pages[i]
		if p.Resources == nil {
			p.Resources = &semantic.Resources{}
		}
		rr.collect(ctx, res, p.Resources, 0)
	}
	return nil
}

// pageResources lists the effective resource dictionary of each page,
// following inheritance through the page tree.
func (rr *resourceReader) pageResources() []raw.Dictionary {
	root := rr.dict(rr.get(rr.doc.Trailer, "Root"))
	var out []raw.Dictionary
	var walk func(obj raw.Object, inherited raw.Dictionary, depth int)
	walk = func(obj raw.Object, inherited raw.Dictionary, depth int) {
		node := rr.dict(obj)
		if node == nil || depth > 64 {
			return
		}
		res := inherited
		if d := rr.dict(rr.get(node, "Resources")); d != nil {
			res = d
		}
		kids, ok := rr.deref(rr.get(node, "Kids")).(raw.Array)
		if !ok {
			out = append(out, res)
			return
		}
		for i := 0; i < kids.Len(); i++ {
			kid, _ := kids.Get(i)
			walk(kid, res, depth+1)
		}
	}
	walk(rr.get(root, "Pages"), nil, 0)
	return out
}

// collect copies the fonts and XObjects of res into dst. Resources of
// nested forms are hoisted into dst under names still free, since the
// writer emits form XObjects without their own resource dictionary.
func (rr *resourceReader) collect(ctx context.Context, res raw.Dictionary, dst *semantic.Resources, depth int) {
	if fonts := rr.dict(rr.get(res, "Font")); fonts != nil {
		for _, k := range fonts.Keys() {
			name := k.Value()
			if _, ok := dst.Fonts[name]; ok {
				continue
			}
			fd := rr.dict(rr.get(fonts, name))
			if fd == nil || rr.nameValue(fd, "Subtype") == "Type3" {
				continue
			}
			if dst.Fonts == nil {
				dst.Fonts = make(map[string]*semantic.Font)
			}
			dst.Fonts[name] = &semantic.Font{
				Subtype:  rr.nameValue(fd, "Subtype"),
				BaseFont: rr.nameValue(fd, "BaseFont"),
				Encoding: rr.nameValue(fd, "Encoding"),
			}
		}
	}

	xobjects := rr.dict(rr.get(res, "XObject"))
	if xobjects == nil {
		return
	}
	for _, k := range xobjects.Keys() {
		name := k.Value()
		if _, ok := dst.XObjects[name]; ok {
			continue
		}
		stream, ok := rr.deref(rr.get(xobjects, name)).(raw.Stream)
		if !ok {
			continue
		}
		sd := stream.Dictionary()
		data, err := rr.decode(ctx, stream)
		if err != nil {
			continue
		}
		var xo semantic.XObject
		switch rr.nameValue(sd, "Subtype") {
		case "Image":
			cs := rr.nameValue(sd, "ColorSpace")
			switch cs {
			case "DeviceGray", "DeviceRGB", "DeviceCMYK":
			default:
				continue
			}
			xo = semantic.XObject{
				Subtype:          "Image",
				Width:            rr.intValue(sd, "Width"),
				Height:           rr.intValue(sd, "Height"),
				ColorSpace:       semantic.DeviceColorSpace{Name: cs},
				BitsPerComponent: rr.intValue(sd, "BitsPerComponent"),
				Data:             data,
			}
		case "Form":
			if depth >= maxFormDepth {
				continue
			}
			xo = semantic.XObject{Subtype: "Form", BBox: rr.rectValue(sd, "BBox"), Data: data}
			if inner := rr.dict(rr.get(sd, "Resources")); inner != nil {
				rr.collect(ctx, inner, dst, depth+1)
			}
		default:
			continue
		}
		if dst.XObjects == nil {
			dst.XObjects = make(map[string]semantic.XObject)
		}
		dst.XObjects[name] = xo
	}
}

// decode applies the stream filters. Streams with decode parameters or
// filters the pipeline lacks are rejected.
func (rr *resourceReader) decode(ctx context.Context, s raw.Stream) ([]byte, error) {
	sd := s.Dictionary()
	if _, ok := sd.Get(raw.NameLiteral("DecodeParms")); ok {
		return nil, fmt.Errorf("decode parameters are not supported")
	}
	var names []string
	switch f := rr.deref(rr.get(sd, "Filter")).(type) {
	case nil:
	case raw.Name:
		names = append(names, f.Value())
	case raw.Array:
		for i := 0; i < f.Len(); i++ {
			v, _ := f.Get(i)
			n, ok := rr.deref(v).(raw.Name)
			if !ok {
				return nil, fmt.Errorf("invalid filter entry")
			}
			names = append(names, n.Value())
		}
	default:
		return nil, fmt.Errorf("invalid filter")
	}
	if len(names) == 0 {
		return s.RawData(), nil
	}
	return rr.filters.Decode(ctx, s.RawData(), names, nil)
}

func (rr *resourceReader) deref(obj raw.Object) raw.Object {
	if ref, ok := obj.(raw.Reference); ok {
		return rr.doc.Objects[ref.Ref()]
	}
	return obj
}

func (rr *resourceReader) get(d raw.Dictionary, key string) raw.Object {
	if d == nil {
		return nil
	}
	v, _ := d.Get(raw.NameLiteral(key))
	return v
}

func (rr *resourceReader) dict(obj raw.Object) raw.Dictionary {
	switch v := rr.deref(obj).(type) {
	case raw.Stream:
		return v.Dictionary()
	case raw.Dictionary:
		return v
	}
	return nil
}

func (rr *resourceReader) nameValue(d raw.Dictionary, key string) string {
	if n, ok := rr.deref(rr.get(d, key)).(raw.Name); ok {
		return n.Value()
	}
	return ""
}

func (rr *resourceReader) intValue(d raw.Dictionary, key string) int {
	if n, ok := rr.deref(rr.get(d, key)).(raw.Number); ok {
		return int(n.Int())
	}
	return 0
}

func (rr *resourceReader) rectValue(d raw.Dictionary, key string) semantic.Rectangle {
	a, ok := rr.deref(rr.get(d, key)).(raw.Array)
	if !ok || a.Len() != 4 {
		return semantic.Rectangle{}
	}
	var v [4]float64
	for i := range v {
		o, _ := a.Get(i)
		if n, ok := rr.deref(o).(raw.Number); ok {
			v[i] = n.Float()
		}
	}
	return semantic.Rectangle{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}
}

// mergeResources copies the resources of a drawn page into the resource
// dictionary of the page hosting it, since the writer only emits resources
// for page dictionaries. A name already taken on dst is given a fresh name;
// the returned map holds the old and new names of every renamed resource.
func mergeResources(dst, src *semantic.Resources) map[string]string {
	if src == nil {
		return nil
	}
	taken := resourceNames(dst)
	own := resourceNames(src)

	var renames map[string]string
	for _, n := range sortedNames(own) {
		if !taken[n] {
			continue
		}
		if renames == nil {
			renames = make(map[string]string)
		}
		for i := 1; ; i++ {
			alt := fmt.Sprintf("%s_%d", n, i)
			if !taken[alt] && !own[alt] {
				renames[n] = alt
				taken[alt] = true
				break
			}
		}
	}

	dst.Fonts = mergeMap(dst.Fonts, src.Fonts, renames)
	dst.ExtGStates = mergeMap(dst.ExtGStates, src.ExtGStates, renames)
	dst.ColorSpaces = mergeMap(dst.ColorSpaces, src.ColorSpaces, renames)
	dst.XObjects = mergeMap(dst.XObjects, src.XObjects, renames)
	dst.Patterns = mergeMap(dst.Patterns, src.Patterns, renames)
	dst.Shadings = mergeMap(dst.Shadings, src.Shadings, renames)
	dst.Properties = mergeMap(dst.Properties, src.Properties, renames)
	dst.Dirty = true
	return renames
}

// renamedResources returns src with the names in renames replaced.
func renamedResources(src *semantic.Resources, renames map[string]string) *semantic.Resources {
	if src == nil || len(renames) == 0 {
		return src
	}
	return &semantic.Resources{
		Fonts:       mergeMap(nil, src.Fonts, renames),
		ExtGStates:  mergeMap(nil, src.ExtGStates, renames),
		ColorSpaces: mergeMap(nil, src.ColorSpaces, renames),
		XObjects:    mergeMap(nil, src.XObjects, renames),
		Patterns:    mergeMap(nil, src.Patterns, renames),
		Shadings:    mergeMap(nil, src.Shadings, renames),
		Properties:  mergeMap(nil, src.Properties, renames),
		Dirty:       true,
	}
}

func mergeMap[V any](dst, src map[string]V, renames map[string]string) map[string]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	for k, v := range src {
		if alt, ok := renames[k]; ok {
			k = alt
		}
		dst[k] = v
	}
	return dst
}

// resourceNames collects the names of r across all categories.
func resourceNames(r *semantic.Resources) map[string]bool {
	names := make(map[string]bool)
	if r == nil {
		return names
	}
	addNames(names, r.Fonts)
	addNames(names, r.ExtGStates)
	addNames(names, r.ColorSpaces)
	addNames(names, r.XObjects)
	addNames(names, r.Patterns)
	addNames(names, r.Shadings)
	addNames(names, r.Properties)
	return names
}

func addNames[V any](names map[string]bool, m map[string]V) {
	for k := range m {
		names[k] = true
	}
}

func sortedNames(names map[string]bool) []string {
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// renameResources rewrites the name operands of a content stream according
// to renames. Strings, comments and inline image data are copied unchanged.
func renameResources(data []byte, renames map[string]string) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '(':
			j := skipString(data, i)
			buf.Write(data[i:j])
			i = j
		case c == '%':
			j := i
			for j < len(data) && data[j] != '\n' && data[j] != '\r' {
				j++
			}
			buf.Write(data[i:j])
			i = j
		case c == '/':
			j := i + 1
			for j < len(data) && !isDelimiter(data[j]) {
				j++
			}
			if alt, ok := renames[string(data[i+1:j])]; ok {
				buf.WriteByte('/')
				buf.WriteString(alt)
			} else {
				buf.Write(data[i:j])
			}
			i = j
		case isDelimiter(c):
			buf.WriteByte(c)
			i++
		default:
			j := i
			for j < len(data) && !isDelimiter(data[j]) {
				j++
			}
			if string(data[i:j]) == "ID" {
				j = skipInlineImage(data, j)
			}
			buf.Write(data[i:j])
			i = j
		}
	}
	return buf.Bytes()
}

// skipString returns the offset just past the literal string starting at i.
func skipString(data []byte, i int) int {
	depth := 0
	for j := i; j < len(data); j++ {
		switch data[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return len(data)
}

// skipInlineImage returns the offset of the EI operator ending the image data
// which starts at i.
func skipInlineImage(data []byte, i int) int {
	for j := i; j+2 <= len(data); j++ {
		if data[j] != 'E' || data[j+1] != 'I' || !isWhite(data[j-1]) {
			continue
		}
		if j+2 == len(data) || isDelimiter(data[j+2]) {
			return j
		}
	}
	return len(data)
}

func isWhite(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhite(c)
}
