package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/wudi/pdfkit/ir/semantic"
	"seehuhn.de/go/geom/rect"

	"github.com/wudi/pdfcompose/placement"
)

type testPage struct {
	w, h   int
	rotate int
	// font, if set, is the base font of a /F7 font resource used to show
	// a line of text.
	font string
}

// samplePDF builds a document with one page per entry. Every page draws a
// single line so that its content can be recognized after copying.
func samplePDF(pages ...testPage) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, 0, 2+3*len(pages))

	offsets = append(offsets, buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+3*i)
	}
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(buf, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), len(pages))

	for i, p := range pages {
		num := 3 + 3*i
		res := ""
		content := fmt.Sprintf("0 0 m %d %d l S", p.w, p.h)
		if p.font != "" {
			res = fmt.Sprintf(" /Resources << /Font << /F7 %d 0 R >> >>", num+2)
			content += " BT /F7 12 Tf 10 10 Td (x) Tj ET"
		}
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(buf, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Rotate %d%s /Contents %d 0 R >>\nendobj\n",
			num, p.w, p.h, p.rotate, res, num+1)
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(buf, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", num+1, len(content), content)
		base := p.font
		if base == "" {
			base = "Helvetica"
		}
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(buf, "%d 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /%s >>\nendobj\n", num+2, base)
	}

	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefOff)
	return buf.Bytes()
}

func writeSample(t *testing.T, name string, pages ...testPage) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, samplePDF(pages...), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func openSample(t *testing.T, k *Kit, pages ...testPage) Document {
	t.Helper()
	doc, err := k.Open(context.Background(), writeSample(t, "in.pdf", pages...))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { doc.Close() })
	return doc
}

func TestKitOpen(t *testing.T) {
	k := NewKit()
	doc := openSample(t, k, testPage{612, 792, 0, ""}, testPage{300, 600, 90, ""})

	if n := doc.PageCount(); n != 2 {
		t.Fatalf("page count = %d, want 2", n)
	}
	want := []PageInfo{
		{Width: 612, Height: 792, Box: rect.Rect{URx: 612, URy: 792}},
		{Width: 300, Height: 600, Rotation: 90, Box: rect.Rect{URx: 300, URy: 600}},
	}
	for i, w := range want {
		got, err := doc.Page(i)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if d := cmp.Diff(w, got); d != "" {
			t.Errorf("page %d (-want +got):\n%s", i, d)
		}
	}
	if _, err := doc.Page(2); !errors.Is(err, ErrPageRange) {
		t.Fatalf("page 2 error = %v, want ErrPageRange", err)
	}
}

func TestKitOpenMissingFile(t *testing.T) {
	_, err := NewKit().Open(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want os.ErrNotExist", err)
	}
}

func TestKitOpenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewKit().Open(ctx, "unused.pdf"); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestKitInsertPagesCopies(t *testing.T) {
	k := NewKit()
	src := openSample(t, k, testPage{612, 792, 0, ""}, testPage{595, 842, 0, ""})

	out := k.New()
	defer out.Close()
	if err := out.InsertPages(src); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := out.InsertPages(src); err != nil {
		t.Fatalf("insert again: %v", err)
	}
	if n := out.PageCount(); n != 4 {
		t.Fatalf("page count = %d, want 4", n)
	}

	if err := out.SetPageRotation(1, 450); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := out.SetPageRotation(2, -90); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	for i, want := range []int{0, 90, 270, 0} {
		info, _ := out.Page(i)
		if info.Rotation != want {
			t.Errorf("output page %d rotation = %d, want %d", i, info.Rotation, want)
		}
	}
	if info, _ := src.Page(1); info.Rotation != 0 {
		t.Fatalf("source page was modified: rotation %d", info.Rotation)
	}
}

func TestKitDrawPageInto(t *testing.T) {
	k := NewKit()
	src := openSample(t, k, testPage{300, 600, 0, ""})

	out := k.New()
	defer out.Close()
	h, err := out.NewPage(612, 792)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	dest := rect.Rect{LLx: 0, LLy: 243, URx: 612, URy: 549}
	if err := out.DrawPageInto(h, dest, src, 0, -90); err != nil {
		t.Fatalf("draw: %v", err)
	}

	page := out.(*kitDoc).pages[h]
	if page.MediaBox != (semantic.Rectangle{URX: 612, URY: 792}) {
		t.Fatalf("media box = %+v", page.MediaBox)
	}
	form, ok := page.Resources.XObjects["Pg1"]
	if !ok {
		t.Fatalf("form XObject not registered: %v", page.Resources.XObjects)
	}
	if form.Subtype != "Form" {
		t.Errorf("subtype = %q, want Form", form.Subtype)
	}
	if form.BBox != (semantic.Rectangle{URX: 300, URY: 600}) {
		t.Errorf("bbox = %+v", form.BBox)
	}
	if !bytes.Contains(form.Data, []byte("300 600 l")) {
		t.Errorf("form data does not carry the page content: %q", form.Data)
	}

	ops := page.Contents[0].Operations
	var operators []string
	for _, op := range ops {
		operators = append(operators, op.Operator)
	}
	if d := cmp.Diff([]string{"q", "cm", "Do", "Q"}, operators); d != "" {
		t.Fatalf("operators (-want +got):\n%s", d)
	}

	m := placement.Transform(rect.Rect{URx: 300, URy: 600}, -90, dest)
	var got []float64
	for _, o := range ops[1].Operands {
		got = append(got, o.(semantic.NumberOperand).Value)
	}
	if d := cmp.Diff(m[:], got, cmpopts.EquateApprox(0, 1e-9)); d != "" {
		t.Fatalf("cm operands (-want +got):\n%s", d)
	}
	if name := ops[2].Operands[0].(semantic.NameOperand).Value; name != "Pg1" {
		t.Fatalf("Do operand = %q, want Pg1", name)
	}
}

func TestKitDrawTwiceUsesDistinctNames(t *testing.T) {
	k := NewKit()
	src := openSample(t, k, testPage{612, 792, 0, ""}, testPage{612, 792, 0, ""})

	out := k.New()
	defer out.Close()
	for i := 0; i < 2; i++ {
		h, err := out.NewPage(595, 842)
		if err != nil {
			t.Fatalf("new page: %v", err)
		}
		if err := out.DrawPageInto(h, rect.Rect{URx: 595, URy: 770}, src, i, 0); err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
	}
	pages := out.(*kitDoc).pages
	if _, ok := pages[0].Resources.XObjects["Pg1"]; !ok {
		t.Errorf("first page lacks Pg1")
	}
	if _, ok := pages[1].Resources.XObjects["Pg2"]; !ok {
		t.Errorf("second page lacks Pg2")
	}
}

type otherDoc struct{ Document }

func TestKitRejectsForeignDocuments(t *testing.T) {
	out := NewKit().New()
	if err := out.InsertPages(otherDoc{}); !errors.Is(err, ErrForeignDocument) {
		t.Fatalf("insert error = %v, want ErrForeignDocument", err)
	}

	src := NewKit().New()
	if err := out.InsertPages(src); !errors.Is(err, ErrForeignDocument) {
		t.Fatalf("insert from other kit = %v, want ErrForeignDocument", err)
	}
}

func TestKitClosed(t *testing.T) {
	k := NewKit()
	doc := k.New()
	if _, err := doc.NewPage(100, 100); err != nil {
		t.Fatalf("new page: %v", err)
	}
	doc.Close()
	if _, err := doc.Page(0); !errors.Is(err, ErrClosed) {
		t.Fatalf("page error = %v, want ErrClosed", err)
	}
	if err := doc.Save(context.Background(), io.Discard, SaveOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("save error = %v, want ErrClosed", err)
	}
}

func TestKitNewPageInvalidSize(t *testing.T) {
	if _, err := NewKit().New().NewPage(0, 792); err == nil {
		t.Fatalf("expected error for zero width")
	}
}

func TestKitSaveRoundTrip(t *testing.T) {
	for _, optimize := range []bool{false, true} {
		t.Run(fmt.Sprintf("optimize=%v", optimize), func(t *testing.T) {
			k := NewKit()
			src := openSample(t, k, testPage{612, 792, 0, ""}, testPage{300, 600, 0, "Courier"})

			out := k.New()
			defer out.Close()
			if err := out.InsertPages(src); err != nil {
				t.Fatalf("insert: %v", err)
			}
			h, _ := out.NewPage(595, 842)
			if err := out.DrawPageInto(h, rect.Rect{LLx: 0, LLy: 121, URx: 595, URy: 721}, src, 1, 0); err != nil {
				t.Fatalf("draw: %v", err)
			}

			var buf bytes.Buffer
			if err := out.Save(context.Background(), &buf, SaveOptions{Optimize: optimize}); err != nil {
				t.Fatalf("save: %v", err)
			}
			if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
				t.Fatalf("output lacks PDF header: %q", buf.Bytes()[:min(16, buf.Len())])
			}

			path := filepath.Join(t.TempDir(), "out.pdf")
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				t.Fatal(err)
			}
			back, err := k.Open(context.Background(), path)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer back.Close()
			if n := back.PageCount(); n != 3 {
				t.Fatalf("reopened page count = %d, want 3", n)
			}
			info, err := back.Page(2)
			if err != nil {
				t.Fatal(err)
			}
			if info.Width != 595 || info.Height != 842 {
				t.Fatalf("drawn page size = %gx%g, want 595x842", info.Width, info.Height)
			}

			for _, i := range []int{1, 2} {
				res := back.(*kitDoc).pages[i].Resources
				if res == nil || res.Fonts["F7"] == nil {
					t.Fatalf("page %d lost font F7", i)
				}
				if base := res.Fonts["F7"].BaseFont; base != "Courier" {
					t.Errorf("page %d F7 base font = %q, want Courier", i, base)
				}
			}
			var drawn bool
			for _, xo := range back.(*kitDoc).pages[2].Resources.XObjects {
				if xo.Subtype == "Form" && bytes.Contains(xo.Data, []byte("/F7 12 Tf")) {
					drawn = true
				}
			}
			if !drawn {
				t.Fatalf("drawn page lacks the form showing text in F7")
			}
		})
	}
}

func TestKitOpenRecoversResources(t *testing.T) {
	k := NewKit()
	doc := openSample(t, k, testPage{612, 792, 0, "Courier"}, testPage{612, 792, 0, ""})

	pages := doc.(*kitDoc).pages
	if pages[0].Resources == nil || pages[0].Resources.Fonts["F7"] == nil {
		t.Fatalf("font F7 not recovered: %+v", pages[0].Resources)
	}
	want := &semantic.Font{Subtype: "Type1", BaseFont: "Courier"}
	if d := cmp.Diff(want, pages[0].Resources.Fonts["F7"], cmpopts.IgnoreUnexported(semantic.Font{})); d != "" {
		t.Fatalf("font (-want +got):\n%s", d)
	}
	if res := pages[1].Resources; res != nil && len(res.Fonts) != 0 {
		t.Fatalf("page without resources has fonts: %v", res.Fonts)
	}
}

func TestKitDrawPageIntoCarriesResources(t *testing.T) {
	k := NewKit()
	src := openSample(t, k, testPage{300, 600, 0, "Courier"}, testPage{300, 600, 0, "Times-Roman"})

	out := k.New()
	defer out.Close()
	h, _ := out.NewPage(612, 792)
	for i := 0; i < 2; i++ {
		if err := out.DrawPageInto(h, rect.Rect{URx: 306, URy: 612}, src, i, 0); err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
	}

	res := out.(*kitDoc).pages[h].Resources
	bases := map[string]string{}
	for name, f := range res.Fonts {
		bases[name] = f.BaseFont
	}
	if d := cmp.Diff(map[string]string{"F7": "Courier", "F7_1": "Times-Roman"}, bases); d != "" {
		t.Fatalf("fonts (-want +got):\n%s", d)
	}

	first, second := res.XObjects["Pg1"], res.XObjects["Pg2"]
	if !bytes.Contains(first.Data, []byte("/F7 12 Tf")) {
		t.Errorf("first form data = %q", first.Data)
	}
	if !bytes.Contains(second.Data, []byte("/F7_1 12 Tf")) {
		t.Errorf("second form data was not renamed: %q", second.Data)
	}
	if second.Resources == nil || second.Resources.Fonts["F7_1"] == nil {
		t.Errorf("second form resources were not renamed: %+v", second.Resources)
	}
	if src.(*kitDoc).pages[1].Resources.Fonts["F7"] == nil {
		t.Errorf("renaming modified the source page")
	}
}

func TestKitFormNameAvoidsSourceNames(t *testing.T) {
	k := NewKit()
	src := &kitDoc{kit: k, pages: []*semantic.Page{{
		MediaBox: semantic.Rectangle{URX: 100, URY: 100},
		Resources: &semantic.Resources{XObjects: map[string]semantic.XObject{
			"Pg1": {Subtype: "Form", BBox: semantic.Rectangle{URX: 10, URY: 10}, Data: []byte("0 0 m 10 10 l S")},
		}},
		Contents: []semantic.ContentStream{{RawBytes: []byte("/Pg1 Do")}},
	}}}

	out := k.New()
	defer out.Close()
	h, _ := out.NewPage(100, 100)
	if err := out.DrawPageInto(h, rect.Rect{URx: 100, URy: 100}, src, 0, 0); err != nil {
		t.Fatalf("draw: %v", err)
	}
	page := out.(*kitDoc).pages[h]
	if page.Resources.XObjects["Pg1"].Subtype != "Form" || !bytes.Equal(page.Resources.XObjects["Pg1"].Data, []byte("0 0 m 10 10 l S")) {
		t.Fatalf("source XObject Pg1 was replaced")
	}
	do := page.Contents[0].Operations[2]
	if name := do.Operands[0].(semantic.NameOperand).Value; name != "Pg2" {
		t.Fatalf("Do operand = %q, want Pg2", name)
	}
	if !bytes.Equal(page.Resources.XObjects["Pg2"].Data, []byte("/Pg1 Do")) {
		t.Fatalf("wrapping form data = %q", page.Resources.XObjects["Pg2"].Data)
	}
}

func TestRenameResources(t *testing.T) {
	in := "q /GS0 gs BT /F7 12 Tf (a /F7 \\) b) Tj ET % /F7 comment\n/F7x 1 Tf /Im0 Do BI /W 1 ID \x00/F7 EI Q"
	want := "q /GS0_1 gs BT /F7_1 12 Tf (a /F7 \\) b) Tj ET % /F7 comment\n/F7x 1 Tf /Im0 Do BI /W 1 ID \x00/F7 EI Q"
	got := renameResources([]byte(in), map[string]string{"F7": "F7_1", "GS0": "GS0_1"})
	if string(got) != want {
		t.Fatalf("renamed content:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestMergeResources(t *testing.T) {
	dst := &semantic.Resources{
		Fonts:    map[string]*semantic.Font{"F1": {BaseFont: "Helvetica"}},
		XObjects: map[string]semantic.XObject{"Pg1": {Subtype: "Form"}},
	}
	src := &semantic.Resources{
		Fonts:      map[string]*semantic.Font{"F1": {BaseFont: "Courier"}, "F2": {BaseFont: "Symbol"}},
		ExtGStates: map[string]semantic.ExtGState{"Pg1": {}},
	}
	renames := mergeResources(dst, src)
	if d := cmp.Diff(map[string]string{"F1": "F1_1", "Pg1": "Pg1_1"}, renames); d != "" {
		t.Fatalf("renames (-want +got):\n%s", d)
	}
	bases := map[string]string{}
	for name, f := range dst.Fonts {
		bases[name] = f.BaseFont
	}
	if d := cmp.Diff(map[string]string{"F1": "Helvetica", "F1_1": "Courier", "F2": "Symbol"}, bases); d != "" {
		t.Fatalf("fonts (-want +got):\n%s", d)
	}
	if _, ok := dst.ExtGStates["Pg1_1"]; !ok {
		t.Fatalf("graphics state not merged under its new name: %v", dst.ExtGStates)
	}
	if renamed := renamedResources(src, renames); renamed.Fonts["F1_1"].BaseFont != "Courier" || renamed.Fonts["F2"] == nil {
		t.Fatalf("renamed resources = %+v", renamed.Fonts)
	}
	if mergeResources(dst, nil) != nil {
		t.Fatalf("merging nil resources renamed something")
	}
}

func TestPageContent(t *testing.T) {
	p := &semantic.Page{Contents: []semantic.ContentStream{
		{RawBytes: []byte("1 0 0 RG")},
		{Operations: []semantic.Operation{
			{Operator: "q"},
			{Operator: "cm", Operands: []semantic.Operand{
				semantic.NumberOperand{Value: 1},
				semantic.NumberOperand{Value: 0},
				semantic.NumberOperand{Value: 0},
				semantic.NumberOperand{Value: -0.5},
				semantic.NumberOperand{Value: 0.0000001},
				semantic.NumberOperand{Value: 12.25},
			}},
			{Operator: "Tj", Operands: []semantic.Operand{semantic.StringOperand{Value: []byte("a(b)\\\n\x01")}}},
			{Operator: "TJ", Operands: []semantic.Operand{semantic.ArrayOperand{Values: []semantic.Operand{
				semantic.StringOperand{Value: []byte("x")},
				semantic.NumberOperand{Value: -120},
			}}}},
			{Operator: "BDC", Operands: []semantic.Operand{
				semantic.NameOperand{Value: "Span"},
				semantic.DictOperand{Values: map[string]semantic.Operand{
					"MCID":       semantic.NumberOperand{Value: 3},
					"ActualText": semantic.StringOperand{Value: []byte("t")},
				}},
			}},
			{Operator: "Q"},
		}},
	}}

	want := "1 0 0 RG\n" +
		"q\n" +
		"1 0 0 -0.5 0.0000001 12.25 cm\n" +
		"(a\\(b\\)\\\\\\n\\001) Tj\n" +
		"[(x) -120] TJ\n" +
		"/Span <</ActualText (t) /MCID 3>> BDC\n" +
		"Q\n"
	if got := string(pageContent(p)); got != want {
		t.Fatalf("content mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}
