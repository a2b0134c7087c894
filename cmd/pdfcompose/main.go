package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/wudi/pdfcompose/compose"
	"github.com/wudi/pdfcompose/engine"
	"github.com/wudi/pdfcompose/geometry"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/rotation"
)

type options struct {
	job        job
	force      bool
	verbose    bool
	noOptimize bool
	listSizes  bool
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfcompose: %v\n", err)
		os.Exit(2)
	}
	if opts.listSizes {
		listSizes(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfcompose: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	var rotations rotateFlags
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pdfcompose [flags] -o <output.pdf> <input.pdf>...\n")
		fs.PrintDefaults()
	}
	output := fs.String("o", "", "Output PDF path")
	size := fs.String("size", "", "Target page size (see -sizes); default keeps every page at its own size")
	orientation := fs.String("orientation", "", "Orientation of the target size: portrait or landscape")
	jobPath := fs.String("job", "", "JSON job file describing sources, rotations and page size")
	fs.Var(&rotations, "rotate", "Rotate pages clockwise, as FILE:PAGES=ANGLE (e.g. 1:2-4=90, 2:all=-90); repeatable")
	fs.BoolVar(&opts.force, "f", false, "Overwrite an existing output file")
	fs.BoolVar(&opts.verbose, "v", false, "Log debug messages")
	fs.BoolVar(&opts.noOptimize, "no-optimize", false, "Write without stream compression and cleanup")
	fs.BoolVar(&opts.listSizes, "sizes", false, "List the available page sizes and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.listSizes {
		return opts, nil
	}

	if *jobPath != "" {
		j, err := loadJob(*jobPath)
		if err != nil {
			return options{}, err
		}
		opts.job = j
	}
	for _, path := range fs.Args() {
		opts.job.Sources = append(opts.job.Sources, jobSource{Path: path})
	}
	for _, r := range rotations {
		if r.file < 1 || r.file > len(opts.job.Sources) {
			return options{}, fmt.Errorf("-rotate %d:%s=%d: there are %d input files", r.file, r.Pages, r.Angle, len(opts.job.Sources))
		}
		src := &opts.job.Sources[r.file-1]
		src.Rotate = append(src.Rotate, r.rotateRule)
	}
	if *output != "" {
		opts.job.Output = *output
	}
	if *size != "" {
		opts.job.Size = *size
	}
	if *orientation != "" {
		opts.job.Orientation = *orientation
	}

	if len(opts.job.Sources) == 0 {
		fs.Usage()
		return options{}, errors.New("no input files")
	}
	if opts.job.Output == "" {
		return options{}, errors.New("missing output path (-o)")
	}
	if _, err := opts.job.target(); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run(ctx context.Context, opts options) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	out := opts.job.Output
	if !opts.force {
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("%s already exists (use -f to overwrite)", out)
		}
	}

	kit := engine.NewKit()
	c := compose.New(kit, compose.Config{Logger: logger, KeepUnoptimized: opts.noOptimize})
	sources, err := resolveSources(ctx, kit, opts.job.Sources)
	if err != nil {
		return err
	}
	target, _ := opts.job.target()

	doc, err := c.Recompose(ctx, sources, target)
	if err != nil {
		return err
	}
	defer doc.Close()
	if err := doc.Save(ctx, out); err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		printSummary(os.Stdout, out, doc)
	}
	return nil
}

// resolveSources turns the rotation rules of every source into a rotation
// map. Sources with rules are opened once to learn their page count.
func resolveSources(ctx context.Context, e engine.Engine, in []jobSource) ([]compose.Source, error) {
	sources := make([]compose.Source, 0, len(in))
	for _, js := range in {
		src := compose.Source{Path: js.Path}
		if len(js.Rotate) > 0 {
			doc, err := e.Open(ctx, js.Path)
			if err != nil {
				return nil, &compose.OpenError{Path: js.Path, Err: err}
			}
			n := doc.PageCount()
			doc.Close()

			d := rotation.NewDraft(rotation.Map{}, n)
			for _, r := range js.Rotate {
				if err := r.apply(d); err != nil {
					return nil, fmt.Errorf("%s: %w", js.Path, err)
				}
			}
			src.Rotations = d.Commit()
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func listSizes(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE (PT)\tDESCRIPTION")
	for _, e := range geometry.Catalog() {
		dims := "-"
		if s, ok := e.Size(); ok {
			dims = s.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, dims, e.Label)
	}
	tw.Flush()
}

func printSummary(w io.Writer, path string, doc *compose.Output) {
	fmt.Fprintf(w, "wrote %s (%d pages)\n", path, doc.PageCount())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tSOURCE\tSIZE\tROTATE")
	for i, p := range doc.Pages() {
		fmt.Fprintf(tw, "%d\t%s:%d\t%v\t%d\n", i+1, filepath.Base(p.Source), p.SourcePage+1, p.Size, p.Rotation)
	}
	tw.Flush()
}
