package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/InflationLens/internal/domain/annotator"
	"github.com/GriffinCanCode/InflationLens/internal/domain/dating"
	"github.com/GriffinCanCode/InflationLens/internal/domain/document"
	"github.com/GriffinCanCode/InflationLens/internal/domain/inflation"
	"github.com/GriffinCanCode/InflationLens/internal/shared/digest"
)

const stdinArg = "-"

type annotateOptions struct {
	year     int
	swap     bool
	sanitize bool
	maxNodes int
	out      string
	dir      string
	pattern  string
	jobs     int
	watch    bool
}

// annotated is the outcome for one input.
type annotated struct {
	Input  string
	HTML   string
	Year   dating.Result
	Result annotator.Result
}

func newAnnotateCmd(a *app) *cobra.Command {
	var opts annotateOptions
	cmd := &cobra.Command{
		Use:   "annotate [file|url|-]...",
		Short: "Annotate prices in HTML files, URLs or stdin",
		Long: `Annotate rewrites every price in the given documents into a marker
carrying the original and the inflation-adjusted amount.

With one input the result goes to stdout, or to --out. With several inputs
or --dir, --out names a directory and each result keeps its relative path.

Examples:
  lens annotate page.html
  curl -s https://example.com | lens annotate --year 1999 -
  lens annotate --dir archive --glob '**/*.htm*' --out annotated
  lens annotate --dir archive --out annotated --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnnotate(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.year, "year", "y", 0, "Read prices as of this year instead of detecting it")
	f.BoolVar(&opts.swap, "swap", false, "Show adjusted prices as the visible text")
	f.BoolVar(&opts.sanitize, "sanitize", false, "Strip scripts and event handlers before annotating")
	f.IntVar(&opts.maxNodes, "max-nodes", annotator.DefaultMaxNodes, "Maximum text nodes visited per document")
	f.StringVarP(&opts.out, "out", "o", "", "Output file, or directory for several inputs")
	f.StringVar(&opts.dir, "dir", "", "Annotate every matching file under this directory")
	f.StringVar(&opts.pattern, "glob", "**/*.{html,htm}", "Pattern for --dir, relative to the directory")
	f.IntVarP(&opts.jobs, "jobs", "j", runtime.NumCPU(), "Documents annotated in parallel")
	f.BoolVarP(&opts.watch, "watch", "w", false, "Re-annotate files when they change")
	return cmd
}

func (a *app) runAnnotate(cmd *cobra.Command, args []string, opts annotateOptions) error {
	ctx := cmd.Context()
	if opts.dir == "" && len(args) == 0 {
		args = []string{stdinArg}
	}
	if opts.watch && (opts.out == "" || slices.Contains(args, stdinArg)) {
		return errors.New("--watch requires file inputs and --out")
	}
	if opts.watch && opts.dir != "" && within(opts.out, opts.dir) {
		return errors.New("--out must be outside --dir when watching")
	}
	if !doublestar.ValidatePattern(opts.pattern) {
		return fmt.Errorf("invalid --glob pattern %q", opts.pattern)
	}

	calc, err := a.calculator(ctx)
	if err != nil {
		return err
	}
	if opts.year != 0 {
		if err := calc.ValidateYear(opts.year); err != nil {
			return err
		}
	}

	jobs, err := a.collect(args, opts)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no files under %s match %s", opts.dir, opts.pattern)
	}
	multi := len(jobs) > 1 || opts.dir != ""
	if multi && opts.out == "" {
		return errors.New("--out directory required for several inputs")
	}

	if opts.watch {
		a.digests = digest.NewTracker()
	}
	if err := a.annotateAll(ctx, calc, jobs, opts, cmd.OutOrStdout(), cmd.InOrStdin(), cmd.ErrOrStderr(), multi); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}

	byPath := make(map[string]job, len(jobs))
	var paths []string
	for _, j := range jobs {
		byPath[j.input] = j
		paths = append(paths, j.input)
	}
	if opts.dir != "" {
		paths = []string{opts.dir}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "watching %d path(s), press Ctrl-C to stop\n", len(paths))

	return watchFiles(ctx, paths, a.logger.Named("watch"), func(path string) {
		j, ok := byPath[path]
		if !ok {
			j, ok = a.dirJob(path, opts)
			if !ok {
				return
			}
		}
		if err := a.annotateAll(ctx, calc, []job{j}, opts, cmd.OutOrStdout(), cmd.InOrStdin(), cmd.ErrOrStderr(), multi); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
		}
	})
}

// job pairs an input with its output location. rel is the output path
// relative to --out when several inputs are written.
type job struct {
	input string
	rel   string
}

func (a *app) collect(args []string, opts annotateOptions) ([]job, error) {
	var jobs []job
	for _, arg := range args {
		jobs = append(jobs, job{input: arg, rel: outputName(arg)})
	}
	if opts.dir == "" {
		return jobs, nil
	}

	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, opts.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			a.logger.Debug("Skipping unreadable path", zap.String("path", p), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		j, ok := a.dirJob(p, opts)
		if !ok {
			return nil
		}
		mu.Lock()
		jobs = append(jobs, j)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", opts.dir, err)
	}
	slices.SortFunc(jobs[len(args):], func(x, y job) int { return strings.Compare(x.rel, y.rel) })
	return jobs, nil
}

// dirJob matches a path found under --dir against --glob.
func (a *app) dirJob(p string, opts annotateOptions) (job, bool) {
	if opts.dir == "" {
		return job{}, false
	}
	rel, err := filepath.Rel(opts.dir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return job{}, false
	}
	if ok, _ := doublestar.Match(opts.pattern, filepath.ToSlash(rel)); !ok {
		return job{}, false
	}
	return job{input: p, rel: rel}, true
}

func (a *app) annotateAll(ctx context.Context, calc *inflation.Calculator, jobs []job, opts annotateOptions, stdout io.Writer, stdin io.Reader, stderr io.Writer, multi bool) error {
	g, ctx := errgroup.WithContext(ctx)
	if opts.jobs > 0 {
		g.SetLimit(opts.jobs)
	}

	detector := dating.NewDetector(dating.Options{Now: a.now, Logger: a.logger.Named("dating")})

	var mu sync.Mutex
	for _, j := range jobs {
		g.Go(func() error {
			raw, contentType, sourceURL, err := a.read(ctx, j.input, stdin)
			if err != nil {
				return err
			}
			if a.digests != nil && !a.digests.Changed(j.input, raw) {
				a.logger.Debug("Skipping unchanged input", zap.String("input", j.input))
				return nil
			}
			res, err := annotateDocument(calc, detector, raw, contentType, sourceURL, opts, a.logger)
			if err != nil {
				return fmt.Errorf("%s: %w", j.input, err)
			}
			res.Input = j.input

			if err := writeResult(res.HTML, j, opts.out, multi, stdout); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(stderr, "%s: %d price(s) as of %d (%s)\n",
				displayName(j.input), res.Result.Count, res.Year.Year, res.Year.Source)
			if res.Result.Truncated {
				fmt.Fprintf(stderr, "%s: stopped after %d text nodes\n", displayName(j.input), opts.maxNodes)
			}
			return nil
		})
	}
	return g.Wait()
}

// read loads one input. URLs are fetched; "-" reads stdin.
func (a *app) read(ctx context.Context, input string, stdin io.Reader) (raw []byte, contentType, sourceURL string, err error) {
	switch {
	case input == stdinArg:
		raw, err = io.ReadAll(io.LimitReader(stdin, document.MaxSize+1))
		if err != nil {
			return nil, "", "", fmt.Errorf("read stdin: %w", err)
		}
		return raw, "", "", nil
	case isURL(input):
		raw, contentType, err = a.client().Get(ctx, input)
		if err != nil {
			return nil, "", "", err
		}
		return raw, contentType, input, nil
	default:
		raw, err = os.ReadFile(input)
		if err != nil {
			return nil, "", "", err
		}
		// Archive layouts such as 2010/05/12/story.html date the page.
		return raw, "", filepath.ToSlash(input), nil
	}
}

// annotateDocument runs one full pass over a document. An explicit year
// wins; otherwise the year is detected the same way pages are.
func annotateDocument(calc *inflation.Calculator, detector *dating.Detector, raw []byte, contentType, sourceURL string, opts annotateOptions, logger *zap.Logger) (annotated, error) {
	if opts.sanitize {
		raw = []byte(document.NewSanitizer().Sanitize(string(raw)))
	}
	doc, err := document.Parse(raw, contentType)
	if err != nil {
		return annotated{}, err
	}

	var year dating.Result
	if opts.year != 0 {
		year = dating.Result{Year: opts.year, Source: dating.SourceOverride}
	} else {
		year = detector.Detect(doc, sourceURL)
	}

	a := annotator.New(calc, annotator.Options{MaxNodes: opts.maxNodes, Logger: logger.Named("annotator")})
	res := a.Annotate(document.Body(doc), year.Year, annotator.ModeFor(opts.swap))

	out, err := document.Render(doc)
	if err != nil {
		return annotated{}, err
	}
	return annotated{HTML: out, Year: year, Result: res}, nil
}

func writeResult(html string, j job, out string, multi bool, stdout io.Writer) error {
	if !multi {
		if out == "" {
			_, err := io.WriteString(stdout, html)
			return err
		}
		return writeFile(out, html)
	}
	return writeFile(filepath.Join(out, j.rel), html)
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func outputName(input string) string {
	switch {
	case input == stdinArg:
		return "stdin.html"
	case isURL(input):
		name := strings.Trim(strings.SplitN(strings.SplitN(input, "://", 2)[1], "?", 2)[0], "/")
		name = strings.NewReplacer("/", "_", ":", "_").Replace(name)
		if ext := filepath.Ext(name); ext != ".html" && ext != ".htm" {
			name += ".html"
		}
		return name
	default:
		return filepath.Base(input)
	}
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func displayName(input string) string {
	if input == stdinArg {
		return "stdin"
	}
	return input
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
