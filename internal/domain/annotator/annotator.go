package annotator

import (
	"math"
	"strings"

	"github.com/GriffinCanCode/InflationLens/internal/domain/scanner"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultMaxNodes caps the text nodes collected in one pass.
const DefaultMaxNodes = 250000

// Calculator is what the annotator needs from the inflation math.
type Calculator interface {
	ParseAmount(token string) float64
	Adjust(amount float64, from int) (value float64, year int, ok bool)
	FormatAmount(amount float64) string
}

// Options configures an Annotator.
type Options struct {
	MaxNodes int
	Scanner  *scanner.Scanner
	Logger   *zap.Logger
}

// Result summarizes one annotation pass.
type Result struct {
	Count     int  // markers inserted
	Visited   int  // text nodes considered
	Truncated bool // MaxNodes was reached
}

// Annotator rewrites price text under a node into markers.
type Annotator struct {
	calc      Calculator
	scanner   *scanner.Scanner
	processed *ProcessedSet
	maxNodes  int
	logger    *zap.Logger
}

// New creates an annotator owning a fresh ProcessedSet.
func New(calc Calculator, opts Options) *Annotator {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	if opts.Scanner == nil {
		opts.Scanner = scanner.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Annotator{
		calc:      calc,
		scanner:   opts.Scanner,
		processed: NewProcessedSet(),
		maxNodes:  opts.MaxNodes,
		logger:    opts.Logger,
	}
}

// Processed exposes the annotator's processed set.
func (a *Annotator) Processed() *ProcessedSet {
	return a.processed
}

// Annotate rewrites every eligible price under root and returns how many
// markers were inserted. Already processed text is skipped, so a second
// pass over an unchanged tree inserts nothing.
func (a *Annotator) Annotate(root *html.Node, year int, mode DisplayMode) Result {
	var res Result
	if root == nil || ShouldSkip(root) {
		return res
	}

	nodes, truncated := a.collect(root)
	res.Visited = len(nodes)
	res.Truncated = truncated
	if truncated {
		a.logger.Warn("Node limit reached, page partially processed",
			zap.Int("max_nodes", a.maxNodes))
	}

	for _, n := range nodes {
		res.Count += a.AnnotateNode(n, year, mode)
	}
	return res
}

// collect gathers eligible text nodes depth-first, pruning excluded
// subtrees.
func (a *Annotator) collect(root *html.Node) ([]*html.Node, bool) {
	var nodes []*html.Node
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch n.Type {
		case html.TextNode:
			if n.Parent == nil || a.processed.Has(n) {
				continue
			}
			if len(nodes) >= a.maxNodes {
				return nodes, true
			}
			nodes = append(nodes, n)
			continue
		case html.ElementNode:
			if excluded(n) {
				continue
			}
		}

		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return nodes, false
}

// AnnotateNode rewrites the prices in a single text node.
func (a *Annotator) AnnotateNode(n *html.Node, year int, mode DisplayMode) int {
	if n == nil || n.Type != html.TextNode || a.processed.Has(n) || ShouldSkip(n) {
		return 0
	}

	text := n.Data
	var (
		parts []*html.Node
		count int
		last  int
	)
	for m := range a.scanner.Scan(text) {
		ann, ok := a.annotation(m, year)
		if !ok {
			continue
		}
		if m.Start > last {
			parts = append(parts, &html.Node{Type: html.TextNode, Data: text[last:m.Start]})
		}
		parts = append(parts, NewMarker(ann, mode))
		last = m.End
		count++
	}
	if count == 0 {
		return 0
	}
	if last < len(text) {
		parts = append(parts, &html.Node{Type: html.TextNode, Data: text[last:]})
	}

	parent := n.Parent
	for _, p := range parts {
		parent.InsertBefore(p, n)
		if p.Type == html.TextNode {
			a.processed.Add(p)
		}
	}
	parent.RemoveChild(n)
	a.processed.Add(n)
	return count
}

func (a *Annotator) annotation(m scanner.Match, year int) (Annotation, bool) {
	amount := a.calc.ParseAmount(m.Token)
	if math.IsNaN(amount) {
		return Annotation{}, false
	}
	adjusted, effective, ok := a.calc.Adjust(amount, year)
	if !ok || adjusted == amount {
		return Annotation{}, false
	}
	return Annotation{
		OriginalText: strings.TrimSpace(m.Raw),
		OriginalYear: year,
		AdjustedText: a.calc.FormatAmount(adjusted),
		AdjustedYear: effective,
	}, true
}

// SetDisplayMode switches every marker under root in place from its stored
// attributes. The scanner is not consulted.
func (a *Annotator) SetDisplayMode(root *html.Node, mode DisplayMode) int {
	markers := markersUnder(root)
	markers.Each(func(_ int, s *goquery.Selection) {
		ann, ok := ReadAnnotation(s.Get(0))
		if !ok {
			return
		}
		s.SetText(ann.VisibleText(mode))
		s.SetAttr(AttrDisplay, mode.String())
		s.SetAttr(AttrTitle, ann.Description(mode))
	})
	return markers.Length()
}

// Revert restores every marker under root to its original text, merges
// the split text back together and clears the processed set.
func (a *Annotator) Revert(root *html.Node) int {
	markers := markersUnder(root)

	parents := make(map[*html.Node]struct{})
	markers.Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		ann, _ := ReadAnnotation(n)
		if n.Parent != nil {
			parents[n.Parent] = struct{}{}
		}
		s.ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: ann.OriginalText})
	})
	for p := range parents {
		mergeText(p)
	}

	a.processed.Clear()
	return markers.Length()
}

// Markers returns the markers under root.
func Markers(root *html.Node) []*html.Node {
	return markersUnder(root).Nodes
}

func markersUnder(root *html.Node) *goquery.Selection {
	if root == nil {
		return &goquery.Selection{}
	}
	sel := goquery.NewDocumentFromNode(root).Selection
	return sel.Find(MarkerSelector).AddSelection(sel.Filter(MarkerSelector))
}

// mergeText joins adjacent text children of n.
func mergeText(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode && next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			n.RemoveChild(next)
			continue
		}
		c = next
	}
}

var skipTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Code:     true,
	atom.Pre:      true,
	atom.Noscript: true,
	atom.Textarea: true,
}

// excluded reports whether an element's subtree must never be annotated.
func excluded(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if skipTags[n.DataAtom] {
		return true
	}
	if _, ok := attr(n, OptOutAttr); ok {
		return true
	}
	if hasClass(n, MarkerClass) {
		return true
	}
	id, _ := attr(n, "id")
	return id == TooltipRootID
}

// ShouldSkip reports whether n sits in a region that must stay untouched:
// detached text, non-prose containers, opted-out elements, existing
// markers or the tooltip overlay.
func ShouldSkip(n *html.Node) bool {
	if n == nil {
		return true
	}
	if n.Type == html.TextNode && n.Parent == nil {
		return true
	}
	for p := n; p != nil; p = p.Parent {
		if excluded(p) {
			return true
		}
	}
	return false
}
