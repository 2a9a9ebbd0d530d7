package annotator

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Marker attributes. They are the durable on-page record of an annotation
// and carry everything needed to switch display mode or revert.
const (
	MarkerClass       = "inflation-adjusted-price"
	MarkerSelector    = "span." + MarkerClass
	OptOutAttr        = "data-no-inflation"
	TooltipRootID     = "tooltips"
	AttrTestID        = "data-testid"
	TestIDValue       = "adjusted-price"
	AttrOriginalPrice = "data-original-price"
	AttrOriginalYear  = "data-original-year"
	AttrAdjustedPrice = "data-adjusted-price"
	AttrAdjustedYear  = "data-adjusted-year"
	AttrTooltip       = "data-tooltip"
	AttrDisplay       = "data-display"
	AttrTitle         = "title"
)

// DisplayMode selects a marker's visible text.
type DisplayMode int

const (
	// DisplayAnnotate shows the original price with the adjusted value in
	// the description.
	DisplayAnnotate DisplayMode = iota
	// DisplaySwap shows the adjusted price and keeps the original as
	// metadata.
	DisplaySwap
)

func (m DisplayMode) String() string {
	if m == DisplaySwap {
		return "swap"
	}
	return "annotate"
}

// ModeFor maps the swap toggle to a display mode.
func ModeFor(swap bool) DisplayMode {
	if swap {
		return DisplaySwap
	}
	return DisplayAnnotate
}

// ParseDisplayMode reads the value stored in data-display.
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch strings.ToLower(s) {
	case "annotate", "":
		return DisplayAnnotate, nil
	case "swap":
		return DisplaySwap, nil
	default:
		return DisplayAnnotate, fmt.Errorf("annotator: unknown display mode %q", s)
	}
}

// Annotation is the data a marker carries.
type Annotation struct {
	OriginalText string
	OriginalYear int
	AdjustedText string
	AdjustedYear int
}

// Tooltip is the comparison string shown on hover.
func (a Annotation) Tooltip() string {
	return fmt.Sprintf("%s in %d = %s (%d)", a.OriginalText, a.OriginalYear, a.AdjustedText, a.AdjustedYear)
}

// VisibleText returns the marker text for mode.
func (a Annotation) VisibleText(mode DisplayMode) string {
	if mode == DisplaySwap {
		return a.AdjustedText
	}
	return a.OriginalText
}

// Description returns the title text for mode.
func (a Annotation) Description(mode DisplayMode) string {
	if mode == DisplaySwap {
		return fmt.Sprintf("Originally %s in %d", a.OriginalText, a.OriginalYear)
	}
	return a.Tooltip()
}

// NewMarker builds the inline element for a.
func NewMarker(a Annotation, mode DisplayMode) *html.Node {
	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: MarkerClass},
			{Key: AttrTestID, Val: TestIDValue},
			{Key: AttrOriginalPrice, Val: a.OriginalText},
			{Key: AttrOriginalYear, Val: strconv.Itoa(a.OriginalYear)},
			{Key: AttrAdjustedPrice, Val: a.AdjustedText},
			{Key: AttrAdjustedYear, Val: strconv.Itoa(a.AdjustedYear)},
			{Key: AttrTooltip, Val: a.Tooltip()},
			{Key: AttrDisplay, Val: mode.String()},
			{Key: AttrTitle, Val: a.Description(mode)},
		},
	}
	span.AppendChild(&html.Node{Type: html.TextNode, Data: a.VisibleText(mode)})
	return span
}

// ReadAnnotation recovers the stored annotation from a marker element.
func ReadAnnotation(n *html.Node) (Annotation, bool) {
	if !IsMarker(n) {
		return Annotation{}, false
	}
	var a Annotation
	for _, attr := range n.Attr {
		switch attr.Key {
		case AttrOriginalPrice:
			a.OriginalText = attr.Val
		case AttrOriginalYear:
			a.OriginalYear, _ = strconv.Atoi(attr.Val)
		case AttrAdjustedPrice:
			a.AdjustedText = attr.Val
		case AttrAdjustedYear:
			a.AdjustedYear, _ = strconv.Atoi(attr.Val)
		}
	}
	return a, true
}

// IsMarker reports whether n is an annotation marker element.
func IsMarker(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && hasClass(n, MarkerClass)
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, ok := attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}
