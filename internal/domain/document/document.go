// Package document parses, sanitizes and renders HTML pages.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// MaxSize limits HTML input to 10MB to prevent memory exhaustion.
const MaxSize = 10 * 1024 * 1024

var (
	ErrEmpty    = errors.New("document: html content required")
	ErrTooLarge = fmt.Errorf("document: html exceeds maximum size of %d bytes", MaxSize)
)

// Validate checks input size.
func Validate(data []byte) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > MaxSize {
		return ErrTooLarge
	}
	return nil
}

// DetectCharset guesses the encoding of raw HTML bytes.
func DetectCharset(data []byte) string {
	if utf8.Valid(data) {
		return "utf-8"
	}
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// Parse decodes raw HTML into a document tree. contentType may carry a
// charset parameter; without one the charset is detected.
func Parse(data []byte, contentType string) (*html.Node, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	if _, params, err := mime.ParseMediaType(contentType); err != nil || params["charset"] == "" {
		contentType = "text/html; charset=" + DetectCharset(data)
	}

	reader, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return htmlquery.Parse(bytes.NewReader(data))
	}
	doc, err := htmlquery.Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("document: parse: %w", err)
	}
	return doc, nil
}

// ParseString parses UTF-8 HTML.
func ParseString(s string) (*html.Node, error) {
	return Parse([]byte(s), "text/html; charset=utf-8")
}

// ParseFragment parses s as children of context. A nil context parses as
// body content.
func ParseFragment(s string, context *html.Node) ([]*html.Node, error) {
	if context == nil || context.Type != html.ElementNode {
		context = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), context)
	if err != nil {
		return nil, fmt.Errorf("document: parse fragment: %w", err)
	}
	return nodes, nil
}

// Body returns the document's body element, or doc itself when there is
// none.
func Body(doc *html.Node) *html.Node {
	if body := htmlquery.FindOne(doc, "//body"); body != nil {
		return body
	}
	return doc
}

// Render serializes n to HTML.
func Render(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", fmt.Errorf("document: render: %w", err)
	}
	return buf.String(), nil
}

// RenderChildren serializes the children of n, as for a fragment.
func RenderChildren(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("document: render: %w", err)
		}
	}
	return buf.String(), nil
}

// Contains reports whether n is root or one of its descendants.
func Contains(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// Sanitizer strips active content from untrusted HTML while keeping the
// attributes markers rely on.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer creates a sanitizer based on the UGC policy.
func NewSanitizer() *Sanitizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowDataAttributes()
	policy.AllowAttrs("class", "id", "title").Globally()
	policy.AllowElements("span", "time")
	return &Sanitizer{policy: policy}
}

// Sanitize returns a safe copy of s.
func (s *Sanitizer) Sanitize(in string) string {
	return s.policy.Sanitize(in)
}
