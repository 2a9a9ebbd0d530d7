package cpi

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"
)

//go:embed data/cpi-data.json
var embeddedDataset []byte

// Source yields raw dataset bytes and their format hint.
type Source interface {
	Fetch(ctx context.Context) ([]byte, Format, error)
	String() string
}

// Fetcher retrieves a remote document. fetch.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, string, error)
}

type embeddedSource struct{}

// Embedded returns the dataset compiled into the binary.
func Embedded() Source { return embeddedSource{} }

func (embeddedSource) Fetch(context.Context) ([]byte, Format, error) {
	return embeddedDataset, FormatJSON, nil
}

func (embeddedSource) String() string { return "embedded" }

type fileSource struct {
	path   string
	format Format
}

// File reads a dataset from disk.
func File(path string, format Format) Source {
	if format == FormatAuto {
		format = FormatFromPath(path)
	}
	return fileSource{path: path, format: format}
}

func (s fileSource) Fetch(ctx context.Context) ([]byte, Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.format, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, s.format, fmt.Errorf("cpi: read %s: %w", s.path, err)
	}
	return raw, s.format, nil
}

func (s fileSource) String() string { return "file:" + s.path }

type urlSource struct {
	fetcher Fetcher
	url     string
	format  Format
}

// URL downloads a dataset over HTTP(S).
func URL(fetcher Fetcher, rawURL string, format Format) Source {
	if format == FormatAuto {
		if u, err := url.Parse(rawURL); err == nil {
			format = FormatFromPath(u.Path)
		}
	}
	return urlSource{fetcher: fetcher, url: rawURL, format: format}
}

func (s urlSource) Fetch(ctx context.Context) ([]byte, Format, error) {
	if s.fetcher == nil {
		return nil, s.format, fmt.Errorf("cpi: no fetcher configured for %s", s.url)
	}
	raw, contentType, err := s.fetcher.Get(ctx, s.url)
	if err != nil {
		return nil, s.format, fmt.Errorf("cpi: fetch %s: %w", s.url, err)
	}

	format := s.format
	if format == FormatAuto {
		switch {
		case strings.Contains(contentType, "json"):
			format = FormatJSON
		case strings.Contains(contentType, "yaml"):
			format = FormatYAML
		case strings.Contains(contentType, "toml"):
			format = FormatTOML
		}
	}
	return raw, format, nil
}

func (s urlSource) String() string { return s.url }

// ParseSource resolves a configured source string: "embedded" (or empty),
// an http(s) URL, or a filesystem path.
func ParseSource(location string, format Format, fetcher Fetcher) Source {
	location = strings.TrimSpace(location)
	switch {
	case location == "" || strings.EqualFold(location, "embedded"):
		return Embedded()
	case strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://"):
		return URL(fetcher, location, format)
	default:
		return File(location, format)
	}
}
