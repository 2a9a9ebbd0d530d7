package cpi

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-yaml"
	"github.com/klauspost/compress/gzip"
	"github.com/pelletier/go-toml/v2"
)

// MaxDatasetSize bounds the decompressed size of a dataset.
const MaxDatasetSize = 4 * 1024 * 1024

// Format identifies a dataset encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	default:
		return FormatAuto, fmt.Errorf("cpi: unknown dataset format %q", s)
	}
}

// FormatFromPath infers a format from a file name or URL path, ignoring a
// trailing .gz. Unknown extensions yield FormatAuto.
func FormatFromPath(p string) Format {
	p = strings.TrimSuffix(strings.ToLower(p), ".gz")
	switch path.Ext(p) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatAuto
	}
}

// Dataset is the on-disk document shape.
type Dataset struct {
	Source string             `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
	Data   map[string]float64 `json:"data" yaml:"data" toml:"data"`
}

// Decode parses raw dataset bytes into a Table. Gzip input is detected and
// inflated first. With FormatAuto the encoding is sniffed.
func Decode(raw []byte, format Format) (*Table, error) {
	body, err := inflate(raw)
	if err != nil {
		return nil, err
	}

	if format == FormatAuto {
		format = sniff(body)
	}

	var ds Dataset
	switch format {
	case FormatJSON:
		err = sonic.Unmarshal(body, &ds)
	case FormatYAML:
		err = yaml.Unmarshal(body, &ds)
	case FormatTOML:
		err = toml.Unmarshal(body, &ds)
	default:
		return nil, fmt.Errorf("cpi: unsupported format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("cpi: decode %s dataset: %w", format, err)
	}

	return ds.Table()
}

// Table converts the string-keyed document into a Table.
func (ds Dataset) Table() (*Table, error) {
	values := make(map[int]float64, len(ds.Data))
	for key, v := range ds.Data {
		year, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("cpi: invalid year key %q", key)
		}
		values[year] = v
	}

	table := NewTable(values)
	if table.IsEmpty() {
		return nil, ErrEmptyTable
	}
	return table, nil
}

func inflate(raw []byte) ([]byte, error) {
	if !mimetype.Detect(raw).Is("application/gzip") {
		if len(raw) > MaxDatasetSize {
			return nil, fmt.Errorf("cpi: dataset exceeds %d bytes", MaxDatasetSize)
		}
		return raw, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("cpi: open gzip: %w", err)
	}
	defer zr.Close()

	body, err := io.ReadAll(io.LimitReader(zr, MaxDatasetSize+1))
	if err != nil {
		return nil, fmt.Errorf("cpi: inflate: %w", err)
	}
	if len(body) > MaxDatasetSize {
		return nil, fmt.Errorf("cpi: dataset exceeds %d bytes", MaxDatasetSize)
	}
	return body, nil
}

// sniff falls back to YAML, which also accepts flow-style JSON.
func sniff(body []byte) Format {
	mt := mimetype.Detect(body)
	switch {
	case mt.Is("application/json"):
		return FormatJSON
	case mt.Is("application/toml"):
		return FormatTOML
	default:
		return FormatYAML
	}
}
