package cpi

import (
	"errors"
	"maps"
	"math"
	"slices"
)

// ErrEmptyTable is returned when a dataset decodes to zero usable years.
var ErrEmptyTable = errors.New("cpi: dataset contains no years")

// Table is an immutable year -> index mapping. The zero value and nil are
// both valid empty tables.
type Table struct {
	index map[int]float64
	years []int
}

// NewTable builds a table from raw values. Non-positive and non-finite
// indices are dropped.
func NewTable(values map[int]float64) *Table {
	index := make(map[int]float64, len(values))
	for year, v := range values {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		index[year] = v
	}
	years := slices.Sorted(maps.Keys(index))
	return &Table{index: index, years: years}
}

// Empty returns a table with no data.
func Empty() *Table {
	return &Table{index: map[int]float64{}}
}

// Index returns the CPI value for year.
func (t *Table) Index(year int) (float64, bool) {
	if t == nil {
		return 0, false
	}
	v, ok := t.index[year]
	return v, ok
}

// Has reports whether the table has a value for year.
func (t *Table) Has(year int) bool {
	_, ok := t.Index(year)
	return ok
}

// Latest returns the highest year present.
func (t *Table) Latest() (int, bool) {
	if t.Len() == 0 {
		return 0, false
	}
	return t.years[len(t.years)-1], true
}

// Earliest returns the lowest year present.
func (t *Table) Earliest() (int, bool) {
	if t.Len() == 0 {
		return 0, false
	}
	return t.years[0], true
}

// Len returns the number of years in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.years)
}

// IsEmpty reports whether the table carries no data.
func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// Years returns the sorted years present. The slice is a copy.
func (t *Table) Years() []int {
	if t == nil {
		return nil
	}
	return slices.Clone(t.years)
}
