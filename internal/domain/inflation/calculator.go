package inflation

import (
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/domain/cpi"
	"gonum.org/v1/gonum/floats/scalar"
)

// ErrNoData is returned by validation when no CPI table is loaded.
var ErrNoData = errors.New("inflation: CPI data unavailable")

// YearRangeError reports a year outside the supported span.
type YearRangeError struct {
	Year int
	Min  int
	Max  int
}

func (e *YearRangeError) Error() string {
	return fmt.Sprintf("year %d is outside the supported range %d-%d", e.Year, e.Min, e.Max)
}

// Calculator performs CPI conversions against a read-only table.
type Calculator struct {
	table *cpi.Table
	now   func() time.Time
}

// New creates a calculator. A nil or empty table puts the calculator in
// no-op mode: every conversion reports unavailable.
func New(table *cpi.Table) *Calculator {
	if table == nil {
		table = cpi.Empty()
	}
	return &Calculator{table: table, now: time.Now}
}

// WithClock returns a copy of c that reads the current year from now.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	cp := *c
	cp.now = now
	return &cp
}

// Table returns the underlying CPI table.
func (c *Calculator) Table() *cpi.Table {
	return c.table
}

// Available reports whether any CPI data is loaded.
func (c *Calculator) Available() bool {
	return !c.table.IsEmpty()
}

// CurrentYear is the nominal conversion target.
func (c *Calculator) CurrentYear() int {
	return c.now().Year()
}

// EffectiveYear resolves the year actually used as a conversion target:
// to itself when present, else the latest year in the table.
func (c *Calculator) EffectiveYear(to int) (int, bool) {
	if c.table.Has(to) {
		return to, true
	}
	return c.table.Latest()
}

// Convert adjusts amount from one year's dollars to another's, rounded to
// the cent. It returns false when from is not in the table or no data is
// loaded.
func (c *Calculator) Convert(amount float64, from, to int) (float64, bool) {
	fromIndex, ok := c.table.Index(from)
	if !ok {
		return 0, false
	}
	resolved, ok := c.EffectiveYear(to)
	if !ok {
		return 0, false
	}
	if resolved == from {
		return amount, true
	}
	toIndex, _ := c.table.Index(resolved)
	return scalar.Round(amount*(toIndex/fromIndex), 2), true
}

// ConvertToCurrent converts amount from a year into current dollars.
func (c *Calculator) ConvertToCurrent(amount float64, from int) (float64, bool) {
	return c.Convert(amount, from, c.CurrentYear())
}

// Adjust converts to current dollars and also reports the effective target
// year used, for labelling.
func (c *Calculator) Adjust(amount float64, from int) (float64, int, bool) {
	to, ok := c.EffectiveYear(c.CurrentYear())
	if !ok {
		return 0, 0, false
	}
	v, ok := c.Convert(amount, from, to)
	if !ok {
		return 0, 0, false
	}
	return v, to, true
}

// Bounds returns the supported year span.
func (c *Calculator) Bounds() (lo, hi int, ok bool) {
	lo, ok = c.table.Earliest()
	if !ok {
		return 0, 0, false
	}
	hi, _ = c.table.Latest()
	return lo, hi, true
}

// ValidateYear checks a user-supplied year against Bounds.
func (c *Calculator) ValidateYear(year int) error {
	lo, hi, ok := c.Bounds()
	if !ok {
		return ErrNoData
	}
	if year < lo || year > hi {
		return &YearRangeError{Year: year, Min: lo, Max: hi}
	}
	return nil
}

// ParseAmount is exposed on the calculator so it satisfies the annotator's
// contract.
func (c *Calculator) ParseAmount(token string) float64 {
	return ParseAmount(token)
}

// FormatAmount mirrors the package-level FormatAmount.
func (c *Calculator) FormatAmount(amount float64) string {
	return FormatAmount(amount)
}
