package inflation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/domain/cpi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(year int) func() time.Time {
	return func() time.Time { return time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC) }
}

func scenarioCalculator() *Calculator {
	table := cpi.NewTable(map[int]float64{
		1913: 9.9,
		2000: 172.2,
		2010: 218.1,
		2020: 258.8,
		2023: 304.7,
	})
	return New(table).WithClock(fixedClock(2026))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		token    string
		expected float64
	}{
		{"$100", 100},
		{"$1,234.56", 1234.56},
		{"$2.5M", 2.5e6},
		{"$2.5m", 2.5e6},
		{"$10k", 1e4},
		{"$1b", 1e9},
		{"$999B", 999e9},
		{"$1T", 1e12},
		{"$46 Billion", 46e9},
		{"$3 thousand", 3000},
		{"$1.5 million", 1.5e6},
		{"$2 TRILLION", 2e12},
		{"$100.", 100},
		{"$0.5", 0.5},
		{"$1.123456", 1.123456},
		{"-$100", -100},
		{"$-50", -50},
		{"$50 USD", 50},
		{"999000000000", 999e9},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseAmount(tt.token))
		})
	}
}

func TestParseAmountInvalid(t *testing.T) {
	for _, token := range []string{"", "$$$", "abc", "KK", "$M", "million", "1.2.3", "$1e5"} {
		t.Run(token, func(t *testing.T) {
			assert.True(t, math.IsNaN(ParseAmount(token)), "token %q", token)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   float64
		expected string
	}{
		{0, "$0.00"},
		{0.01, "$0.01"},
		{5.99, "$5.99"},
		{99.99, "$99.99"},
		{999.99, "$999.99"},
		{1000, "$1,000"},
		{50000, "$50,000"},
		{999999, "$999,999"},
		{1000000, "$1M"},
		{1500000, "$1.5M"},
		{2000000, "$2M"},
		{1420000, "$1.42M"},
		{1425000, "$1.43M"},
		{1000000000, "$1B"},
		{7200000000, "$7.2B"},
		{6985327831.27, "$6.99B"},
		{1e12, "$1T"},
		{1.39706e12, "$1.4T"},
		{-100, "$-100.00"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatAmount(tt.amount))
		})
	}
}

func TestConvert(t *testing.T) {
	calc := scenarioCalculator()

	v, ok := calc.Convert(100, 2000, 2020)
	require.True(t, ok)
	assert.Equal(t, 150.29, v)

	_, ok = calc.Convert(100, 2011, 2020)
	assert.False(t, ok, "from year absent from table")

	_, ok = calc.Convert(100, 1800, 2020)
	assert.False(t, ok)

	v, ok = calc.Convert(100, 2000, 2099)
	require.True(t, ok, "missing target falls back to latest year")
	expected, _ := calc.Convert(100, 2000, 2023)
	assert.Equal(t, expected, v)

	v, ok = calc.Convert(0.01, 1913, 2023)
	require.True(t, ok)
	assert.Equal(t, 0.31, v)

	v, ok = calc.Convert(100, 2020, 2000)
	require.True(t, ok)
	assert.Less(t, v, 100.0)
}

func TestConvertIdentity(t *testing.T) {
	calc := scenarioCalculator()
	for _, year := range calc.Table().Years() {
		for _, amount := range []float64{0, 0.01, 1, 19.99, 100, 123456.78, 2.5e12} {
			v, ok := calc.Convert(amount, year, year)
			require.True(t, ok)
			assert.Equal(t, amount, v, "year %d amount %v", year, amount)
		}
	}
}

func TestConvertRoundTrip(t *testing.T) {
	calc := scenarioCalculator()
	years := calc.Table().Years()

	for i, a := range years {
		for _, b := range years[i+1:] {
			for cents := int64(1); cents <= 2_000_000; cents = cents*3 + 7 {
				amount := float64(cents) / 100
				there, ok := calc.Convert(amount, a, b)
				require.True(t, ok)
				back, ok := calc.Convert(there, b, a)
				require.True(t, ok)
				assert.Less(t, math.Abs(back-amount), 0.01, "%v: %d -> %d -> %d", amount, a, b, a)
			}
		}
	}
}

func TestAdjustScenario(t *testing.T) {
	calc := scenarioCalculator()

	tests := []struct {
		amount   float64
		expected string
	}{
		{100, "$139.71"},
		{50, "$69.85"},
		{250, "$349.27"},
		{1e12, "$1.4T"},
		{2.5e12, "$3.49T"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			v, year, ok := calc.Adjust(tt.amount, 2010)
			require.True(t, ok)
			assert.Equal(t, 2023, year, "effective year falls back to latest")
			assert.Equal(t, tt.expected, FormatAmount(v))
		})
	}
}

func TestEffectiveYear(t *testing.T) {
	calc := scenarioCalculator()

	y, ok := calc.EffectiveYear(2020)
	require.True(t, ok)
	assert.Equal(t, 2020, y)

	y, ok = calc.EffectiveYear(2026)
	require.True(t, ok)
	assert.Equal(t, 2023, y)
}

func TestNoData(t *testing.T) {
	calc := New(nil)
	assert.False(t, calc.Available())

	_, ok := calc.Convert(100, 2000, 2020)
	assert.False(t, ok)
	_, _, ok = calc.Adjust(100, 2000)
	assert.False(t, ok)
	_, _, ok = calc.Bounds()
	assert.False(t, ok)
	assert.ErrorIs(t, calc.ValidateYear(2000), ErrNoData)
}

func TestValidateYear(t *testing.T) {
	calc := scenarioCalculator()

	lo, hi, ok := calc.Bounds()
	require.True(t, ok)
	assert.Equal(t, 1913, lo)
	assert.Equal(t, 2023, hi)

	assert.NoError(t, calc.ValidateYear(1913))
	assert.NoError(t, calc.ValidateYear(2011), "bounds check only, sparse years allowed")

	err := calc.ValidateYear(1850)
	var rangeErr *YearRangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, 1913, rangeErr.Min)
	assert.Equal(t, 2023, rangeErr.Max)
	assert.Contains(t, err.Error(), "1913-2023")

	assert.Error(t, calc.ValidateYear(2030))
}
