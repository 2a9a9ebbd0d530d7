package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/GriffinCanCode/InflationLens/internal/domain/inflation"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
	"github.com/gin-gonic/gin"
)

// CPI describes the loaded table
func (h *Handlers) CPI(c *gin.Context) {
	calc := h.manager.Calculator(c.Request.Context())
	resp := types.BoundsResponse{
		Available: calc.Available(),
		Years:     calc.Table().Len(),
		Source:    h.source,
	}
	if lo, hi, ok := calc.Bounds(); ok {
		resp.Min, resp.Max = lo, hi
	}
	c.JSON(http.StatusOK, resp)
}

// Convert handles GET /cpi/convert?amount=&from=&to=. The amount accepts
// the same forms as page prices ("$1,250", "1.5M"); to defaults to the
// current year.
func (h *Handlers) Convert(c *gin.Context) {
	amount := inflation.ParseAmount(c.Query("amount"))
	if math.IsNaN(amount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a price such as 100, $1,250 or 1.5M"})
		return
	}
	from, err := strconv.Atoi(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a year"})
		return
	}

	calc := h.manager.Calculator(c.Request.Context())
	to := calc.CurrentYear()
	if raw := c.Query("to"); raw != "" {
		if to, err = strconv.Atoi(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be a year"})
			return
		}
	}

	if !calc.Available() {
		h.metrics.RecordConversion(false)
		h.fail(c, inflation.ErrNoData)
		return
	}
	if err := calc.ValidateYear(from); err != nil {
		h.metrics.RecordConversion(false)
		h.fail(c, err)
		return
	}

	adjusted, ok := calc.Convert(amount, from, to)
	h.metrics.RecordConversion(ok)
	if !ok {
		h.fail(c, errors.New("conversion unavailable"))
		return
	}
	effective, _ := calc.EffectiveYear(to)

	c.JSON(http.StatusOK, types.ConvertResponse{
		Amount:        amount,
		From:          from,
		To:            to,
		EffectiveYear: effective,
		Adjusted:      adjusted,
		Formatted:     calc.FormatAmount(adjusted),
	})
}

// Parse handles GET /cpi/parse?token=
func (h *Handlers) Parse(c *gin.Context) {
	token := c.Query("token")
	amount := inflation.ParseAmount(token)
	if math.IsNaN(amount) {
		c.JSON(http.StatusOK, gin.H{"token": token, "valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"valid":     true,
		"amount":    amount,
		"formatted": inflation.FormatAmount(amount),
	})
}
