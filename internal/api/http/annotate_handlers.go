package http

import (
	"net/http"
	"strings"

	"github.com/GriffinCanCode/InflationLens/internal/domain/annotator"
	"github.com/GriffinCanCode/InflationLens/internal/domain/document"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Annotate handles POST /annotate: a stateless pass over one fragment or
// document. Fragments come back as fragments, full documents as documents.
func (h *Handlers) Annotate(c *gin.Context) {
	var req types.AnnotateRequest
	if !h.bind(c, &req) {
		return
	}
	if err := document.Validate([]byte(req.HTML)); err != nil {
		h.fail(c, err)
		return
	}

	calc := h.manager.Calculator(c.Request.Context())
	if err := calc.ValidateYear(req.Year); err != nil {
		h.fail(c, err)
		return
	}

	markup := req.HTML
	if req.Sanitize {
		markup = h.sanitizer.Sanitize(markup)
	}
	doc, err := document.ParseString(markup)
	if err != nil {
		h.fail(c, err)
		return
	}

	body := document.Body(doc)
	a := annotator.New(calc, annotator.Options{Logger: h.logger.Named("annotate")})
	res := a.Annotate(body, req.Year, annotator.ModeFor(req.Swap))

	var out string
	if isDocument(req.HTML) {
		out, err = document.Render(doc)
	} else {
		out, err = document.RenderChildren(body)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	h.log(c.Request.Context()).Debug("Annotated fragment",
		zap.Int("year", req.Year),
		zap.Int("count", res.Count),
		zap.Bool("truncated", res.Truncated))

	c.JSON(http.StatusOK, types.AnnotateResponse{
		HTML:      out,
		Count:     res.Count,
		Visited:   res.Visited,
		Truncated: res.Truncated,
	})
}

func isDocument(markup string) bool {
	head := strings.ToLower(strings.TrimSpace(markup))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype") || strings.Contains(head, "<html")
}
