package http

import (
	"net/http"

	"github.com/GriffinCanCode/InflationLens/internal/domain/pipeline"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OpenPage handles POST /pages
func (h *Handlers) OpenPage(c *gin.Context) {
	var req types.OpenPageRequest
	if !h.bind(c, &req) {
		return
	}

	page, err := h.manager.Open(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, summary(page))
}

// ListPages handles GET /pages
func (h *Handlers) ListPages(c *gin.Context) {
	pages := h.manager.List()
	c.JSON(http.StatusOK, gin.H{
		"pages": pages,
		"count": len(pages),
	})
}

// GetPage handles GET /pages/:id
func (h *Handlers) GetPage(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summary(page))
}

// RenderPage handles GET /pages/:id/html
func (h *Handlers) RenderPage(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	out, err := page.Render()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out))
}

// Command handles POST /pages/:id/commands with a protocol message
func (h *Handlers) Command(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	var cmd types.Command
	if !h.bind(c, &cmd) {
		return
	}
	if err := cmd.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.respond(c, page, cmd)
}

// SetEnabled handles PUT /pages/:id/enabled
func (h *Handlers) SetEnabled(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	var req types.EnabledRequest
	if !h.bind(c, &req) {
		return
	}
	h.respond(c, page, types.Command{Action: types.ActionToggleEnabled, Enabled: req.Enabled})
}

// SetYear handles PUT /pages/:id/year. A null year clears the override.
func (h *Handlers) SetYear(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	var req types.YearRequest
	if !h.bind(c, &req) {
		return
	}
	h.respond(c, page, types.Command{Action: types.ActionUpdateYear, Year: req.Year})
}

// SetSwap handles PUT /pages/:id/swap
func (h *Handlers) SetSwap(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	var req types.EnabledRequest
	if !h.bind(c, &req) {
		return
	}
	h.respond(c, page, types.Command{Action: types.ActionToggleSwapDisplay, Enabled: req.Enabled})
}

// Mutate handles POST /pages/:id/mutations. The insert is annotated on the
// next frame, so the response only reports what was touched.
func (h *Handlers) Mutate(c *gin.Context) {
	page, ok := h.page(c)
	if !ok {
		return
	}
	var req types.MutationRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := page.Mutate(req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// ClosePage handles DELETE /pages/:id
func (h *Handlers) ClosePage(c *gin.Context) {
	pageID := c.Param("id")
	if err := h.manager.Close(pageID); err != nil {
		h.fail(c, err)
		return
	}
	h.log(c.Request.Context()).Debug("Page closed via API", zap.String("page_id", pageID))
	c.Status(http.StatusNoContent)
}

func (h *Handlers) page(c *gin.Context) (*pipeline.Page, bool) {
	page, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return page, true
}

func (h *Handlers) respond(c *gin.Context, page *pipeline.Page, cmd types.Command) {
	stats, err := page.Handle(cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, types.Notification{
		Action: types.ActionUpdateStats,
		PageID: page.ID(),
		Stats:  &stats,
	})
}

func summary(page *pipeline.Page) types.PageSummary {
	return types.PageSummary{
		ID:        page.ID(),
		URL:       page.URL(),
		CreatedAt: page.CreatedAt(),
		Stats:     page.Stats(),
	}
}
