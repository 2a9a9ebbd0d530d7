package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/domain/pipeline"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // extension content scripts connect from arbitrary origins
	},
}

// Pages looks up open pages.
type Pages interface {
	Get(pageID string) (*pipeline.Page, error)
}

// Handler serves the per-page stats stream. Clients receive updateStats
// after every pass and may send protocol commands on the same socket.
type Handler struct {
	pages  Pages
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(pages Pages, hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pages: pages, hub: hub, logger: logger}
}

// HandleConnection handles GET /pages/:id/stream.
func (h *Handler) HandleConnection(c *gin.Context) {
	pageID := c.Param("id")
	page, err := h.pages.Get(pageID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.hub.metrics.IncWSConnections()
	defer h.hub.metrics.DecWSConnections()

	sub := h.hub.Subscribe(pageID)
	defer h.hub.Unsubscribe(sub)

	logger := h.logger.With(zap.String("page_id", pageID), zap.String("subscriber_id", string(sub.ID)))
	logger.Debug("Stream connected")

	out := make(chan types.Notification, DefaultBuffer)
	done := make(chan struct{})
	go h.writePump(conn, sub, out, done, logger)

	stats := page.Stats()
	h.enqueue(out, types.Notification{Action: types.ActionUpdateStats, PageID: pageID, Stats: &stats})
	h.readPump(conn, page, out, done, logger)
	logger.Debug("Stream disconnected")
}

func (h *Handler) readPump(conn *websocket.Conn, page *pipeline.Page, out chan<- types.Notification, done chan struct{}, logger *zap.Logger) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		var cmd types.Command
		if err := sonic.Unmarshal(data, &cmd); err != nil {
			h.hub.metrics.RecordWSMessage("in", "invalid")
			h.enqueue(out, errorNotification(page.ID(), errors.New("malformed command")))
			continue
		}
		h.hub.metrics.RecordWSMessage("in", string(cmd.Action))

		stats, err := page.Handle(cmd)
		if err != nil {
			h.enqueue(out, errorNotification(page.ID(), err))
			continue
		}
		// Mutating commands publish through the hub already.
		if cmd.Action == types.ActionGetStats {
			h.enqueue(out, types.Notification{Action: types.ActionUpdateStats, PageID: page.ID(), Stats: &stats})
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscription, direct <-chan types.Notification, done <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-sub.C:
			if !ok {
				// Page closed.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "page closed"),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			}
			if err := h.write(conn, n); err != nil {
				logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case n := <-direct:
			if err := h.write(conn, n); err != nil {
				logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, n types.Notification) error {
	data, err := sonic.Marshal(n)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	h.hub.metrics.RecordWSMessage("out", string(n.Action))
	return nil
}

func (h *Handler) enqueue(out chan<- types.Notification, n types.Notification) {
	select {
	case out <- n:
	default:
	}
}

func errorNotification(pageID string, err error) types.Notification {
	return types.Notification{Action: types.ActionError, PageID: pageID, Error: err.Error()}
}
