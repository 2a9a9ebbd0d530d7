package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/domain/batcher"
	"github.com/GriffinCanCode/InflationLens/internal/domain/cpi"
	"github.com/GriffinCanCode/InflationLens/internal/domain/pipeline"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tables struct{}

func (tables) Load(context.Context) (*cpi.Table, error) {
	return cpi.NewTable(map[int]float64{2000: 172.2, 2010: 218.1, 2023: 304.7}), nil
}

type fixture struct {
	hub     *Hub
	manager *pipeline.Manager
	sched   *batcher.ManualScheduler
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(metrics, nil)
	sched := &batcher.ManualScheduler{}
	manager := pipeline.NewManager(pipeline.ManagerOptions{
		Config:    pipeline.DefaultConfig(),
		Tables:    tables{},
		Notifier:  hub,
		Metrics:   metrics,
		Scheduler: sched,
		Now:       func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	})

	r := gin.New()
	r.GET("/pages/:id/stream", NewHandler(manager, hub, nil).HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(manager.CloseAll)
	return &fixture{hub: hub, manager: manager, sched: sched, server: srv}
}

func (f *fixture) open(t *testing.T) *pipeline.Page {
	t.Helper()
	year := 2010
	page, err := f.manager.Open(context.Background(), types.OpenPageRequest{
		HTML: "<html><body><p>Only $100</p><div id=feed></div></body></html>",
		Year: &year,
	})
	require.NoError(t, err)
	return page
}

func (f *fixture) dial(t *testing.T, pageID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/pages/" + pageID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) types.Notification {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var n types.Notification
	require.NoError(t, sonic.Unmarshal(data, &n))
	return n
}

func send(t *testing.T, conn *websocket.Conn, cmd any) {
	t.Helper()
	data, err := sonic.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestStreamSendsInitialStats(t *testing.T) {
	f := newFixture(t)
	page := f.open(t)
	conn := f.dial(t, page.ID())

	n := read(t, conn)
	assert.Equal(t, types.ActionUpdateStats, n.Action)
	assert.Equal(t, page.ID(), n.PageID)
	require.NotNil(t, n.Stats)
	assert.Equal(t, 1, n.Stats.Count)
	assert.Equal(t, 2010, n.Stats.ActiveYear)
}

func TestStreamCommands(t *testing.T) {
	f := newFixture(t)
	page := f.open(t)
	conn := f.dial(t, page.ID())
	read(t, conn)

	off := false
	send(t, conn, types.Command{Action: types.ActionToggleEnabled, Enabled: &off})
	n := read(t, conn)
	assert.Equal(t, types.ActionUpdateStats, n.Action)
	assert.False(t, n.Stats.Enabled)
	assert.Zero(t, n.Stats.Count)

	year := 1850
	send(t, conn, types.Command{Action: types.ActionUpdateYear, Year: &year})
	n = read(t, conn)
	assert.Equal(t, types.ActionError, n.Action)
	assert.Contains(t, n.Error, "outside the supported range")

	send(t, conn, types.Command{Action: types.ActionGetStats})
	n = read(t, conn)
	assert.Equal(t, types.ActionUpdateStats, n.Action)
	assert.Equal(t, 2010, n.Stats.ActiveYear)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	n = read(t, conn)
	assert.Equal(t, types.ActionError, n.Action)
}

func TestStreamReceivesMutationPasses(t *testing.T) {
	f := newFixture(t)
	page := f.open(t)
	conn := f.dial(t, page.ID())
	read(t, conn)

	_, err := page.Mutate(types.MutationRequest{Selector: "#feed", HTML: "<p>Now $20</p>"})
	require.NoError(t, err)
	f.sched.Run()

	n := read(t, conn)
	assert.Equal(t, 2, n.Stats.Count)
}

func TestStreamClosesWithPage(t *testing.T) {
	f := newFixture(t)
	page := f.open(t)
	conn := f.dial(t, page.ID())
	read(t, conn)
	require.Eventually(t, func() bool { return f.hub.Subscribers(page.ID()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.manager.Close(page.ID()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, f.hub.Subscribers(page.ID()))
}

func TestStreamUnknownPage(t *testing.T) {
	f := newFixture(t)
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/pages/page_missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestHubPublish(t *testing.T) {
	hub := NewHub(nil, nil)
	a := hub.Subscribe("p1")
	b := hub.Subscribe("p2")

	hub.Publish("p1", types.Stats{Count: 3})
	select {
	case n := <-a.C:
		assert.Equal(t, 3, n.Stats.Count)
		assert.Equal(t, "p1", n.PageID)
	default:
		t.Fatal("expected notification for p1")
	}
	assert.Empty(t, b.C)

	// A full queue drops rather than blocks.
	for range DefaultBuffer + 5 {
		hub.Publish("p1", types.Stats{})
	}
	assert.Len(t, a.C, DefaultBuffer)

	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	assert.Zero(t, hub.Subscribers("p1"))
	hub.Publish("p1", types.Stats{})

	hub.PageClosed("p2")
	_, ok := <-b.C
	assert.False(t, ok)
}
