package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BlockJack/internal/bridge"
	"BlockJack/internal/events"
	"BlockJack/internal/storage"
)

func TestHealthReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := storage.NewMemoryStore()
	gate := bridge.NewGate(store, time.Second, 2, nil)
	queue := bridge.NewMemoryQueue()
	h := NewHandler(gate, queue, CounterFunc(func() int { return 3 }), CounterFunc(func() int { return 5 }))

	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/internal/dead-letters", h.DeadLetters)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rep Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, "ok", rep.Status)
	assert.Equal(t, 3, rep.Sessions)
	assert.Equal(t, 5, rep.Connections)
	assert.True(t, rep.Durable)
	assert.Equal(t, int64(0), rep.QueueDepth)

	// 降级：两次探测失败，一条消息入队，一条进死信
	store.SetDown(true)
	gate.Check(ctx)
	gate.Check(ctx)
	m1, err := bridge.NewMessage(bridge.OpDeleteRoom, bridge.DeleteRoom{ID: "r1"})
	require.NoError(t, err)
	m2, err := bridge.NewMessage(bridge.OpDeleteRoom, bridge.DeleteRoom{ID: "r2"})
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(ctx, m1))
	require.NoError(t, queue.Enqueue(ctx, m2))
	dead, err := queue.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, queue.DeadLetter(ctx, dead))

	rep = h.Report(ctx)
	assert.Equal(t, "degraded", rep.Status)
	assert.False(t, rep.Durable)
	assert.Equal(t, int64(1), rep.QueueDepth)
	assert.Equal(t, 1, rep.DeadLetters)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/dead-letters", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), m1.ID)
}

type dropCount int64

func (d dropCount) Dropped() int64 { return int64(d) }

func TestHealthReportSumsDroppedEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broker := events.NewBroker()
	sub := broker.Subscribe("room-1", 1)
	defer broker.Unsubscribe(sub)
	broker.Publish("room-1", events.Event{Event: events.GameState})
	broker.Publish("room-1", events.Event{Event: events.GameState})
	broker.Publish("room-1", events.Event{Event: events.GameState})

	store := storage.NewMemoryStore()
	h := NewHandler(bridge.NewGate(store, time.Second, 2, nil), bridge.NewMemoryQueue(),
		CounterFunc(func() int { return 1 }), CounterFunc(func() int { return 1 }),
		broker, dropCount(3))

	r := gin.New()
	r.GET("/health", h.Health)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"droppedEvents":5`)

	// 没有传入计数源时为 0
	bare := NewHandler(bridge.NewGate(store, time.Second, 2, nil), bridge.NewMemoryQueue(),
		CounterFunc(func() int { return 0 }), CounterFunc(func() int { return 0 }))
	assert.Equal(t, int64(0), bare.Report(context.Background()).DroppedEvents)
}
