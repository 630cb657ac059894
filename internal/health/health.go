package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"BlockJack/internal/bridge"
)

type Gate interface {
	Healthy() bool
}

// Counter 活跃 session 或连接数
type Counter interface {
	Count() int
}

type CounterFunc func() int

func (f CounterFunc) Count() int { return f() }

// Dropper 因订阅方跟不上而丢掉的事件数，events.Broker 与 websocket.Hub 实现
type Dropper interface {
	Dropped() int64
}

type Report struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	UptimeSec     float64 `json:"uptimeSeconds"`
	Sessions      int     `json:"sessions"`
	Connections   int     `json:"connections"`
	Durable       bool    `json:"durable"`
	QueueDepth    int64   `json:"queueDepth"`
	DeadLetters   int     `json:"deadLetters"`
	DroppedEvents int64   `json:"droppedEvents"`
}

type Handler struct {
	started     time.Time
	gate        Gate
	queue       bridge.Queue
	sessions    Counter
	connections Counter
	droppers    []Dropper
}

func NewHandler(gate Gate, queue bridge.Queue, sessions, connections Counter, droppers ...Dropper) *Handler {
	return &Handler{
		started:     time.Now(),
		gate:        gate,
		queue:       queue,
		sessions:    sessions,
		connections: connections,
		droppers:    droppers,
	}
}

// Report 持久层不可用时 status 为 degraded，服务本身仍然可用
func (h *Handler) Report(ctx context.Context) Report {
	up := time.Since(h.started)
	rep := Report{
		Status:      "ok",
		Uptime:      up.Round(time.Second).String(),
		UptimeSec:   up.Seconds(),
		Sessions:    h.sessions.Count(),
		Connections: h.connections.Count(),
		Durable:     h.gate.Healthy(),
		QueueDepth:  -1,
		DeadLetters: -1,
	}
	if !rep.Durable {
		rep.Status = "degraded"
	}
	for _, d := range h.droppers {
		rep.DroppedEvents += d.Dropped()
	}
	if n, err := h.queue.Len(ctx); err == nil {
		rep.QueueDepth = n
	}
	if dl, err := h.queue.DeadLetters(ctx); err == nil {
		rep.DeadLetters = len(dl)
	}
	return rep
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.Report(c.Request.Context()))
}

// GET /internal/dead-letters
func (h *Handler) DeadLetters(c *gin.Context) {
	dl, err := h.queue.DeadLetters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": dl})
}
