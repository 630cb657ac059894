package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"BlockJack/internal/events"
	"BlockJack/internal/game/engine"
	"BlockJack/internal/game/manager"
)

// Game 玩家命令的去处，manager.Registry 实现
type Game interface {
	Join(ctx context.Context, roomID, userID, name, password string) (engine.Snapshot, error)
	Leave(userID string) error
	Disconnect(userID string)
	Command(userID string, cmd manager.Command) error
	RoomOf(userID string) (string, bool)
}

type Options struct {
	SendBuffer int
	// CommandRate 每秒允许的命令数，CommandBurst 为突发上限
	CommandRate  float64
	CommandBurst int
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.CommandRate <= 0 {
		o.CommandRate = 10
	}
	if o.CommandBurst <= 0 {
		o.CommandBurst = 20
	}
	return o
}

type Hub struct {
	clients    map[string]*Client // userID -> client
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	mu         sync.RWMutex

	broker  *events.Broker
	game    Game
	opts    Options
	log     *log.Logger
	dropped atomic.Int64
}

func NewHub(broker *events.Broker, game Game, opts Options, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		broker:     broker,
		game:       game,
		opts:       opts.withDefaults(),
		log:        logger.WithPrefix("hub"),
	}
}

func (h *Hub) Run() {
	h.log.Info("Hub started")
	quit := h.quit

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			// 同一用户的新连接顶替旧连接，旧连接断开时不再通知房间
			if old, ok := h.clients[c.UserID]; ok && old != c {
				old.close()
			}
			h.clients[c.UserID] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("register", "user", c.UserID, "clients", n)

			// 重连：继续接收所在房间的事件
			if roomID, ok := h.game.RoomOf(c.UserID); ok {
				c.follow(roomID)
			}

		case c := <-h.unregister:
			h.mu.Lock()
			current := h.clients[c.UserID] == c
			if current {
				delete(h.clients, c.UserID)
			}
			n := len(h.clients)
			h.mu.Unlock()
			if !current {
				continue
			}
			c.close()
			h.log.Debug("unregister", "user", c.UserID, "clients", n)
			h.game.Disconnect(c.UserID)

		case <-quit:
			quit = nil
			h.mu.RLock()
			for _, c := range h.clients {
				c.close()
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped 因发送队列满被丢弃的消息数
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) Close() {
	close(h.quit)
}
