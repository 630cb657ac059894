package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"BlockJack/internal/events"
)

type Client struct {
	UserID string
	Name   string
	Conn   *websocket.Conn
	Send   chan OutgoingMessage
	Hub    *Hub

	limiter  *rate.Limiter
	done     chan struct{}
	doneOnce sync.Once

	mu  sync.Mutex
	sub *events.Subscription
}

const (
	writeWait      = 10 * time.Second    // 单次写超时
	pongWait       = 60 * time.Second    // 读超时
	pingPeriod     = (pongWait * 9) / 10 // 心跳发送周期
	maxMessageSize = 1024 * 4            // 最大4KB
)

func newClient(hub *Hub, conn *websocket.Conn, userID, name string) *Client {
	return &Client{
		UserID:  userID,
		Name:    name,
		Conn:    conn,
		Send:    make(chan OutgoingMessage, hub.opts.SendBuffer),
		Hub:     hub,
		limiter: rate.NewLimiter(rate.Limit(hub.opts.CommandRate), hub.opts.CommandBurst),
		done:    make(chan struct{}),
	}
}

// deliver 不阻塞：发送队列满时丢弃
func (c *Client) deliver(msg OutgoingMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- msg:
		return true
	default:
		c.Hub.dropped.Add(1)
		return false
	}
}

func (c *Client) close() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.unfollow()
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// follow 切换订阅的房间，房间事件转发到发送队列
func (c *Client) follow(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil && c.sub.RoomID == roomID {
		return
	}
	c.Hub.broker.Unsubscribe(c.sub)
	c.sub = nil
	if roomID == "" || c.closed() {
		return
	}
	sub := c.Hub.broker.Subscribe(roomID, c.Hub.opts.SendBuffer)
	c.sub = sub
	c.Hub.log.Debug("follow room", "user", c.UserID, "room", roomID, "subscribers", c.Hub.broker.Subscribers(roomID))
	go func() {
		for ev := range sub.C {
			c.deliver(ev)
		}
	}()
}

func (c *Client) unfollow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Hub.broker.Unsubscribe(c.sub)
	c.sub = nil
}

func (c *Client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return ""
	}
	return c.sub.RoomID
}

// 写协程
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod) // 心跳
	defer func() {
		ticker.Stop()
		c.Hub.unregister <- c
		_ = c.Conn.Close()
	}()

	for {
		select {

		// 有消息待发
		case msg := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(msg); err != nil {
				return
			}

		// 连接被替换或 Hub 关闭，通知前端
		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		// 定时发送 ping 维持连接健康
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// 读协程：同一连接的命令按到达顺序串行处理
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg IncomingMessage
		if err := c.Conn.ReadJSON(&msg); err != nil {
			return
		}
		msg.From = c.UserID
		c.Hub.handle(c, msg)
	}
}
