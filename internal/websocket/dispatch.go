package websocket

import (
	"context"
	"encoding/json"
	"time"

	"BlockJack/internal/events"
	"BlockJack/internal/game/engine"
	"BlockJack/internal/game/manager"
)

const joinTimeout = 5 * time.Second

// handle 处理一条客户端命令，结果或错误只回给发送者
func (h *Hub) handle(c *Client, msg IncomingMessage) {
	if !c.limiter.Allow() {
		c.deliver(errorMessage("RATE_LIMITED", "too many commands"))
		return
	}

	switch msg.Event {
	case CmdJoinRoom:
		var data JoinRoomData
		if err := decode(msg.Data, &data); err != nil || data.RoomID == "" {
			c.deliver(errorMessage("BAD_REQUEST", "join-room requires roomId"))
			return
		}
		h.join(c, data)

	case CmdPlaceBet:
		var data PlaceBetData
		if err := decode(msg.Data, &data); err != nil {
			c.deliver(errorMessage("BAD_REQUEST", "place-bet requires amount"))
			return
		}
		if err := h.game.Command(c.UserID, manager.Command{Action: manager.ActionPlaceBet, Amount: data.Amount}); err != nil {
			h.reject(c, msg.Event, err)
			return
		}
		c.deliver(OutgoingMessage{Event: events.BetPlacedSuccess, Data: data})

	case CmdHit:
		if err := h.game.Command(c.UserID, manager.Command{Action: manager.ActionHit}); err != nil {
			h.reject(c, msg.Event, err)
		}

	case CmdStand:
		if err := h.game.Command(c.UserID, manager.Command{Action: manager.ActionStand}); err != nil {
			h.reject(c, msg.Event, err)
		}

	case CmdLeaveRoom:
		roomID := c.room()
		if err := h.game.Leave(c.UserID); err != nil {
			h.reject(c, msg.Event, err)
			return
		}
		c.follow("")
		c.deliver(OutgoingMessage{Event: events.RoomLeft, Data: map[string]string{"roomId": roomID}})

	default:
		c.deliver(errorMessage("UNKNOWN_EVENT", "unknown event: "+msg.Event))
	}
}

// join 先订阅再加入，加入后的广播不会漏；失败时恢复原来的订阅
func (h *Hub) join(c *Client, data JoinRoomData) {
	c.follow(data.RoomID)

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	snap, err := h.game.Join(ctx, data.RoomID, c.UserID, c.Name, data.Password)
	if err != nil {
		prev, _ := h.game.RoomOf(c.UserID)
		c.follow(prev)
		h.reject(c, CmdJoinRoom, err)
		return
	}
	c.deliver(OutgoingMessage{Event: events.RoomJoined, Data: snap})
}

func (h *Hub) reject(c *Client, event string, err error) {
	code, text := engine.Code(err), err.Error()
	if code == "INTERNAL" {
		h.log.Error("command failed", "user", c.UserID, "event", event, "err", err)
		text = "internal error"
	}
	c.deliver(errorMessage(code, text))
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(raw, v)
}
