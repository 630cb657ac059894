package websocket

import (
	"encoding/json"

	"BlockJack/internal/events"
)

// OutgoingMessage 与房间广播同构，私有消息和广播走同一个发送队列
type OutgoingMessage = events.Event

// IncomingMessage From 由服务端填入，客户端发送的值会被忽略
type IncomingMessage struct {
	From  string          `json:"from"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// 客户端 → 服务端
const (
	CmdJoinRoom  = "join-room"
	CmdPlaceBet  = "place-bet"
	CmdHit       = "hit"
	CmdStand     = "stand"
	CmdLeaveRoom = "leave-room"
)

type JoinRoomData struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

type PlaceBetData struct {
	Amount int64 `json:"amount"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func errorMessage(code, msg string) OutgoingMessage {
	return OutgoingMessage{Event: events.Error, Data: ErrorData{Message: msg, Code: code}}
}
