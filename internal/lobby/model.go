package lobby

import (
	"time"

	"BlockJack/internal/storage"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// RegisterRequest 创建房间
type RegisterRequest struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
	MinBet     int64  `json:"minBet"`
	MaxBet     int64  `json:"maxBet"`
	Visibility string `json:"visibility"`
	Password   string `json:"password,omitempty"`
	CreatedBy  string `json:"createdBy"`
}

// RegisterResponse mode 为 direct 或 degraded（已入队，稍后落库）
type RegisterResponse struct {
	ID     string `json:"id"`
	Queued bool   `json:"queued"`
	Mode   string `json:"mode"`
}

type Limits struct {
	MinBet     int64 `json:"minBet"`
	MaxBet     int64 `json:"maxBet"`
	MaxPlayers int   `json:"maxPlayers"`
}

// RoomView 对外展示，不含密码
type RoomView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Visibility  string    `json:"visibility"`
	Status      string    `json:"status"`
	PlayerCount int       `json:"playerCount"`
	Round       int       `json:"round"`
	Limits      Limits    `json:"limits"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

func viewOf(r storage.Room) RoomView {
	return RoomView{
		ID:         r.ID,
		Name:       r.Name,
		Visibility: r.Visibility,
		Status:     "WAITING",
		Limits:     Limits{MinBet: r.MinBet, MaxBet: r.MaxBet, MaxPlayers: r.MaxPlayers},
		CreatedBy:  r.CreatedBy,
		CreatedAt:  r.CreatedAt,
	}
}
