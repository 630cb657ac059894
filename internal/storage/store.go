package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable 连接类错误，调用方应走降级路径而不是重试同一请求
	ErrUnavailable = errors.New("storage: unavailable")
	ErrNotFound    = errors.New("storage: not found")
)

type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MaxPlayers   int       `json:"maxPlayers"`
	MinBet       int64     `json:"minBet"`
	MaxBet       int64     `json:"maxBet"`
	Visibility   string    `json:"visibility"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PlayerResult 一局里单个玩家的结算
type PlayerResult struct {
	UserID  string   `json:"userId"`
	Hand    []string `json:"hand"`
	Value   int      `json:"value"`
	Bet     int64    `json:"bet"`
	Result  string   `json:"result"`
	Payout  int64    `json:"payout"`
	Balance int64    `json:"balance"`
}

// GameHistory 一局的完整记录，(SessionID, Sequence) 唯一
type GameHistory struct {
	SessionID   string         `json:"sessionId"`
	RoomID      string         `json:"roomId"`
	Sequence    int            `json:"sequence"`
	Round       int            `json:"round"`
	DealerHand  []string       `json:"dealerHand"`
	DealerValue int            `json:"dealerValue"`
	Players     []PlayerResult `json:"players"`
	FinishedAt  time.Time      `json:"finishedAt"`
}

type SessionPlayer struct {
	UserID         string `json:"userId"`
	Name           string `json:"name"`
	RoundsPlayed   int    `json:"roundsPlayed"`
	RoundsWon      int    `json:"roundsWon"`
	RoundsLost     int    `json:"roundsLost"`
	RoundsPushed   int    `json:"roundsPushed"`
	InitialBalance int64  `json:"initialBalance"`
	CurrentBalance int64  `json:"currentBalance"`
}

// SessionSummary 房间一次生命周期的汇总，随每局结算覆盖写入，关闭时带 FinishedAt
type SessionSummary struct {
	ID          string          `json:"id"`
	RoomID      string          `json:"roomId"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
	TotalRounds int             `json:"totalRounds"`
	Players     []SessionPlayer `json:"players"`
}

type HistoryEntry struct {
	SessionID   string    `json:"sessionId"`
	RoomID      string    `json:"roomId"`
	Round       int       `json:"round"`
	Hand        []string  `json:"hand"`
	Value       int       `json:"value"`
	DealerValue int       `json:"dealerValue"`
	Bet         int64     `json:"bet"`
	Result      string    `json:"result"`
	Payout      int64     `json:"payout"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// RankingDelta 一次更新里某个玩家的增量
type RankingDelta struct {
	UserID string `json:"userId"`
	Games  int    `json:"games"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
	Profit int64  `json:"profit"`
}

// Ranking 的 Rank 只由全量重算得出
type Ranking struct {
	UserID  string  `json:"userId"`
	Games   int     `json:"games"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	Profit  int64   `json:"profit"`
	WinRate float64 `json:"winRate"`
	Rank    int     `json:"rank"`
}

// Store 持久化存储。所有写操作都是幂等的，重复投递同一条消息不会重复生效
type Store interface {
	Ping(ctx context.Context) error
	CreateRoom(ctx context.Context, room Room) error
	DeleteRoom(ctx context.Context, id string) error
	GetRoom(ctx context.Context, id string) (Room, error)
	SaveGameHistory(ctx context.Context, h GameHistory) error
	// SaveSession 旧快照不会覆盖新快照
	SaveSession(ctx context.Context, sum SessionSummary) error
	// UpdateRankings batchID 相同的批次只生效一次
	UpdateRankings(ctx context.Context, batchID string, deltas []RankingDelta) error
	UserHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
	GlobalRanking(ctx context.Context, limit int) ([]Ranking, error)
}

func winRate(wins, games int) float64 {
	if games == 0 {
		return 0
	}
	return float64(wins) / float64(games)
}
