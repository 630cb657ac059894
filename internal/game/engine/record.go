package engine

import (
	"time"

	"BlockJack/internal/game/table"
)

// PlayerSessionRecord 玩家在一个 game session 内的累计数据
type PlayerSessionRecord struct {
	UserID         string    `json:"userId"`
	Name           string    `json:"name"`
	RoundsPlayed   int       `json:"roundsPlayed"`
	RoundsWon      int       `json:"roundsWon"`
	RoundsLost     int       `json:"roundsLost"`
	RoundsPushed   int       `json:"roundsPushed"`
	InitialBalance int64     `json:"initialBalance"`
	CurrentBalance int64     `json:"currentBalance"`
	JoinedAt       time.Time `json:"joinedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// GameSessionRecord 房间整个生命周期的汇总
type GameSessionRecord struct {
	ID          string                `json:"id"`
	RoomID      string                `json:"roomId"`
	StartedAt   time.Time             `json:"startedAt"`
	FinishedAt  *time.Time            `json:"finishedAt,omitempty"`
	TotalRounds int                   `json:"totalRounds"`
	Players     []PlayerSessionRecord `json:"players"`
}

type RoundResult struct {
	UserID  string       `json:"userId"`
	Hand    []table.Card `json:"hand"`
	Value   int          `json:"value"`
	Bet     int64        `json:"bet"`
	Result  table.Result `json:"result"`
	Payout  int64        `json:"payout"`
	Balance int64        `json:"balance"`
}

// RoundRecord 每局结束追加一条。Sequence 在 session 内单调递增，
// Round 在房间清空后会从 1 重新计数
type RoundRecord struct {
	SessionID   string        `json:"sessionId"`
	RoomID      string        `json:"roomId"`
	Sequence    int           `json:"sequence"`
	Round       int           `json:"round"`
	DealerHand  []table.Card  `json:"dealerHand"`
	DealerValue int           `json:"dealerValue"`
	Players     []RoundResult `json:"players"`
	FinishedAt  time.Time     `json:"finishedAt"`
}

// RoundOutcome 一局结束时交给一致性桥的数据
type RoundOutcome struct {
	Round   RoundRecord       `json:"round"`
	Session GameSessionRecord `json:"session"`
}
