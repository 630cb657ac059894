package engine

import (
	"BlockJack/internal/game/table"
)

type PlayerView struct {
	UserID    string       `json:"userId"`
	Name      string       `json:"name"`
	Hand      []table.Card `json:"hand"`
	Value     int          `json:"value"`
	Bet       int64        `json:"bet"`
	Balance   int64        `json:"balance"`
	Standing  bool         `json:"standing"`
	Busted    bool         `json:"busted"`
	Blackjack bool         `json:"blackjack"`
	Active    bool         `json:"active"`
}

// DealerView 暗牌未翻开时 Hand 只含明牌，Hidden 为 true
type DealerView struct {
	Hand   []table.Card `json:"hand"`
	Value  int          `json:"value"`
	Hidden bool         `json:"hidden"`
}

type Snapshot struct {
	RoomID     string       `json:"roomId"`
	Status     Phase        `json:"status"`
	Round      int          `json:"round"`
	MinBet     int64        `json:"minBet"`
	MaxBet     int64        `json:"maxBet"`
	MaxPlayers int          `json:"maxPlayers"`
	Turn       string       `json:"turn,omitempty"`
	Players    []PlayerView `json:"players"`
	Dealer     DealerView   `json:"dealer"`
}

func (sl *slot) view() PlayerView {
	return PlayerView{
		UserID:    sl.userID,
		Name:      sl.name,
		Hand:      append([]table.Card(nil), sl.hand...),
		Value:     table.HandValue(sl.hand),
		Bet:       sl.bet,
		Balance:   sl.balance,
		Standing:  sl.standing,
		Busted:    sl.busted,
		Blackjack: sl.blackjack,
		Active:    sl.active,
	}
}

func (s *Session) dealerView() DealerView {
	if s.holeHidden() {
		visible := append([]table.Card(nil), s.dealer[:1]...)
		return DealerView{Hand: visible, Value: table.HandValue(visible), Hidden: true}
	}
	return DealerView{
		Hand:  append([]table.Card(nil), s.dealer...),
		Value: table.HandValue(s.dealer),
	}
}

// 发牌后到庄家回合前，第二张牌对外不可见
func (s *Session) holeHidden() bool {
	return len(s.dealer) >= 2 && (s.phase == PhaseDealing || s.phase == PhasePlaying)
}

func (s *Session) snapshot() Snapshot {
	players := make([]PlayerView, 0, len(s.seats))
	for _, id := range s.seats {
		if sl, ok := s.slots[id]; ok {
			players = append(players, sl.view())
		}
	}
	return Snapshot{
		RoomID:     s.cfg.RoomID,
		Status:     s.phase,
		Round:      s.round,
		MinBet:     s.cfg.MinBet,
		MaxBet:     s.cfg.MaxBet,
		MaxPlayers: s.cfg.MaxPlayers,
		Turn:       s.currentTurn(),
		Players:    players,
		Dealer:     s.dealerView(),
	}
}
