// Package events is the per-room publish/subscribe layer between game
// sessions and whatever transport delivers events to players.
package events

// Server → client event names.
const (
	RoomJoined       = "room-joined"
	RoomLeft         = "room-left"
	GameState        = "game-state"
	BettingPhase     = "betting-phase"
	BetPlaced        = "bet-placed"
	BetPlacedSuccess = "bet-placed-success"
	CardsDealt       = "cards-dealt"
	PlayerTurn       = "player-turn"
	CardDealt        = "card-dealt"
	PlayerBusted     = "player-busted"
	PlayerStood      = "player-stood"
	DealerReveal     = "dealer-reveal"
	DealerHit        = "dealer-hit"
	RoundFinished    = "round-finished"
	Error            = "error"
)

type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Publisher fans an event out to every subscriber of a room.
type Publisher interface {
	Publish(roomID string, ev Event)
}
