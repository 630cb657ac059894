package table

import (
	"fmt"
)

const (
	Jack  = 11
	Queen = 12
	King  = 13
	Ace   = 14
)

// Card 定义 (suit 0-3, rank 2-14)。Value 是牌面点数，A 记 11，JQK 记 10，
// 软 A 的降级只在 HandValue 里做，不改牌本身
type Card struct {
	Suit  int `json:"suit"`
	Rank  int `json:"rank"`
	Value int `json:"value"`
}

func NewCard(suit, rank int) Card {
	return Card{Suit: suit, Rank: rank, Value: rankValue(rank)}
}

func rankValue(rank int) int {
	switch {
	case rank == Ace:
		return 11
	case rank >= 10:
		return 10
	default:
		return rank
	}
}

func (c Card) IsAce() bool {
	return c.Rank == Ace
}

func (c Card) String() string {
	return fmtCard(c)
}

func fmtCard(c Card) string {
	suits := []string{"♣", "♦", "♥", "♠"}
	ranks := map[int]string{
		Jack:  "J",
		Queen: "Q",
		King:  "K",
		Ace:   "A",
	}
	rankStr, ok := ranks[c.Rank]
	if !ok {
		rankStr = fmt.Sprintf("%d", c.Rank)
	}
	suitStr := "?"
	if c.Suit >= 0 && c.Suit < len(suits) {
		suitStr = suits[c.Suit]
	}
	return rankStr + suitStr
}
