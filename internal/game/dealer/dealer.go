package dealer

import (
	"math/rand"

	"BlockJack/internal/game/table"
)

const (
	cardsPerDeck = 52
	// 剩余牌少于满靴的 1/4 时重新洗牌
	reshuffleDivisor = 4
)

// Shoe 多副牌的牌靴，只负责洗牌与发牌（无规则判断）
type Shoe struct {
	decks int
	cards []table.Card
	rnd   *rand.Rand
}

func NewShoe(decks int, seed int64) *Shoe {
	if decks <= 0 {
		decks = 1
	}
	s := &Shoe{
		decks: decks,
		rnd:   rand.New(rand.NewSource(seed)),
	}
	s.Reshuffle()
	return s
}

// Reshuffle 装满整靴并洗牌
func (s *Shoe) Reshuffle() {
	s.cards = s.makeShoe()
	s.rnd.Shuffle(len(s.cards), func(i, j int) {
		s.cards[i], s.cards[j] = s.cards[j], s.cards[i]
	})
}

func (s *Shoe) makeShoe() []table.Card {
	cards := make([]table.Card, 0, s.Capacity())
	for d := 0; d < s.decks; d++ {
		for suit := 0; suit < 4; suit++ {
			for rank := 2; rank <= table.Ace; rank++ {
				cards = append(cards, table.NewCard(suit, rank))
			}
		}
	}
	return cards
}

func (s *Shoe) Capacity() int {
	return s.decks * cardsPerDeck
}

func (s *Shoe) Remaining() int {
	return len(s.cards)
}

func (s *Shoe) NeedsReshuffle() bool {
	return len(s.cards)*reshuffleDivisor < s.Capacity()
}

// Draw 发一张牌；牌靴空了会先补满重洗
func (s *Shoe) Draw() table.Card {
	if len(s.cards) == 0 {
		s.Reshuffle()
	}
	c := s.cards[0]
	s.cards = s.cards[1:]
	return c
}
