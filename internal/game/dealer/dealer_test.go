package dealer

import (
	"testing"

	"BlockJack/internal/game/table"
)

// 工具：统计每张牌出现次数
func countCards(cards []table.Card) map[table.Card]int {
	seen := make(map[table.Card]int)
	for _, c := range cards {
		seen[c]++
	}
	return seen
}

func TestNewShoe(t *testing.T) {
	s := NewShoe(6, 1)

	if s.Remaining() != 6*52 {
		t.Fatalf("expected %d cards, got %d", 6*52, s.Remaining())
	}
	counts := countCards(s.cards)
	if len(counts) != 52 {
		t.Fatalf("expected 52 distinct cards, got %d", len(counts))
	}
	for c, n := range counts {
		if n != 6 {
			t.Fatalf("card %s appears %d times, want 6", c, n)
		}
	}
}

func TestNewShoeDefaultsToOneDeck(t *testing.T) {
	s := NewShoe(0, 1)
	if s.Capacity() != 52 {
		t.Fatalf("expected capacity 52, got %d", s.Capacity())
	}
}

func TestShuffleIsSeeded(t *testing.T) {
	s1 := NewShoe(2, 42)
	s2 := NewShoe(2, 42)
	for i := range s1.cards {
		if s1.cards[i] != s2.cards[i] {
			t.Fatalf("expected identical shoes for same seed")
		}
	}

	s3 := NewShoe(2, 99)
	diff := false
	for i := range s1.cards {
		if s1.cards[i] != s3.cards[i] {
			diff = true
			break
		}
	}
	if !diff {
		t.Fatalf("expected shoe with different seed to differ")
	}
}

func TestNeedsReshuffle(t *testing.T) {
	s := NewShoe(1, 3)
	// 52 张的 1/4 是 13，剩 13 张时还不需要重洗
	for s.Remaining() > 13 {
		s.Draw()
	}
	if s.NeedsReshuffle() {
		t.Fatalf("13 of 52 remaining should not need reshuffle")
	}
	s.Draw()
	if !s.NeedsReshuffle() {
		t.Fatalf("12 of 52 remaining should need reshuffle")
	}

	s.Reshuffle()
	if s.Remaining() != 52 || s.NeedsReshuffle() {
		t.Fatalf("reshuffle should refill the shoe, got %d", s.Remaining())
	}
}

func TestDrawRefillsEmptyShoe(t *testing.T) {
	s := NewShoe(1, 5)
	for i := 0; i < 52; i++ {
		s.Draw()
	}
	card := s.Draw()
	if card.Rank < 2 || card.Rank > table.Ace || card.Suit < 0 || card.Suit > 3 {
		t.Fatalf("invalid card returned after refill: %+v", card)
	}
	if s.Remaining() != 51 {
		t.Fatalf("expected 51 after refill and draw, got %d", s.Remaining())
	}
}
