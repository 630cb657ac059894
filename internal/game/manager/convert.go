package manager

import (
	"github.com/samber/lo"

	"BlockJack/internal/game/engine"
	"BlockJack/internal/game/table"
	"BlockJack/internal/storage"
)

func cardStrings(cards []table.Card) []string {
	return lo.Map(cards, func(c table.Card, _ int) string { return c.String() })
}

func toHistory(rr engine.RoundRecord) storage.GameHistory {
	return storage.GameHistory{
		SessionID:   rr.SessionID,
		RoomID:      rr.RoomID,
		Sequence:    rr.Sequence,
		Round:       rr.Round,
		DealerHand:  cardStrings(rr.DealerHand),
		DealerValue: rr.DealerValue,
		FinishedAt:  rr.FinishedAt,
		Players: lo.Map(rr.Players, func(p engine.RoundResult, _ int) storage.PlayerResult {
			return storage.PlayerResult{
				UserID:  p.UserID,
				Hand:    cardStrings(p.Hand),
				Value:   p.Value,
				Bet:     p.Bet,
				Result:  string(p.Result),
				Payout:  p.Payout,
				Balance: p.Balance,
			}
		}),
	}
}

func toSummary(rec engine.GameSessionRecord) storage.SessionSummary {
	return storage.SessionSummary{
		ID:          rec.ID,
		RoomID:      rec.RoomID,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		TotalRounds: rec.TotalRounds,
		Players: lo.Map(rec.Players, func(p engine.PlayerSessionRecord, _ int) storage.SessionPlayer {
			return storage.SessionPlayer{
				UserID:         p.UserID,
				Name:           p.Name,
				RoundsPlayed:   p.RoundsPlayed,
				RoundsWon:      p.RoundsWon,
				RoundsLost:     p.RoundsLost,
				RoundsPushed:   p.RoundsPushed,
				InitialBalance: p.InitialBalance,
				CurrentBalance: p.CurrentBalance,
			}
		}),
	}
}

// toDeltas 一局结算对排行榜的增量，profit 为派彩减下注
func toDeltas(rr engine.RoundRecord) []storage.RankingDelta {
	return lo.Map(rr.Players, func(p engine.RoundResult, _ int) storage.RankingDelta {
		d := storage.RankingDelta{UserID: p.UserID, Games: 1, Profit: p.Payout - p.Bet}
		switch {
		case p.Result.Won():
			d.Wins = 1
		case p.Result.Lost():
			d.Losses = 1
		}
		return d
	})
}
