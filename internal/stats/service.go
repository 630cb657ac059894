package stats

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"BlockJack/internal/game/engine"
	"BlockJack/internal/storage"
)

const (
	SourceDurable  = "durable"
	SourceDegraded = "degraded"

	DefaultLimit = 20
	MaxLimit     = 100
)

// Gate 持久层健康状态，bridge.Gate 实现
type Gate interface {
	Healthy() bool
	ReportFailure(err error)
}

// Records 本进程内在线和最近回收的 session 记录，manager.Registry 实现
type Records interface {
	Records() []engine.GameSessionRecord
}

// SessionEntry 降级模式下的历史条目，只有 session 粒度的汇总
type SessionEntry struct {
	SessionID      string     `json:"sessionId"`
	RoomID         string     `json:"roomId"`
	RoundsPlayed   int        `json:"roundsPlayed"`
	RoundsWon      int        `json:"roundsWon"`
	RoundsLost     int        `json:"roundsLost"`
	RoundsPushed   int        `json:"roundsPushed"`
	InitialBalance int64      `json:"initialBalance"`
	CurrentBalance int64      `json:"currentBalance"`
	Profit         int64      `json:"profit"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

type HistoryResponse struct {
	Source   string                 `json:"source"`
	Partial  bool                   `json:"partial"`
	UserID   string                 `json:"userId"`
	Rounds   []storage.HistoryEntry `json:"rounds,omitempty"`
	Sessions []SessionEntry         `json:"sessions,omitempty"`
}

type RankingResponse struct {
	Source   string            `json:"source"`
	Partial  bool              `json:"partial"`
	Rankings []storage.Ranking `json:"rankings"`
}

type Service struct {
	store   storage.Store
	gate    Gate
	records Records
	log     *log.Logger
}

func NewService(store storage.Store, gate Gate, records Records, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, gate: gate, records: records, log: logger.WithPrefix("stats")}
}

func clamp(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// UserHistory 持久层健康时查库；不健康或查询遇到连接错误时改用本地记录
func (s *Service) UserHistory(ctx context.Context, userID string, limit int) (HistoryResponse, error) {
	limit = clamp(limit)
	if s.gate.Healthy() {
		rounds, err := s.store.UserHistory(ctx, userID, limit)
		if err == nil {
			return HistoryResponse{Source: SourceDurable, UserID: userID, Rounds: rounds}, nil
		}
		if !errors.Is(err, storage.ErrUnavailable) {
			return HistoryResponse{}, err
		}
		s.gate.ReportFailure(err)
		s.log.Warn("history read failed, serving local records", "user", userID, "err", err)
	}
	return HistoryResponse{
		Source:   SourceDegraded,
		Partial:  true,
		UserID:   userID,
		Sessions: localHistory(s.records.Records(), userID, limit),
	}, nil
}

func (s *Service) GlobalRanking(ctx context.Context, limit int) (RankingResponse, error) {
	limit = clamp(limit)
	if s.gate.Healthy() {
		rankings, err := s.store.GlobalRanking(ctx, limit)
		if err == nil {
			return RankingResponse{Source: SourceDurable, Rankings: rankings}, nil
		}
		if !errors.Is(err, storage.ErrUnavailable) {
			return RankingResponse{}, err
		}
		s.gate.ReportFailure(err)
		s.log.Warn("ranking read failed, serving local records", "err", err)
	}
	return RankingResponse{
		Source:   SourceDegraded,
		Partial:  true,
		Rankings: localRanking(s.records.Records(), limit),
	}, nil
}

// localHistory 按最近更新时间倒序
func localHistory(records []engine.GameSessionRecord, userID string, limit int) []SessionEntry {
	records = lo.UniqBy(records, func(r engine.GameSessionRecord) string { return r.ID })
	out := lo.FlatMap(records, func(r engine.GameSessionRecord, _ int) []SessionEntry {
		mine := lo.Filter(r.Players, func(p engine.PlayerSessionRecord, _ int) bool { return p.UserID == userID })
		return lo.Map(mine, func(p engine.PlayerSessionRecord, _ int) SessionEntry {
			return SessionEntry{
				SessionID:      r.ID,
				RoomID:         r.RoomID,
				RoundsPlayed:   p.RoundsPlayed,
				RoundsWon:      p.RoundsWon,
				RoundsLost:     p.RoundsLost,
				RoundsPushed:   p.RoundsPushed,
				InitialBalance: p.InitialBalance,
				CurrentBalance: p.CurrentBalance,
				Profit:         p.CurrentBalance - p.InitialBalance,
				UpdatedAt:      p.UpdatedAt,
				FinishedAt:     r.FinishedAt,
			}
		})
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// localRanking 按玩家聚合，收益优先、胜率其次；没打过牌的不上榜
func localRanking(records []engine.GameSessionRecord, limit int) []storage.Ranking {
	records = lo.UniqBy(records, func(r engine.GameSessionRecord) string { return r.ID })
	totals := make(map[string]*storage.Ranking)
	for _, r := range records {
		for _, p := range r.Players {
			t, ok := totals[p.UserID]
			if !ok {
				t = &storage.Ranking{UserID: p.UserID}
				totals[p.UserID] = t
			}
			t.Games += p.RoundsPlayed
			t.Wins += p.RoundsWon
			t.Losses += p.RoundsLost
			t.Profit += p.CurrentBalance - p.InitialBalance
		}
	}

	out := lo.FilterMap(lo.Values(totals), func(t *storage.Ranking, _ int) (storage.Ranking, bool) {
		if t.Games == 0 {
			return storage.Ranking{}, false
		}
		t.WinRate = float64(t.Wins) / float64(t.Games)
		return *t, true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Profit != out[j].Profit {
			return out[i].Profit > out[j].Profit
		}
		if out[i].WinRate != out[j].WinRate {
			return out[i].WinRate > out[j].WinRate
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
