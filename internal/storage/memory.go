package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 本地运行和测试用，行为与 PostgresStore 一致，可以注入故障
type MemoryStore struct {
	mu       sync.Mutex
	rooms    map[string]Room
	history  []GameHistory
	seen     map[historyKey]struct{}
	rankings map[string]*Ranking
	applied  map[string]struct{}
	sessions map[string]SessionSummary

	down     bool
	failNext int
	failErr  error
}

type historyKey struct {
	sessionID string
	sequence  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]Room),
		seen:     make(map[historyKey]struct{}),
		rankings: make(map[string]*Ranking),
		applied:  make(map[string]struct{}),
		sessions: make(map[string]SessionSummary),
	}
}

// SetDown 模拟数据库不可达
func (m *MemoryStore) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// FailNext 接下来 n 次操作返回 err
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

func (m *MemoryStore) fault() error {
	if m.down {
		return ErrUnavailable
	}
	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	return nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryStore) CreateRoom(_ context.Context, room Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return err
	}
	if _, ok := m.rooms[room.ID]; !ok {
		m.rooms[room.ID] = room
	}
	return nil
}

func (m *MemoryStore) DeleteRoom(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return err
	}
	delete(m.rooms, id)
	return nil
}

func (m *MemoryStore) GetRoom(_ context.Context, id string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return Room{}, err
	}
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return r, nil
}

// Rooms 当前已写入的房间数
func (m *MemoryStore) Rooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *MemoryStore) SaveGameHistory(_ context.Context, h GameHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return err
	}
	key := historyKey{h.SessionID, h.Sequence}
	if _, ok := m.seen[key]; ok {
		return nil
	}
	m.seen[key] = struct{}{}
	m.history = append(m.history, h)
	return nil
}

func (m *MemoryStore) SaveSession(_ context.Context, sum SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return err
	}
	old, ok := m.sessions[sum.ID]
	if ok && (old.TotalRounds > sum.TotalRounds || (old.TotalRounds == sum.TotalRounds && old.FinishedAt != nil)) {
		return nil
	}
	m.sessions[sum.ID] = sum
	return nil
}

// Session 测试用
func (m *MemoryStore) Session(id string) (SessionSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, ok := m.sessions[id]
	return sum, ok
}

func (m *MemoryStore) UpdateRankings(_ context.Context, batchID string, deltas []RankingDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return err
	}
	if _, ok := m.applied[batchID]; ok {
		return nil
	}
	m.applied[batchID] = struct{}{}

	for _, d := range deltas {
		r, ok := m.rankings[d.UserID]
		if !ok {
			r = &Ranking{UserID: d.UserID}
			m.rankings[d.UserID] = r
		}
		r.Games += d.Games
		r.Wins += d.Wins
		r.Losses += d.Losses
		r.Profit += d.Profit
		r.WinRate = winRate(r.Wins, r.Games)
	}
	m.rerank()
	return nil
}

func (m *MemoryStore) rerank() {
	all := make([]*Ranking, 0, len(m.rankings))
	for _, r := range m.rankings {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Profit != all[j].Profit {
			return all[i].Profit > all[j].Profit
		}
		if all[i].WinRate != all[j].WinRate {
			return all[i].WinRate > all[j].WinRate
		}
		return all[i].UserID < all[j].UserID
	})
	for i, r := range all {
		r.Rank = i + 1
	}
}

func (m *MemoryStore) UserHistory(_ context.Context, userID string, limit int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		h := m.history[i]
		for _, p := range h.Players {
			if p.UserID != userID {
				continue
			}
			out = append(out, HistoryEntry{
				SessionID:   h.SessionID,
				RoomID:      h.RoomID,
				Round:       h.Round,
				Hand:        p.Hand,
				Value:       p.Value,
				DealerValue: h.DealerValue,
				Bet:         p.Bet,
				Result:      p.Result,
				Payout:      p.Payout,
				FinishedAt:  h.FinishedAt,
			})
		}
	}
	return out, nil
}

func (m *MemoryStore) GlobalRanking(_ context.Context, limit int) ([]Ranking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(); err != nil {
		return nil, err
	}
	out := make([]Ranking, 0, len(m.rankings))
	for _, r := range m.rankings {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
