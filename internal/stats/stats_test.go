package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BlockJack/internal/bridge"
	"BlockJack/internal/game/engine"
	"BlockJack/internal/storage"
)

type fakeRecords []engine.GameSessionRecord

func (f fakeRecords) Records() []engine.GameSessionRecord { return f }

func player(id string, played, won, lost int, initial, current int64, at time.Time) engine.PlayerSessionRecord {
	return engine.PlayerSessionRecord{
		UserID: id, RoundsPlayed: played, RoundsWon: won, RoundsLost: lost,
		InitialBalance: initial, CurrentBalance: current, UpdatedAt: at,
	}
}

func sampleRecords() fakeRecords {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return fakeRecords{
		{ID: "s1", RoomID: "r1", Players: []engine.PlayerSessionRecord{
			player("alice", 4, 3, 1, 1000, 1200, t0),
			player("bob", 4, 1, 3, 1000, 800, t0),
			player("idle", 0, 0, 0, 1000, 1000, t0),
		}},
		{ID: "s2", RoomID: "r2", Players: []engine.PlayerSessionRecord{
			player("alice", 2, 0, 2, 1000, 900, t0.Add(time.Hour)),
			player("carol", 2, 2, 0, 1000, 1100, t0.Add(time.Hour)),
		}},
		// 同一 session 出现两次只算一次
		{ID: "s2", RoomID: "r2", Players: []engine.PlayerSessionRecord{
			player("alice", 2, 0, 2, 1000, 900, t0.Add(time.Hour)),
			player("carol", 2, 2, 0, 1000, 1100, t0.Add(time.Hour)),
		}},
	}
}

func degradedService(t *testing.T) *Service {
	store := storage.NewMemoryStore()
	store.SetDown(true)
	gate := bridge.NewGate(store, time.Second, 2, nil)
	gate.Check(context.Background())
	gate.Check(context.Background())
	require.False(t, gate.Healthy())
	return NewService(store, gate, sampleRecords(), nil)
}

func TestDegradedRanking(t *testing.T) {
	svc := degradedService(t)
	resp, err := svc.GlobalRanking(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, SourceDegraded, resp.Source)
	assert.True(t, resp.Partial)

	// alice 与 carol 同为 +100，胜率 carol 更高
	require.Len(t, resp.Rankings, 3)
	assert.Equal(t, storage.Ranking{UserID: "carol", Games: 2, Wins: 2, Profit: 100, WinRate: 1, Rank: 1}, resp.Rankings[0])
	assert.Equal(t, storage.Ranking{UserID: "alice", Games: 6, Wins: 3, Losses: 3, Profit: 100, WinRate: 0.5, Rank: 2}, resp.Rankings[1])
	assert.Equal(t, "bob", resp.Rankings[2].UserID)
	assert.Equal(t, int64(-200), resp.Rankings[2].Profit)
	assert.Equal(t, 3, resp.Rankings[2].Rank)

	resp, err = svc.GlobalRanking(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, resp.Rankings, 1)
}

func TestDegradedHistory(t *testing.T) {
	svc := degradedService(t)
	resp, err := svc.UserHistory(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, SourceDegraded, resp.Source)
	assert.True(t, resp.Partial)
	assert.Empty(t, resp.Rounds)
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, "s2", resp.Sessions[0].SessionID)
	assert.Equal(t, int64(-100), resp.Sessions[0].Profit)
	assert.Equal(t, "s1", resp.Sessions[1].SessionID)
	assert.Equal(t, int64(200), resp.Sessions[1].Profit)
}

func TestDurableReads(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gate := bridge.NewGate(store, time.Second, 2, nil)
	svc := NewService(store, gate, sampleRecords(), nil)

	require.NoError(t, store.SaveGameHistory(ctx, storage.GameHistory{
		SessionID: "s9", RoomID: "r9", Sequence: 1, Round: 1, DealerValue: 20,
		Players: []storage.PlayerResult{{UserID: "dave", Value: 19, Bet: 10, Result: "lose"}},
	}))
	require.NoError(t, store.UpdateRankings(ctx, "b1", []storage.RankingDelta{{UserID: "dave", Games: 1, Losses: 1, Profit: -10}}))

	hist, err := svc.UserHistory(ctx, "dave", 0)
	require.NoError(t, err)
	assert.Equal(t, SourceDurable, hist.Source)
	assert.False(t, hist.Partial)
	require.Len(t, hist.Rounds, 1)
	assert.Equal(t, "r9", hist.Rounds[0].RoomID)

	rank, err := svc.GlobalRanking(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, SourceDurable, rank.Source)
	require.Len(t, rank.Rankings, 1)
	assert.Equal(t, "dave", rank.Rankings[0].UserID)
}

func TestUnavailableReadFallsBack(t *testing.T) {
	store := storage.NewMemoryStore()
	gate := bridge.NewGate(store, time.Second, 2, nil)
	svc := NewService(store, gate, sampleRecords(), nil)

	store.FailNext(1, storage.ErrUnavailable)
	resp, err := svc.GlobalRanking(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, SourceDegraded, resp.Source)
	// 一次失败还不足以切换
	assert.True(t, gate.Healthy())

	store.FailNext(1, assert.AnError)
	_, err = svc.GlobalRanking(context.Background(), 0)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(degradedService(t)).Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/rankings?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rank RankingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rank))
	assert.Equal(t, "degraded", rank.Source)
	assert.Len(t, rank.Rankings, 2)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/users/bob/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"partial":true`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/rankings?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
