package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreIdempotentWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	room := Room{ID: "r1", Name: "first", MaxPlayers: 4, MinBet: 10, MaxBet: 100, Visibility: "public"}
	require.NoError(t, s.CreateRoom(ctx, room))
	room.Name = "second"
	require.NoError(t, s.CreateRoom(ctx, room))
	got, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	require.NoError(t, s.DeleteRoom(ctx, "r1"))
	require.NoError(t, s.DeleteRoom(ctx, "r1"))
	_, err = s.GetRoom(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	h := GameHistory{
		SessionID: "s1", RoomID: "r1", Sequence: 1, Round: 1, DealerValue: 18,
		Players:    []PlayerResult{{UserID: "u1", Bet: 100, Result: "win", Payout: 200, Value: 19}},
		FinishedAt: time.Now(),
	}
	require.NoError(t, s.SaveGameHistory(ctx, h))
	require.NoError(t, s.SaveGameHistory(ctx, h))
	entries, err := s.UserHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(200), entries[0].Payout)
}

func TestMemoryStoreRankingRecomputed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpdateRankings(ctx, "b1", []RankingDelta{
		{UserID: "u1", Games: 1, Wins: 1, Profit: 100},
		{UserID: "u2", Games: 1, Losses: 1, Profit: -100},
	}))
	// 同一批次重复投递不生效
	require.NoError(t, s.UpdateRankings(ctx, "b1", []RankingDelta{
		{UserID: "u1", Games: 1, Wins: 1, Profit: 100},
	}))
	require.NoError(t, s.UpdateRankings(ctx, "b2", []RankingDelta{
		{UserID: "u2", Games: 2, Wins: 2, Profit: 300},
	}))

	ranks, err := s.GlobalRanking(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	assert.Equal(t, "u2", ranks[0].UserID)
	assert.Equal(t, 1, ranks[0].Rank)
	assert.Equal(t, int64(200), ranks[0].Profit)
	assert.InDelta(t, 2.0/3.0, ranks[0].WinRate, 1e-9)
	assert.Equal(t, "u1", ranks[1].UserID)
	assert.Equal(t, 1, ranks[1].Games)
	assert.Equal(t, 2, ranks[1].Rank)
}

func TestMemoryStoreFaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.SetDown(true)
	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
	assert.ErrorIs(t, s.CreateRoom(ctx, Room{ID: "r1"}), ErrUnavailable)
	s.SetDown(false)

	boom := errors.New("constraint")
	s.FailNext(1, boom)
	assert.ErrorIs(t, s.CreateRoom(ctx, Room{ID: "r1"}), boom)
	assert.NoError(t, s.CreateRoom(ctx, Room{ID: "r1"}))
	assert.Equal(t, 1, s.Rooms())
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))

	logic := &pq.Error{Code: "23505"}
	assert.NotErrorIs(t, classify(logic), ErrUnavailable)

	conn := &pq.Error{Code: "08006"}
	assert.ErrorIs(t, classify(conn), ErrUnavailable)

	shutdown := &pq.Error{Code: "57P01"}
	assert.ErrorIs(t, classify(fmt.Errorf("exec: %w", shutdown)), ErrUnavailable)

	var opErr error = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.ErrorIs(t, classify(opErr), ErrUnavailable)

	wrapped := classify(conn)
	assert.Equal(t, wrapped, classify(wrapped))
}

func TestPostgresOpensWithoutReachableDatabase(t *testing.T) {
	db, err := OpenPostgres("postgres://bj:bj@127.0.0.1:1/bj?sslmode=disable&connect_timeout=1", 2)
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
	assert.False(t, s.Migrated())

	_, err = OpenPostgres("postgres://%zz", 2)
	assert.Error(t, err)
}
