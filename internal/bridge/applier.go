package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"BlockJack/internal/storage"
)

type Applier interface {
	Apply(ctx context.Context, msg *Message) error
}

type DeleteRoom struct {
	ID string `json:"id"`
}

// GameHistory save-game-history 的负载：一局结算和/或房间汇总
type GameHistory struct {
	Round   *storage.GameHistory    `json:"round,omitempty"`
	Session *storage.SessionSummary `json:"session,omitempty"`
}

type RankingUpdate struct {
	Deltas []storage.RankingDelta `json:"deltas"`
}

// StoreApplier 把消息落到持久层
type StoreApplier struct {
	store storage.Store
}

func NewStoreApplier(store storage.Store) *StoreApplier {
	return &StoreApplier{store: store}
}

func (a *StoreApplier) Apply(ctx context.Context, msg *Message) error {
	switch msg.Operation {
	case OpCreateRoom:
		var room storage.Room
		if err := decode(msg, &room); err != nil {
			return err
		}
		return a.store.CreateRoom(ctx, room)
	case OpDeleteRoom:
		var req DeleteRoom
		if err := decode(msg, &req); err != nil {
			return err
		}
		return a.store.DeleteRoom(ctx, req.ID)
	case OpSaveGameHistory:
		var h GameHistory
		if err := decode(msg, &h); err != nil {
			return err
		}
		if h.Round != nil {
			if err := a.store.SaveGameHistory(ctx, *h.Round); err != nil {
				return err
			}
		}
		if h.Session != nil {
			return a.store.SaveSession(ctx, *h.Session)
		}
		return nil
	case OpUpdateRankings:
		var req RankingUpdate
		if err := decode(msg, &req); err != nil {
			return err
		}
		// 消息 ID 作为批次号，重复投递只生效一次
		return a.store.UpdateRankings(ctx, msg.ID, req.Deltas)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOperation, msg.Operation)
	}
}

func decode(msg *Message, v any) error {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Operation, err)
	}
	return nil
}
