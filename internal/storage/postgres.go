package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	max_players   INT NOT NULL,
	min_bet       BIGINT NOT NULL,
	max_bet       BIGINT NOT NULL,
	visibility    TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	created_by    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS game_sessions (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ,
	total_rounds INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS session_players (
	session_id      TEXT NOT NULL REFERENCES game_sessions(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	rounds_played   INT NOT NULL,
	rounds_won      INT NOT NULL,
	rounds_lost     INT NOT NULL,
	rounds_pushed   INT NOT NULL,
	initial_balance BIGINT NOT NULL,
	current_balance BIGINT NOT NULL,
	PRIMARY KEY (session_id, user_id)
);

CREATE TABLE IF NOT EXISTS game_history (
	id           BIGSERIAL PRIMARY KEY,
	session_id   TEXT NOT NULL,
	room_id      TEXT NOT NULL,
	sequence     INT NOT NULL,
	round        INT NOT NULL,
	dealer_hand  TEXT[] NOT NULL,
	dealer_value INT NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, sequence)
);

CREATE TABLE IF NOT EXISTS round_players (
	history_id BIGINT NOT NULL REFERENCES game_history(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	hand       TEXT[] NOT NULL,
	hand_value INT NOT NULL,
	bet        BIGINT NOT NULL,
	result     TEXT NOT NULL,
	payout     BIGINT NOT NULL,
	balance    BIGINT NOT NULL,
	PRIMARY KEY (history_id, user_id)
);
CREATE INDEX IF NOT EXISTS round_players_user_idx ON round_players (user_id);

CREATE TABLE IF NOT EXISTS rankings (
	user_id  TEXT PRIMARY KEY,
	games    INT NOT NULL DEFAULT 0,
	wins     INT NOT NULL DEFAULT 0,
	losses   INT NOT NULL DEFAULT 0,
	profit   BIGINT NOT NULL DEFAULT 0,
	win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	rank     INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS applied_operations (
	id         TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// OpenPostgres 只建连接池，不连库；库不可达由 Gate 判为降级，启动不受影响
func OpenPostgres(dsn string, maxOpen int) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

type PostgresStore struct {
	db *sql.DB

	mu       sync.Mutex
	migrated atomic.Bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate 建表，可重复执行
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return classify(err)
}

// Ping 第一次连通时顺带建表；建表失败也算不可用，下一次 Ping 重试
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	if s.migrated.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrated.Load() {
		return nil
	}
	if err := s.Migrate(ctx); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}
	s.migrated.Store(true)
	return nil
}

// Migrated 表结构是否已就绪
func (s *PostgresStore) Migrated() bool {
	return s.migrated.Load()
}

func (s *PostgresStore) CreateRoom(ctx context.Context, room Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, max_players, min_bet, max_bet, visibility, password_hash, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		room.ID, room.Name, room.MaxPlayers, room.MinBet, room.MaxBet,
		room.Visibility, room.PasswordHash, room.CreatedBy, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("create room %s: %w", room.ID, classify(err))
	}
	return nil
}

// DeleteRoom 软删除，已删除或不存在都视为成功
func (s *PostgresStore) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, classify(err))
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, max_players, min_bet, max_bet, visibility, password_hash, created_by, created_at
		FROM rooms WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&r.ID, &r.Name, &r.MaxPlayers, &r.MinBet, &r.MaxBet,
			&r.Visibility, &r.PasswordHash, &r.CreatedBy, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("get room %s: %w", id, classify(err))
	}
	return r, nil
}

func (s *PostgresStore) SaveGameHistory(ctx context.Context, h GameHistory) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		var historyID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO game_history (session_id, room_id, sequence, round, dealer_hand, dealer_value, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, sequence) DO NOTHING
			RETURNING id`,
			h.SessionID, h.RoomID, h.Sequence, h.Round,
			pq.Array(h.DealerHand), h.DealerValue, h.FinishedAt).Scan(&historyID)
		if errors.Is(err, sql.ErrNoRows) {
			// 已经写过
			return nil
		}
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO round_players (history_id, user_id, hand, hand_value, bet, result, payout, balance)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range h.Players {
			if _, err := stmt.ExecContext(ctx, historyID, p.UserID, pq.Array(p.Hand),
				p.Value, p.Bet, p.Result, p.Payout, p.Balance); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) SaveSession(ctx context.Context, sum SessionSummary) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO game_sessions AS g (id, room_id, started_at, finished_at, total_rounds)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				finished_at  = COALESCE(EXCLUDED.finished_at, g.finished_at),
				total_rounds = EXCLUDED.total_rounds
			WHERE g.total_rounds < EXCLUDED.total_rounds
			   OR (g.total_rounds = EXCLUDED.total_rounds AND g.finished_at IS NULL)`,
			sum.ID, sum.RoomID, sum.StartedAt, sum.FinishedAt, sum.TotalRounds)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// 已有更新的快照
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO session_players AS p (session_id, user_id, name, rounds_played, rounds_won,
				rounds_lost, rounds_pushed, initial_balance, current_balance)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (session_id, user_id) DO UPDATE SET
				name            = EXCLUDED.name,
				rounds_played   = EXCLUDED.rounds_played,
				rounds_won      = EXCLUDED.rounds_won,
				rounds_lost     = EXCLUDED.rounds_lost,
				rounds_pushed   = EXCLUDED.rounds_pushed,
				current_balance = EXCLUDED.current_balance`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range sum.Players {
			if _, err := stmt.ExecContext(ctx, sum.ID, p.UserID, p.Name, p.RoundsPlayed, p.RoundsWon,
				p.RoundsLost, p.RoundsPushed, p.InitialBalance, p.CurrentBalance); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) UpdateRankings(ctx context.Context, batchID string, deltas []RankingDelta) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO applied_operations (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, batchID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		for _, d := range deltas {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO rankings AS r (user_id, games, wins, losses, profit, win_rate)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (user_id) DO UPDATE SET
					games    = r.games + EXCLUDED.games,
					wins     = r.wins + EXCLUDED.wins,
					losses   = r.losses + EXCLUDED.losses,
					profit   = r.profit + EXCLUDED.profit,
					win_rate = COALESCE((r.wins + EXCLUDED.wins)::float8 / NULLIF(r.games + EXCLUDED.games, 0), 0)`,
				d.UserID, d.Games, d.Wins, d.Losses, d.Profit, winRate(d.Wins, d.Games))
			if err != nil {
				return err
			}
		}

		// rank 不单独设置，每批之后全量重算
		_, err = tx.ExecContext(ctx, `
			UPDATE rankings r SET rank = x.pos
			FROM (
				SELECT user_id, ROW_NUMBER() OVER (ORDER BY profit DESC, win_rate DESC, user_id) AS pos
				FROM rankings
			) x
			WHERE r.user_id = x.user_id AND r.rank <> x.pos`)
		return err
	})
}

func (s *PostgresStore) UserHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.session_id, h.room_id, h.round, p.hand, p.hand_value, h.dealer_value,
		       p.bet, p.result, p.payout, h.finished_at
		FROM round_players p
		JOIN game_history h ON h.id = p.history_id
		WHERE p.user_id = $1
		ORDER BY h.finished_at DESC, h.id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("user history %s: %w", userID, classify(err))
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.SessionID, &e.RoomID, &e.Round, pq.Array(&e.Hand), &e.Value,
			&e.DealerValue, &e.Bet, &e.Result, &e.Payout, &e.FinishedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}

func (s *PostgresStore) GlobalRanking(ctx context.Context, limit int) ([]Ranking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, games, wins, losses, profit, win_rate, rank
		FROM rankings ORDER BY rank LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("global ranking: %w", classify(err))
	}
	defer rows.Close()

	out := make([]Ranking, 0, limit)
	for rows.Next() {
		var r Ranking
		if err := rows.Scan(&r.UserID, &r.Games, &r.Wins, &r.Losses, &r.Profit, &r.WinRate, &r.Rank); err != nil {
			return nil, classify(err)
		}
		out = append(out, r)
	}
	return out, classify(rows.Err())
}

func (s *PostgresStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	return classify(tx.Commit())
}

// classify 把连接类错误包装成 ErrUnavailable，其余原样返回
func classify(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08 connection exception, 53 insufficient resources, 57P operator intervention
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") || strings.HasPrefix(code, "57P")
	}
	return false
}
