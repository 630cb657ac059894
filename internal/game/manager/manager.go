package manager

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zhenjl/cityhash"

	"BlockJack/internal/bridge"
	"BlockJack/internal/events"
	"BlockJack/internal/game/engine"
	"BlockJack/internal/storage"
)

var (
	ErrRoomNotFound  = &engine.CommandError{Code: "ROOM_NOT_FOUND", Message: "room not found"}
	ErrWrongPassword = &engine.CommandError{Code: "WRONG_PASSWORD", Message: "wrong room password"}
	ErrUnknownAction = &engine.CommandError{Code: "UNKNOWN_ACTION", Message: "unknown action"}
)

// Rooms 房间目录：校验房间存在与密码，房间回收时关闭
type Rooms interface {
	Authorize(ctx context.Context, roomID, password string) (storage.Room, error)
	Close(ctx context.Context, roomID string) error
}

// Writer 异步持久化入口，不能阻塞调用方
type Writer interface {
	SubmitAsync(op bridge.Operation, payload any)
}

type Config struct {
	Decks            int
	JoinGrace        time.Duration
	BettingCountdown time.Duration
	TurnTimeout      time.Duration
	DealerPacing     time.Duration
	RoundDelay       time.Duration

	StartingBalance int64
	EvictionGrace   time.Duration
	RetainRecords   int
	RetainFor       time.Duration
	Shards          int
}

// SessionInfo 供列表和降级读使用
type SessionInfo struct {
	ID          string       `json:"id"`
	PlayerCount int          `json:"playerCount"`
	Phase       engine.Phase `json:"phase"`
	Round       int          `json:"round"`
}

const (
	ActionPlaceBet = "place-bet"
	ActionHit      = "hit"
	ActionStand    = "stand"
)

type Command struct {
	Action string
	Amount int64
}

type entry struct {
	roomID  string
	session *engine.Session
	last    atomic.Pointer[engine.GameSessionRecord]

	// 以下字段由所在 shard 的锁保护
	evict    engine.Timer
	evictSeq uint64
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// Registry 按房间管理 Session。房间按 cityhash 分片，任何锁都不跨越阻塞调用
type Registry struct {
	cfg    Config
	rooms  Rooms
	writer Writer
	pub    events.Publisher
	sched  engine.Scheduler
	log    *log.Logger
	shards []*shard

	pmu     sync.Mutex
	players map[string]string // userID → roomID

	rmu      sync.Mutex
	retained []engine.GameSessionRecord
}

func NewRegistry(cfg Config, rooms Rooms, writer Writer, pub events.Publisher, sched engine.Scheduler, logger *log.Logger) *Registry {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.RetainRecords <= 0 {
		cfg.RetainRecords = 256
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = time.Hour
	}
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = 1000
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{
		cfg:     cfg,
		rooms:   rooms,
		writer:  writer,
		pub:     pub,
		sched:   sched,
		log:     logger.WithPrefix("registry"),
		shards:  make([]*shard, cfg.Shards),
		players: make(map[string]string),
	}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shard(roomID string) *shard {
	idx := cityhash.CityHash32([]byte(roomID), uint32(len(roomID))) % uint32(len(r.shards))
	return r.shards[idx]
}

// Join 进入房间；已在其他房间的玩家先离开原房间
func (r *Registry) Join(ctx context.Context, roomID, userID, name, password string) (engine.Snapshot, error) {
	room, err := r.rooms.Authorize(ctx, roomID, password)
	if err != nil {
		return engine.Snapshot{}, err
	}

	if prev, ok := r.roomOf(userID); ok && prev != roomID {
		if err := r.Leave(userID); err != nil && !errors.Is(err, engine.ErrNotInRoom) {
			r.log.Warn("leave previous room failed", "user", userID, "room", prev, "err", err)
		}
	}

	var e *entry
	for attempt := 0; ; attempt++ {
		e = r.acquire(room)
		err = e.session.Join(userID, name, r.cfg.StartingBalance)
		if errors.Is(err, engine.ErrSessionClosed) && attempt == 0 {
			// 刚好被回收或已损坏，换一个新的 session 再试一次
			r.drop(e)
			continue
		}
		if err != nil {
			if e.session.PlayerCount() == 0 {
				r.scheduleEviction(e)
			}
			return engine.Snapshot{}, err
		}
		break
	}

	r.pmu.Lock()
	r.players[userID] = roomID
	r.pmu.Unlock()

	return e.session.Snapshot()
}

// Leave 主动离开或断线
func (r *Registry) Leave(userID string) error {
	r.pmu.Lock()
	roomID, ok := r.players[userID]
	delete(r.players, userID)
	r.pmu.Unlock()
	if !ok {
		return engine.ErrNotInRoom
	}
	e, ok := r.lookup(roomID)
	if !ok {
		return engine.ErrNotInRoom
	}
	return e.session.Leave(userID)
}

// Disconnect 连接断开，等同于离开
func (r *Registry) Disconnect(userID string) {
	if err := r.Leave(userID); err != nil && !errors.Is(err, engine.ErrNotInRoom) {
		r.log.Warn("disconnect", "user", userID, "err", err)
	}
}

func (r *Registry) Command(userID string, cmd Command) error {
	roomID, ok := r.roomOf(userID)
	if !ok {
		return engine.ErrNotInRoom
	}
	e, ok := r.lookup(roomID)
	if !ok {
		return engine.ErrNotInRoom
	}
	switch cmd.Action {
	case ActionPlaceBet:
		return e.session.PlaceBet(userID, cmd.Amount)
	case ActionHit:
		return e.session.Hit(userID)
	case ActionStand:
		return e.session.Stand(userID)
	default:
		return ErrUnknownAction
	}
}

// RoomOf 玩家当前所在房间
func (r *Registry) RoomOf(userID string) (string, bool) {
	return r.roomOf(userID)
}

func (r *Registry) roomOf(userID string) (string, bool) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	roomID, ok := r.players[userID]
	return roomID, ok
}

func (r *Registry) lookup(roomID string) (*entry, bool) {
	sh := r.shard(roomID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.sessions[roomID]
	return e, ok
}

// acquire 取或建 session，并撤销挂起的回收
func (r *Registry) acquire(room storage.Room) *entry {
	sh := r.shard(room.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.sessions[room.ID]; ok {
		if e.evict != nil {
			e.evict.Stop()
			e.evict = nil
		}
		e.evictSeq++
		return e
	}

	e := &entry{roomID: room.ID}
	e.session = engine.NewSession(engine.Config{
		RoomID:           room.ID,
		MinBet:           room.MinBet,
		MaxBet:           room.MaxBet,
		MaxPlayers:       room.MaxPlayers,
		Decks:            r.cfg.Decks,
		JoinGrace:        r.cfg.JoinGrace,
		BettingCountdown: r.cfg.BettingCountdown,
		TurnTimeout:      r.cfg.TurnTimeout,
		DealerPacing:     r.cfg.DealerPacing,
		RoundDelay:       r.cfg.RoundDelay,
	}, r.pub, r.sched,
		engine.WithLogger(r.log),
		engine.WithHooks(engine.Hooks{
			RoundFinished: func(o engine.RoundOutcome) { r.onRoundFinished(e, o) },
			Empty:         func(string) { r.scheduleEviction(e) },
			Broken:        func(_ string, reason any) { r.onBroken(e, reason) },
		}),
	)
	sh.sessions[room.ID] = e
	r.log.Info("session created", "room", room.ID)
	return e
}

// drop 从分片里移除（只移除同一个 entry）
func (r *Registry) drop(e *entry) bool {
	sh := r.shard(e.roomID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.sessions[e.roomID]; !ok || cur != e {
		return false
	}
	if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
	}
	e.evictSeq++
	delete(sh.sessions, e.roomID)
	return true
}

// scheduleEviction 在 session goroutine 上被调用，只做调度
func (r *Registry) scheduleEviction(e *entry) {
	sh := r.shard(e.roomID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.sessions[e.roomID]; !ok || cur != e {
		return
	}
	if e.evict != nil {
		e.evict.Stop()
	}
	e.evictSeq++
	seq := e.evictSeq
	e.evict = r.sched.AfterFunc(r.cfg.EvictionGrace, func() { r.evict(e, seq) })
}

func (r *Registry) evict(e *entry, seq uint64) {
	sh := r.shard(e.roomID)
	sh.mu.Lock()
	cur, ok := sh.sessions[e.roomID]
	if !ok || cur != e || e.evictSeq != seq || e.session.PlayerCount() > 0 {
		sh.mu.Unlock()
		return
	}
	delete(sh.sessions, e.roomID)
	e.evict = nil
	sh.mu.Unlock()

	rec := e.session.Close()
	r.log.Info("session evicted", "room", e.roomID, "rounds", rec.TotalRounds)
	r.finish(e, rec)
	r.closeRoom(e.roomID)
}

func (r *Registry) closeRoom(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.rooms.Close(ctx, roomID); err != nil {
		r.log.Warn("close room failed", "room", roomID, "err", err)
	}
}

// finish 保留记录并提交最终汇总
func (r *Registry) finish(e *entry, rec engine.GameSessionRecord) {
	if rec.ID == "" {
		if last := e.last.Load(); last != nil {
			rec = *last
		} else {
			return
		}
	}
	if rec.FinishedAt == nil {
		now := time.Now()
		rec.FinishedAt = &now
	}
	r.retain(rec)
	sum := toSummary(rec)
	r.writer.SubmitAsync(bridge.OpSaveGameHistory, bridge.GameHistory{Session: &sum})
}

func (r *Registry) onRoundFinished(e *entry, o engine.RoundOutcome) {
	rec := o.Session
	e.last.Store(&rec)

	round := toHistory(o.Round)
	sum := toSummary(o.Session)
	r.writer.SubmitAsync(bridge.OpSaveGameHistory, bridge.GameHistory{Round: &round, Session: &sum})
	if deltas := toDeltas(o.Round); len(deltas) > 0 {
		r.writer.SubmitAsync(bridge.OpUpdateRankings, bridge.RankingUpdate{Deltas: deltas})
	}
}

func (r *Registry) onBroken(e *entry, reason any) {
	r.log.Error("session broken, discarding", "room", e.roomID, "reason", reason)
	if !r.drop(e) {
		return
	}
	r.pmu.Lock()
	for userID, roomID := range r.players {
		if roomID == e.roomID {
			delete(r.players, userID)
		}
	}
	r.pmu.Unlock()

	// 座位已清空，通知还连着的客户端重新进房
	r.pub.Publish(e.roomID, events.Event{Event: events.Error, Data: map[string]string{
		"message": "session closed",
		"code":    "SESSION_CLOSED",
	}})
	r.finish(e, engine.GameSessionRecord{})
	// Broken 在 session goroutine 上回调，不在这里等数据库
	go r.closeRoom(e.roomID)
}

func (r *Registry) entries() []*entry {
	var out []*entry
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, e := range sh.sessions {
			out = append(out, e)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Count 当前 session 数
func (r *Registry) Count() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Active 枚举当前 session
func (r *Registry) Active() []SessionInfo {
	entries := r.entries()
	out := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		snap, err := e.session.Snapshot()
		if err != nil {
			continue
		}
		out = append(out, SessionInfo{
			ID:          e.roomID,
			PlayerCount: e.session.PlayerCount(),
			Phase:       snap.Status,
			Round:       snap.Round,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Records 在线和最近回收的 session 记录
func (r *Registry) Records() []engine.GameSessionRecord {
	entries := r.entries()
	out := make([]engine.GameSessionRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := e.session.Record()
		if err != nil {
			continue
		}
		out = append(out, rec)
	}

	r.rmu.Lock()
	r.pruneLocked(time.Now())
	out = append(out, r.retained...)
	r.rmu.Unlock()
	return out
}

func (r *Registry) retain(rec engine.GameSessionRecord) {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	r.retained = append(r.retained, rec)
	r.pruneLocked(time.Now())
}

func (r *Registry) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(r.retained) {
		fin := r.retained[cut].FinishedAt
		if fin != nil && now.Sub(*fin) <= r.cfg.RetainFor {
			break
		}
		cut++
	}
	if over := len(r.retained) - cut - r.cfg.RetainRecords; over > 0 {
		cut += over
	}
	if cut > 0 {
		r.retained = append([]engine.GameSessionRecord(nil), r.retained[cut:]...)
	}
}

// Shutdown 关闭所有 session 并提交汇总
func (r *Registry) Shutdown() {
	for _, e := range r.entries() {
		if !r.drop(e) {
			continue
		}
		r.finish(e, e.session.Close())
	}
}
