package engine

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"BlockJack/internal/events"
	"BlockJack/internal/game/dealer"
	"BlockJack/internal/game/table"
)

type Phase string

const (
	PhaseWaiting    Phase = "WAITING"
	PhaseBetting    Phase = "BETTING"
	PhaseDealing    Phase = "DEALING"
	PhasePlaying    Phase = "PLAYING"
	PhaseDealerTurn Phase = "DEALER_TURN"
	PhaseFinished   Phase = "FINISHED"
)

type Config struct {
	RoomID     string
	MinBet     int64
	MaxBet     int64
	MaxPlayers int
	Decks      int
	Seed       int64

	JoinGrace        time.Duration
	BettingCountdown time.Duration
	TurnTimeout      time.Duration
	DealerPacing     time.Duration
	RoundDelay       time.Duration
}

// Hooks 在 session 自己的 goroutine 上被调用，不能阻塞，也不能回调 session 的方法
type Hooks struct {
	RoundFinished func(RoundOutcome)
	Empty         func(roomID string)
	Broken        func(roomID string, reason any)
}

type Option func(*Session)

func WithLogger(l *log.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithHooks(h Hooks) Option {
	return func(s *Session) { s.hooks = h }
}

// Shoe 发牌来源，默认是 dealer.Shoe
type Shoe interface {
	Draw() table.Card
	NeedsReshuffle() bool
	Reshuffle()
}

func WithShoe(sh Shoe) Option {
	return func(s *Session) { s.shoe = sh }
}

type timerKind int

const (
	timerNone timerKind = iota
	timerJoinGrace
	timerBetting
	timerTurn
	timerDealer
	timerNextRound
)

type slot struct {
	userID    string
	name      string
	hand      []table.Card
	bet       int64
	balance   int64
	standing  bool
	busted    bool
	blackjack bool
	active    bool
}

// Session 单个房间的状态机。所有状态只在 run goroutine 里读写：
// 玩家指令和定时器回调都投递到 inbox 顺序执行
type Session struct {
	cfg   Config
	pub   events.Publisher
	sched Scheduler
	hooks Hooks
	log   *log.Logger
	shoe  Shoe

	phase    Phase
	round    int
	resolved int
	turn     int
	order    []string // 本局下注顺序
	seats    []string // 入座顺序
	slots    map[string]*slot
	dealer   []table.Card
	record   GameSessionRecord
	players  map[string]*PlayerSessionRecord
	joinSeq  []string
	timer    Timer
	timerSeq uint64
	pending  timerKind

	playerCount atomic.Int32
	inbox       chan func()
	done        chan struct{}
	closeOnce   sync.Once
}

func NewSession(cfg Config, pub events.Publisher, sched Scheduler, opts ...Option) *Session {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	s := &Session{
		cfg:     cfg,
		pub:     pub,
		sched:   sched,
		log:     log.Default(),
		shoe:    dealer.NewShoe(cfg.Decks, cfg.Seed),
		phase:   PhaseWaiting,
		turn:    -1,
		slots:   make(map[string]*slot),
		players: make(map[string]*PlayerSessionRecord),
		inbox:   make(chan func(), 32),
		done:    make(chan struct{}),
		record: GameSessionRecord{
			ID:        uuid.NewString(),
			RoomID:    cfg.RoomID,
			StartedAt: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("room", cfg.RoomID)
	go s.run()
	return s
}

func (s *Session) RoomID() string {
	return s.cfg.RoomID
}

func (s *Session) Config() Config {
	return s.cfg
}

// PlayerCount 在场玩家数，可在任意 goroutine 读取
func (s *Session) PlayerCount() int {
	return int(s.playerCount.Load())
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Join(userID, name string, balance int64) error {
	return s.call(func() error { return s.join(userID, name, balance) })
}

func (s *Session) Leave(userID string) error {
	return s.call(func() error { return s.leave(userID) })
}

func (s *Session) PlaceBet(userID string, amount int64) error {
	return s.call(func() error { return s.placeBet(userID, amount) })
}

func (s *Session) Hit(userID string) error {
	return s.call(func() error { return s.hit(userID) })
}

func (s *Session) Stand(userID string) error {
	return s.call(func() error { return s.stand(userID) })
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.call(func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

func (s *Session) Record() (GameSessionRecord, error) {
	var rec GameSessionRecord
	err := s.call(func() error {
		rec = s.recordCopy()
		return nil
	})
	return rec, err
}

// Close 取消所有定时器并停止 session，返回关闭时的汇总记录
func (s *Session) Close() GameSessionRecord {
	var rec GameSessionRecord
	_ = s.call(func() error {
		s.cancelTimer()
		now := time.Now()
		s.record.FinishedAt = &now
		rec = s.recordCopy()
		return nil
	})
	s.closeOnce.Do(func() { close(s.done) })
	return rec
}

func (s *Session) run() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session invariant violated", "panic", r, "stack", string(debug.Stack()))
			s.cancelTimer()
			s.closeOnce.Do(func() { close(s.done) })
			if s.hooks.Broken != nil {
				s.hooks.Broken(s.cfg.RoomID, r)
			}
		}
	}()
	for {
		select {
		case fn := <-s.inbox:
			select {
			case <-s.done:
				return
			default:
			}
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call 同步执行，调用方拿到结果即为确认
func (s *Session) call(fn func() error) error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		// done 和 reply 可能同时就绪
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// schedule 占用唯一的定时器槽位，旧定时器先取消
func (s *Session) schedule(kind timerKind, d time.Duration, fn func()) {
	s.cancelTimer()
	seq := s.timerSeq
	s.pending = kind
	s.timer = s.sched.AfterFunc(d, func() {
		s.post(func() {
			// Stop 与触发可能并发，序号不一致说明已被取消
			if seq != s.timerSeq {
				return
			}
			s.timer = nil
			s.pending = timerNone
			fn()
		})
	})
}

func (s *Session) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
	s.pending = timerNone
}

func (s *Session) publish(name string, data any) {
	s.pub.Publish(s.cfg.RoomID, events.Event{Event: name, Data: data})
}

func (s *Session) broadcastState() {
	snap := s.snapshot()
	s.publish(events.GameState, map[string]any{
		"status":  snap.Status,
		"round":   snap.Round,
		"players": snap.Players,
		"dealer":  snap.Dealer,
		"turn":    snap.Turn,
	})
}

func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

func (s *Session) recordCopy() GameSessionRecord {
	rec := s.record
	rec.Players = make([]PlayerSessionRecord, 0, len(s.joinSeq))
	for _, id := range s.joinSeq {
		rec.Players = append(rec.Players, *s.players[id])
	}
	if s.record.FinishedAt != nil {
		t := *s.record.FinishedAt
		rec.FinishedAt = &t
	}
	return rec
}
