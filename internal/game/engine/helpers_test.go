package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"BlockJack/internal/events"
	"BlockJack/internal/game/table"
)

// manualScheduler 测试里手动触发定时器
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	sched   *manualScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{sched: m, d: d, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	live := !t.stopped && !t.fired
	t.stopped = true
	return live
}

// live 返回唯一一个还没触发也没取消的定时器
func (m *manualScheduler) live() *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out *manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			out = t
		}
	}
	return out
}

func (m *manualScheduler) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *manualTimer) fire() {
	t.sched.mu.Lock()
	t.fired = true
	t.sched.mu.Unlock()
	t.f()
}

// recPub 记录所有广播
type recPub struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recPub) Publish(_ string, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recPub) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Event == name {
			n++
		}
	}
	return n
}

func (p *recPub) last(name string) (map[string]any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Event == name {
			data, _ := p.events[i].Data.(map[string]any)
			return data, true
		}
	}
	return nil, false
}

// stackedShoe 按给定顺序发牌
type stackedShoe struct {
	cards []table.Card
}

func (s *stackedShoe) Draw() table.Card {
	if len(s.cards) == 0 {
		return table.NewCard(0, 2)
	}
	c := s.cards[0]
	s.cards = s.cards[1:]
	return c
}

func (s *stackedShoe) NeedsReshuffle() bool { return false }
func (s *stackedShoe) Reshuffle()           {}

func ranks(rs ...int) []table.Card {
	out := make([]table.Card, 0, len(rs))
	for i, r := range rs {
		out = append(out, table.NewCard(i%4, r))
	}
	return out
}

func testConfig() Config {
	return Config{
		RoomID:           "room-1",
		MinBet:           10,
		MaxBet:           1000,
		MaxPlayers:       4,
		Decks:            6,
		Seed:             7,
		JoinGrace:        2 * time.Second,
		BettingCountdown: 30 * time.Second,
		TurnTimeout:      20 * time.Second,
		DealerPacing:     time.Second,
		RoundDelay:       5 * time.Second,
	}
}

type harness struct {
	t     *testing.T
	s     *Session
	sched *manualScheduler
	pub   *recPub
	shoe  *stackedShoe

	mu       sync.Mutex
	outcomes []RoundOutcome
	empties  []string
	broken   []any
}

func newHarness(t *testing.T, cfg Config, deal ...int) *harness {
	h := &harness{
		t:     t,
		sched: &manualScheduler{},
		pub:   &recPub{},
		shoe:  &stackedShoe{cards: ranks(deal...)},
	}
	h.s = NewSession(cfg, h.pub, h.sched,
		WithShoe(h.shoe),
		WithHooks(Hooks{
			RoundFinished: func(o RoundOutcome) {
				h.mu.Lock()
				h.outcomes = append(h.outcomes, o)
				h.mu.Unlock()
			},
			Empty: func(roomID string) {
				h.mu.Lock()
				h.empties = append(h.empties, roomID)
				h.mu.Unlock()
			},
			Broken: func(_ string, reason any) {
				h.mu.Lock()
				h.broken = append(h.broken, reason)
				h.mu.Unlock()
			},
		}),
	)
	t.Cleanup(func() { h.s.Close() })
	return h
}

func (h *harness) snap() Snapshot {
	h.t.Helper()
	snap, err := h.s.Snapshot()
	require.NoError(h.t, err)
	return snap
}

// fire 触发当前定时器，并等 session 处理完回调
func (h *harness) fire() {
	h.t.Helper()
	timer := h.sched.live()
	require.NotNil(h.t, timer, "expected a pending timer")
	timer.fire()
	h.snap()
}

func (h *harness) join(ids ...string) {
	h.t.Helper()
	for _, id := range ids {
		require.NoError(h.t, h.s.Join(id, "name-"+id, 1000))
	}
}

// toBetting 加入玩家并等待入场宽限结束
func (h *harness) toBetting(ids ...string) {
	h.t.Helper()
	h.join(ids...)
	h.fire()
	require.Equal(h.t, PhaseBetting, h.snap().Status)
}

func (h *harness) player(id string) PlayerView {
	h.t.Helper()
	for _, p := range h.snap().Players {
		if p.UserID == id {
			return p
		}
	}
	h.t.Fatalf("player %s not seated", id)
	return PlayerView{}
}

func (h *harness) lastOutcome() RoundOutcome {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.outcomes)
	return h.outcomes[len(h.outcomes)-1]
}
