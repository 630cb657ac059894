package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Gate 缓存持久层的健康状态。连续 threshold 次探测失败判为不可用，
// 一次成功即恢复；读取不做 I/O，最多滞后一个探测周期
type Gate struct {
	pinger    Pinger
	interval  time.Duration
	threshold int
	log       *log.Logger

	healthy  atomic.Bool
	mu       sync.Mutex
	failures int
}

func NewGate(p Pinger, interval time.Duration, threshold int, logger *log.Logger) *Gate {
	if threshold <= 0 {
		threshold = 2
	}
	if logger == nil {
		logger = log.Default()
	}
	g := &Gate{
		pinger:    p,
		interval:  interval,
		threshold: threshold,
		log:       logger.WithPrefix("gate"),
	}
	g.healthy.Store(true)
	return g
}

func (g *Gate) Healthy() bool {
	return g.healthy.Load()
}

func (g *Gate) ping(ctx context.Context) error {
	timeout := g.interval
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return g.pinger.Ping(ctx)
}

// Check 探测一次并更新状态
func (g *Gate) Check(ctx context.Context) bool {
	if err := g.ping(ctx); err != nil {
		g.fail(err)
	} else {
		g.succeed()
	}
	return g.Healthy()
}

// Warmup 启动时探测一次。失败直接判为不可用，不等累计到阈值，
// 之后由 Run 的成功探测恢复
func (g *Gate) Warmup(ctx context.Context) bool {
	err := g.ping(ctx)
	if err == nil {
		g.succeed()
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = g.threshold
	g.healthy.Store(false)
	g.log.Warn("durable store unavailable at startup, starting in degraded mode", "err", err)
	return false
}

// ReportFailure 写路径遇到基础设施错误时调用，与一次失败探测等价
func (g *Gate) ReportFailure(err error) {
	g.fail(err)
}

func (g *Gate) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if g.failures >= g.threshold && g.healthy.Swap(false) {
		g.log.Warn("durable store unhealthy, switching to degraded mode", "failures", g.failures, "err", err)
	}
}

func (g *Gate) succeed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	if !g.healthy.Swap(true) {
		g.log.Info("durable store healthy again")
	}
}

func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}
