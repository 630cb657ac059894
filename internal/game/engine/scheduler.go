package engine

import (
	"time"

	"github.com/RussellLuo/timingwheel"
)

type Timer interface {
	Stop() bool
}

// Scheduler 延时回调；回调在调度器自己的 goroutine 里执行
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// WheelScheduler 所有房间共用一个时间轮
type WheelScheduler struct {
	tw *timingwheel.TimingWheel
}

func NewWheelScheduler(tick time.Duration, wheelSize int64) *WheelScheduler {
	if tick < time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if wheelSize <= 0 {
		wheelSize = 128
	}
	tw := timingwheel.NewTimingWheel(tick, wheelSize)
	tw.Start()
	return &WheelScheduler{tw: tw}
}

func (w *WheelScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return w.tw.AfterFunc(d, f)
}

func (w *WheelScheduler) Stop() {
	w.tw.Stop()
}
