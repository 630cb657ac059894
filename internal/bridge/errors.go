package bridge

import "errors"

var (
	ErrQueueEmpty       = errors.New("bridge: queue empty")
	ErrUnknownOperation = errors.New("bridge: unknown operation")
	ErrNotInFlight      = errors.New("bridge: message not in flight")
	// ErrNotAccepted 直写失败且入队也失败，调用方需要感知
	ErrNotAccepted = errors.New("bridge: write not accepted")
)
