package ports

import "time"

// TimerHandle identifies a scheduled callback.
type TimerHandle uint32

// Timers schedules callbacks used to bound asynchronous waits such as the metrics flush.
type Timers interface {
	SetTimeout(callback func(), delay time.Duration) TimerHandle
	// ClearTimeout cancels a pending callback. Unknown or fired handles are ignored.
	ClearTimeout(handle TimerHandle)
}
