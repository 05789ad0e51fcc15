//go:build linux

package supervisor

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// setThreadPriority pins the calling goroutine to its current OS
// thread and raises that thread to SCHED_FIFO at priority. priority <=
// 0 is a no-op, matching spec.md §6's "-I/-O 0 means don't change".
//
// This is the Go-native analogue of the original bridge's
// pthread_setschedparam(self, SCHED_FIFO, ...) call at the top of its
// beat thread: Go has no equivalent of "the calling thread" without
// LockOSThread, since goroutines otherwise migrate between OS threads
// freely.
func setThreadPriority(priority int) error {
	if priority <= 0 {
		return nil
	}

	runtime.LockOSThread()

	param := &unix.SchedParam{Priority: int32(priority)}

	if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, param); err != nil {
		return fmt.Errorf("supervisor: SCHED_FIFO priority %d: %w", priority, err)
	}

	return nil
}
