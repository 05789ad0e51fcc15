//go:build !linux

package supervisor

import "errors"

// setThreadPriority is a no-op outside Linux; SCHED_FIFO real-time
// priority has no portable equivalent, and the caller logs a warning
// when priority > 0 was actually requested.
func setThreadPriority(priority int) error {
	if priority > 0 {
		return errors.New("no portable real-time scheduling on this platform")
	}

	return nil
}
