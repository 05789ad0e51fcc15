// Package oscdispatch matches OSC address patterns of the form
// /dmx/<channel>/<priority> against the 512x32 address space and
// applies the resulting set/clear operations to a Universe.
package oscdispatch

import (
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/doismellburning/osc2dmx/internal/slot"
)

const (
	numChannels   = 512
	numPriorities = slot.NumPriorities
)

// Dispatcher applies decoded OSC messages to a Universe. It holds no
// state of its own beyond the logger and the Universe reference, so
// one Dispatcher may be reused across every tick of the emitter.
type Dispatcher struct {
	universe *slot.Universe
	logger   *log.Logger
}

// New returns a Dispatcher that mutates universe.
func New(universe *slot.Universe, logger *log.Logger) *Dispatcher {
	return &Dispatcher{universe: universe, logger: logger}
}

// Dispatch applies a single decoded OSC message. hasArg/argValue carry
// the message's first int32 argument, if any was present in the
// original type-tag string — callers that already stripped non-int32
// arguments pass hasArg=false for an empty or non-int32 argument list,
// per spec.md §3.
func (d *Dispatcher) Dispatch(address string, hasArg bool, argValue int32) {
	channelPattern, priorityPattern, ok := splitAddress(address)
	if !ok {
		d.logger.Debug("oscdispatch: address does not match /dmx/<ch>/<prio>", "address", address)
		return
	}

	channels := matchRange(channelPattern, 0, numChannels-1)
	priorities := matchRange(priorityPattern, 0, numPriorities-1)

	if len(channels) == 0 || len(priorities) == 0 {
		d.logger.Debug("oscdispatch: no channels or priorities matched", "address", address)
		return
	}

	value := byte(0)
	if hasArg {
		value = byte(argValue)
	}

	for _, c := range channels {
		for _, p := range priorities {
			if hasArg {
				d.universe.Slots[c].Set(p, value)
			} else {
				d.universe.Slots[c].Clear(p)
			}
		}
	}
}

// splitAddress splits "/dmx/<ch>/<prio>" into its channel and priority
// components. Any other structure is rejected.
func splitAddress(address string) (channel, priority string, ok bool) {
	if len(address) == 0 || address[0] != '/' {
		return "", "", false
	}

	parts := splitSlash(address[1:])
	if len(parts) != 3 || parts[0] != "dmx" {
		return "", "", false
	}

	return parts[1], parts[2], true
}

func splitSlash(s string) []string {
	var parts []string

	start := 0

	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}

	parts = append(parts, s[start:])

	return parts
}

// matchRange returns every integer in [lo, hi] whose decimal string
// matches pattern. A pattern with no wildcard characters is resolved
// directly instead of scanning the whole range.
func matchRange(pattern string, lo, hi int) []int {
	if n, err := strconv.Atoi(pattern); err == nil && strconv.Itoa(n) == pattern {
		if n < lo || n > hi {
			return nil
		}

		return []int{n}
	}

	var out []int

	for i := lo; i <= hi; i++ {
		if matchPattern(pattern, strconv.Itoa(i)) {
			out = append(out, i)
		}
	}

	return out
}
