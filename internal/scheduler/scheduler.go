// Package scheduler defers bundled OSC sub-messages until their
// NTP time-tag's scheduled wall-clock instant, then releases them to
// the caller in FIFO order for any given instant.
package scheduler

import (
	"sort"
	"time"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1 Jan 1900) and the Unix epoch (1 Jan 1970).
const ntpEpochOffset = 2208988800

// Immediate is the NTP time-tag sentinel meaning "dispatch now"
// without going through the scheduler at all (spec.md §3).
const Immediate uint64 = 1

// TimetagToTime converts a 64-bit NTP time-tag into an absolute
// time.Time, along with whether it is the Immediate sentinel. The
// fractional-seconds field is the low 32 bits of the time-tag — a
// plain bitmask, per SPEC_FULL.md's correction of the original
// source's `(timetag && 32)` typo.
func TimetagToTime(timetag uint64) (due time.Time, immediate bool) {
	if timetag == Immediate {
		return time.Time{}, true
	}

	seconds := int64(timetag>>32) - ntpEpochOffset
	frac := timetag & 0xFFFFFFFF
	nanos := int64(float64(frac) * (1e9 / 4294967296.0))

	return time.Unix(seconds, nanos), false
}

// ScheduledPacket is one deferred OSC sub-message, waiting for Due.
type ScheduledPacket struct {
	Due   time.Time
	Bytes []byte
}

// Scheduler holds an ascending-by-Due sequence of ScheduledPackets.
// Packets with equal Due are released in the order they were
// enqueued. Not safe for concurrent use — spec.md §5 has it owned
// exclusively by the emitter goroutine.
type Scheduler struct {
	packets []ScheduledPacket
}

// Enqueue inserts a packet, preserving ascending-Due order and FIFO
// stability among equal Due values.
func (s *Scheduler) Enqueue(due time.Time, bytes []byte) {
	idx := sort.Search(len(s.packets), func(i int) bool {
		return s.packets[i].Due.After(due)
	})

	s.packets = append(s.packets, ScheduledPacket{})
	copy(s.packets[idx+1:], s.packets[idx:])
	s.packets[idx] = ScheduledPacket{Due: due, Bytes: bytes}
}

// DrainDue removes and returns, in ascending Due order, every packet
// whose Due is at or before now. A packet enqueued with a Due already
// in the past is returned by the very next DrainDue call.
func (s *Scheduler) DrainDue(now time.Time) []ScheduledPacket {
	idx := sort.Search(len(s.packets), func(i int) bool {
		return s.packets[i].Due.After(now)
	})

	if idx == 0 {
		return nil
	}

	due := s.packets[:idx]
	s.packets = s.packets[idx:]

	return due
}

// Clear drops every pending packet.
func (s *Scheduler) Clear() {
	s.packets = nil
}

// Len reports the number of packets currently pending.
func (s *Scheduler) Len() int {
	return len(s.packets)
}
