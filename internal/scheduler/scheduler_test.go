package scheduler_test

import (
	"testing"
	"time"

	"github.com/doismellburning/osc2dmx/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTimetagImmediate(t *testing.T) {
	_, immediate := scheduler.TimetagToTime(scheduler.Immediate)
	assert.True(t, immediate)
}

func TestTimetagRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	seconds := uint64(now.Unix() + 2208988800)
	timetag := seconds << 32 // frac = 0

	due, immediate := scheduler.TimetagToTime(timetag)
	assert.False(t, immediate)
	assert.True(t, due.Equal(now), "expected %v got %v", now, due)
}

func TestDrainDueReturnsNothingWhenEmpty(t *testing.T) {
	var s scheduler.Scheduler
	assert.Nil(t, s.DrainDue(time.Now()))
}

func TestDrainDueOrdersAscending(t *testing.T) {
	var s scheduler.Scheduler

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Enqueue(base.Add(3*time.Second), []byte("third"))
	s.Enqueue(base.Add(1*time.Second), []byte("first"))
	s.Enqueue(base.Add(2*time.Second), []byte("second"))

	out := s.DrainDue(base.Add(10 * time.Second))
	require.Len(t, out, 3)
	assert.Equal(t, "first", string(out[0].Bytes))
	assert.Equal(t, "second", string(out[1].Bytes))
	assert.Equal(t, "third", string(out[2].Bytes))
}

func TestDrainDueStableForEqualDue(t *testing.T) {
	var s scheduler.Scheduler

	due := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Enqueue(due, []byte("a"))
	s.Enqueue(due, []byte("b"))
	s.Enqueue(due, []byte("c"))

	out := s.DrainDue(due)
	require.Len(t, out, 3)
	assert.Equal(t, "a", string(out[0].Bytes))
	assert.Equal(t, "b", string(out[1].Bytes))
	assert.Equal(t, "c", string(out[2].Bytes))
}

func TestDrainDueOnlyRemovesDuePackets(t *testing.T) {
	var s scheduler.Scheduler

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Enqueue(base.Add(1*time.Second), []byte("early"))
	s.Enqueue(base.Add(5*time.Second), []byte("late"))

	out := s.DrainDue(base.Add(2 * time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, "early", string(out[0].Bytes))
	assert.Equal(t, 1, s.Len())

	out = s.DrainDue(base.Add(10 * time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, "late", string(out[0].Bytes))
	assert.Equal(t, 0, s.Len())
}

func TestPastDueDrainsOnNextCall(t *testing.T) {
	var s scheduler.Scheduler

	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Enqueue(past, []byte("stale"))

	out := s.DrainDue(time.Now())
	require.Len(t, out, 1)
	assert.Equal(t, "stale", string(out[0].Bytes))
}

func TestClearDropsEverything(t *testing.T) {
	var s scheduler.Scheduler

	s.Enqueue(time.Now().Add(time.Hour), []byte("x"))
	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.DrainDue(time.Now().Add(2*time.Hour)))
}

// TestDrainDueIsNonDecreasingAndExhaustive is a property test: for any
// sequence of enqueues, draining at a sufficiently late instant always
// yields every packet in non-decreasing Due order (spec.md §8).
func TestDrainDueIsNonDecreasingAndExhaustive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s scheduler.Scheduler

		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		n := rapid.IntRange(0, 30).Draw(t, "n")
		for i := 0; i < n; i++ {
			offset := rapid.IntRange(0, 10000).Draw(t, "offset_ms")
			s.Enqueue(base.Add(time.Duration(offset)*time.Millisecond), []byte{byte(i)})
		}

		out := s.DrainDue(base.Add(24 * time.Hour))
		require.Len(t, out, n)

		for i := 1; i < len(out); i++ {
			require.False(t, out[i].Due.Before(out[i-1].Due), "drain order must be non-decreasing")
		}

		require.Equal(t, 0, s.Len())
	})
}
