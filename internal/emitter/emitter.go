// Package emitter implements the paced DMX transmission loop: drain
// the PacketRing, advance the TimetagScheduler, snapshot the
// Universe, and push a frame to the DmxLink, once per tick.
package emitter

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/doismellburning/osc2dmx/internal/dmxlink"
	"github.com/doismellburning/osc2dmx/internal/oscdispatch"
	"github.com/doismellburning/osc2dmx/internal/ring"
	"github.com/doismellburning/osc2dmx/internal/scheduler"
	"github.com/doismellburning/osc2dmx/internal/slot"
)

// Emitter owns the universe, dispatcher, and scheduler, and drives the
// DmxLink at a fixed frame rate. Everything it touches is mutated only
// from the tick loop (spec.md §5): no internal locking is needed.
type Emitter struct {
	fps        int
	universe   *slot.Universe
	dispatcher *oscdispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	ring       *ring.Ring
	link       dmxlink.DmxLink
	logger     *log.Logger
	debugDump  io.Writer

	payload [dmxlink.FrameSize]byte
}

// New builds an Emitter. fps must be positive.
func New(fps int, r *ring.Ring, link dmxlink.DmxLink, logger *log.Logger) *Emitter {
	universe := &slot.Universe{}

	return &Emitter{
		fps:        fps,
		universe:   universe,
		dispatcher: oscdispatch.New(universe, logger),
		scheduler:  &scheduler.Scheduler{},
		ring:       r,
		link:       link,
		logger:     logger,
	}
}

// Reset clears the universe and discards pending scheduled packets,
// used when the Supervisor reinitialises after an auto-reconnect
// (spec.md §4.8: "fresh blackout").
func (e *Emitter) Reset() {
	*e.universe = slot.Universe{}
	e.scheduler.Clear()
}

// SetDebugDump arranges for every transmitted frame to also be
// appended to w, the optional --debug-dump sink (SPEC_FULL.md's
// DOMAIN STACK `strftime` entry). Write errors are logged once and
// then ignored, so a full disk doesn't take down transmission.
func (e *Emitter) SetDebugDump(w io.Writer) {
	e.debugDump = w
}

// Run drives the tick loop until stop is set or the DmxLink reports a
// fatal transmission error, in which case Run sets stop itself before
// returning (spec.md §4.6, §4.8).
func (e *Emitter) Run(stop *atomic.Bool) {
	period := time.Second / time.Duration(e.fps)
	deadline := time.Now().Add(period)

	for !stop.Load() {
		sleepUntil(deadline)

		now := time.Now()

		e.drainRing(now)
		e.drainScheduler(now)

		e.universe.Snapshot(e.payload[:])

		if err := e.link.SendFrame(e.payload[:]); err != nil {
			e.logger.Error("emitter: fatal DMX transmission error", "err", err)
			stop.Store(true)

			return
		}

		if e.debugDump != nil {
			if _, err := e.debugDump.Write(e.payload[:]); err != nil {
				e.logger.Warn("emitter: debug dump write failed, disabling", "err", err)
				e.debugDump = nil
			}
		}

		// Advance by a fixed period rather than resetting to now+period,
		// so a late tick doesn't shift the whole cadence forward
		// (spec.md §4.6: "do not coalesce missed ticks").
		deadline = deadline.Add(period)
	}
}

func sleepUntil(deadline time.Time) {
	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
}

// drainRing consumes every datagram currently queued in the ring,
// dispatching immediate packets right away and handing bundled
// sub-messages with a future due time to the scheduler.
func (e *Emitter) drainRing(now time.Time) {
	for {
		rec, ok := e.ring.ReadRequest()
		if !ok {
			return
		}

		// Copy out: rec aliases the ring's backing array, which the
		// next WriteRequest from the ingress goroutine may overwrite
		// the instant we call ReadAdvance.
		raw := append([]byte(nil), rec...)
		e.ring.ReadAdvance()

		e.handlePacket(raw, now)
	}
}

func (e *Emitter) handlePacket(raw []byte, now time.Time) {
	pkt, err := oscdispatch.DecodePacket(raw)
	if err != nil {
		e.logger.Debug("emitter: dropping malformed OSC packet", "err", err)
		return
	}

	if !pkt.IsBundle {
		e.dispatchMessage(pkt.Message)
		return
	}

	due, immediate := scheduler.TimetagToTime(pkt.Timetag)

	for _, el := range pkt.Elements {
		if immediate || !due.After(now) {
			e.handlePacket(el, now)
		} else {
			e.scheduler.Enqueue(due, el)
		}
	}
}

func (e *Emitter) drainScheduler(now time.Time) {
	for _, p := range e.scheduler.DrainDue(now) {
		// A scheduled element may itself be a nested bundle; handlePacket
		// recurses regardless of nesting depth (spec.md §4.4).
		e.handlePacket(p.Bytes, now)
	}
}

func (e *Emitter) dispatchMessage(msg *oscdispatch.Message) {
	if msg == nil {
		return
	}

	e.dispatcher.Dispatch(msg.Address, msg.HasArg, msg.Arg)
}
