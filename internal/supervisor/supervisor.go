// Package supervisor owns process lifecycle: opening the DmxLink,
// wiring the PacketRing between the ingress and emitter goroutines,
// and the optional auto-reconnect loop around a fatal link error
// (spec.md §4.8, SPEC_FULL.md supplemented feature #2).
package supervisor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/doismellburning/osc2dmx/internal/dmxlink"
	"github.com/doismellburning/osc2dmx/internal/emitter"
	"github.com/doismellburning/osc2dmx/internal/ingress"
	"github.com/doismellburning/osc2dmx/internal/ring"
)

// State is the Supervisor's lifecycle position, per spec.md §4.8.
type State int

const (
	Init State = iota
	Running
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// reconnectBackoff is how long Run waits between a fatal link error
// and reinitialising, when AutoReconnect is set.
const reconnectBackoff = time.Second

// Config is the subset of the resolved configuration the Supervisor
// needs to build a DmxLink and the ring/emitter/ingress trio.
type Config struct {
	Identity      dmxlink.Identity
	GPIO          *dmxlink.GPIOEnable
	FPS           int
	ListenAddr    string // bare "host:port", already stripped of the osc.udp:// scheme
	RingCapacity  int
	AutoReconnect bool
	IngressPrio   int    // SCHED_FIFO priority for the ingress loop, 0 = don't change
	EmitterPrio   int    // SCHED_FIFO priority for the emitter loop, 0 = don't change
	DebugDumpPath string // optional: every transmitted frame is appended here
}

// Supervisor runs one bridge instance end to end, optionally looping
// through Init again after a fatal link error.
type Supervisor struct {
	cfg    Config
	logger *log.Logger

	// openLink defaults to dmxlink.Open; tests substitute a fake so
	// they don't need real FTDI hardware, the same seam dmxlink's own
	// tests use for the serial port itself.
	openLink func(dmxlink.Identity, *dmxlink.GPIOEnable, *log.Logger) (dmxlink.DmxLink, error)

	state atomic.Int32
	stop  atomic.Bool
}

// New builds a Supervisor in the Init state.
func New(cfg Config, logger *log.Logger) *Supervisor {
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = ring.DefaultCapacity
	}

	sv := &Supervisor{cfg: cfg, logger: logger, openLink: openFTDILink}
	sv.state.Store(int32(Init))

	return sv
}

func openFTDILink(id dmxlink.Identity, gpio *dmxlink.GPIOEnable, logger *log.Logger) (dmxlink.DmxLink, error) {
	return dmxlink.Open(id, gpio, logger)
}

// State reports the Supervisor's current lifecycle position.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Stop requests a graceful shutdown. Safe to call from any goroutine,
// any number of times, including before Run has started the ingress
// loop (in which case Run returns almost immediately).
func (s *Supervisor) Stop() {
	s.stop.Store(true)
}

// Run opens the DmxLink and drives the ingress/emitter pair until
// Stop is called, reinitialising after a fatal link error when
// AutoReconnect is set. It returns the first error that was not
// recovered from (or nil on a clean Stop).
func (s *Supervisor) Run() error {
	var dump io.Writer

	if s.cfg.DebugDumpPath != "" {
		f, err := os.OpenFile(s.cfg.DebugDumpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			s.state.Store(int32(Terminated))
			return fmt.Errorf("supervisor: opening debug dump file: %w", err)
		}

		defer func() { _ = f.Close() }()

		dump = f
	}

	for {
		s.state.Store(int32(Init))

		source, err := ingress.ListenUDP(s.cfg.ListenAddr)
		if err != nil {
			s.state.Store(int32(Terminated))
			return fmt.Errorf("supervisor: listening on %s: %w", s.cfg.ListenAddr, err)
		}

		link, err := s.openLink(s.cfg.Identity, s.cfg.GPIO, s.logger)
		if err != nil {
			_ = source.Close()
			s.state.Store(int32(Terminated))

			return fmt.Errorf("supervisor: opening DMX link: %w", err)
		}

		linkFailed := s.runOnce(source, link, dump)

		if !linkFailed {
			s.state.Store(int32(Terminated))
			return nil
		}

		if !s.cfg.AutoReconnect {
			s.state.Store(int32(Terminated))
			return fmt.Errorf("supervisor: DMX link failed")
		}

		s.logger.Error("supervisor: DMX link failed, reconnecting", "backoff", reconnectBackoff)
		s.state.Store(int32(Draining))
		time.Sleep(reconnectBackoff)
	}
}

// stopPollInterval bounds how quickly runOnce notices an external
// Stop() call and propagates it into the per-run stop flag shared by
// the emitter and ingress loop.
const stopPollInterval = time.Millisecond

// runOnce drives a single ingress/emitter pair against one already-open
// link and source, until Stop is called or the emitter reports a fatal
// transmission error. It always closes source and link before
// returning. linkFailed is true only in the latter case, telling Run
// whether auto-reconnect applies.
func (s *Supervisor) runOnce(source *ingress.UDPSource, link dmxlink.DmxLink, dump io.Writer) (linkFailed bool) {
	defer func() { _ = source.Close() }()
	defer func() { _ = link.Close() }()

	r := ring.New(s.cfg.RingCapacity)
	em := emitter.New(s.cfg.FPS, r, link, s.logger)
	il := ingress.New(source, r, s.logger)

	if dump != nil {
		em.SetDebugDump(dump)
	}

	// active is the flag the emitter and ingress loop both watch. It
	// is set either by the emitter itself (fatal SendFrame error) or
	// by the watcher goroutine below (external Stop()), and that's
	// how the two cases are told apart afterwards.
	var active atomic.Bool

	emitterDone := make(chan struct{})

	go func() {
		if err := setThreadPriority(s.cfg.EmitterPrio); err != nil {
			s.logger.Warn("supervisor: emitter priority", "err", err)
		}

		em.Run(&active)
		close(emitterDone)
	}()

	if err := setThreadPriority(s.cfg.IngressPrio); err != nil {
		s.logger.Warn("supervisor: ingress priority", "err", err)
	}

	go func() {
		ticker := time.NewTicker(stopPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-emitterDone:
				return
			case <-ticker.C:
				if s.stop.Load() {
					active.Store(true)
					return
				}
			}
		}
	}()

	s.state.Store(int32(Running))

	il.Run(&active) // returns once active flips, for either reason above

	active.Store(true)
	<-emitterDone

	s.state.Store(int32(Draining))
	em.Reset()

	return !s.stop.Load()
}

// ParseListenAddr strips the "osc.udp://" scheme spec.md §6 describes
// off a listen URI, returning the bare host:port net.ListenUDP expects.
// Only the udp scheme is supported; any other scheme is an error.
func ParseListenAddr(uri string) (string, error) {
	const scheme = "osc.udp://"

	if !strings.HasPrefix(uri, scheme) {
		return "", fmt.Errorf("supervisor: unsupported listen URI %q (expected %sHOST:PORT)", uri, scheme)
	}

	return strings.TrimPrefix(uri, scheme), nil
}
