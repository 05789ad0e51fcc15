package supervisor

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/doismellburning/osc2dmx/internal/dmxlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink is a DmxLink that records frames and can be made to fail
// its very next SendFrame on demand, standing in for real FTDI
// hardware. The failure is one-shot: once consumed, later sends (from
// a reconnected run) succeed again.
type fakeLink struct {
	frames   chan []byte
	failNext atomic.Bool
	closed   chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeLink) SendFrame(payload []byte) error {
	if f.failNext.CompareAndSwap(true, false) {
		return assert.AnError
	}

	frame := make([]byte, len(payload))
	copy(frame, payload)

	select {
	case f.frames <- frame:
	default:
	}

	return nil
}

func (f *fakeLink) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}

	return nil
}

func (f *fakeLink) failNextSend() { f.failNext.Store(true) }

func freeUDPAddr(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())

	return addr
}

func newTestSupervisor(t *testing.T, link *fakeLink, autoReconnect bool) *Supervisor {
	t.Helper()

	cfg := Config{
		FPS:           1000,
		ListenAddr:    freeUDPAddr(t),
		AutoReconnect: autoReconnect,
	}

	sv := New(cfg, log.New(io.Discard))
	sv.openLink = func(dmxlink.Identity, *dmxlink.GPIOEnable, *log.Logger) (dmxlink.DmxLink, error) {
		return link, nil
	}

	return sv
}

func TestRunTransmitsFramesUntilStop(t *testing.T) {
	link := newFakeLink()
	sv := newTestSupervisor(t, link, false)

	done := make(chan error, 1)

	go func() { done <- sv.Run() }()

	require.Eventually(t, func() bool { return sv.State() == Running }, time.Second, time.Millisecond)

	select {
	case <-link.frames:
	case <-time.After(time.Second):
		t.Fatal("no DMX frame transmitted within a second of a 1000fps run")
	}

	sv.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.Equal(t, Terminated, sv.State())
}

func TestRunReconnectsAfterFatalLinkError(t *testing.T) {
	link := newFakeLink()
	sv := newTestSupervisor(t, link, true)

	done := make(chan error, 1)

	go func() { done <- sv.Run() }()

	require.Eventually(t, func() bool { return sv.State() == Running }, time.Second, time.Millisecond)

	link.failNextSend()

	require.Eventually(t, func() bool { return sv.State() == Draining }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sv.State() == Running }, 2*time.Second, time.Millisecond)

	sv.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRunFailsImmediatelyWhenListenAddrIsUnusable(t *testing.T) {
	link := newFakeLink()
	cfg := Config{FPS: 30, ListenAddr: "not-a-valid-address"}
	sv := New(cfg, log.New(io.Discard))
	sv.openLink = func(dmxlink.Identity, *dmxlink.GPIOEnable, *log.Logger) (dmxlink.DmxLink, error) {
		return link, nil
	}

	err := sv.Run()
	assert.Error(t, err)
	assert.Equal(t, Terminated, sv.State())
}

func TestParseListenAddrStripsScheme(t *testing.T) {
	addr, err := ParseListenAddr("osc.udp://:6666")
	require.NoError(t, err)
	assert.Equal(t, ":6666", addr)

	_, err = ParseListenAddr("osc.tcp://:6666")
	assert.Error(t, err)
}
