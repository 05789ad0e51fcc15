package dmxlink

import (
	"io"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeBreaker records the sequence of SetBreak calls a test makes,
// without needing a real tty's BREAK ioctl support.
type fakeBreaker struct {
	calls []bool
	err   error
}

func (f *fakeBreaker) SetBreak(on bool) error {
	f.calls = append(f.calls, on)
	return f.err
}

func newTestLink(t *testing.T) (*FTDILink, *fakeBreaker, *os.File) {
	t.Helper()

	ptmx, tty, err := pty.Open()
	require.NoError(t, err)

	t.Cleanup(func() {
		tty.Close()
		ptmx.Close()
	})

	// Turn off output post-processing (LF -> CRLF), as term.RawMode
	// does for a real port, so ptmx reads back exactly what was written.
	termios, err := unix.IoctlGetTermios(int(tty.Fd()), unix.TCGETS)
	require.NoError(t, err)

	termios.Oflag &^= unix.OPOST
	require.NoError(t, unix.IoctlSetTermios(int(tty.Fd()), unix.TCSETS, termios))

	breaker := &fakeBreaker{}

	link := &FTDILink{
		port:    tty,
		breaker: breaker,
		logger:  log.New(io.Discard),
	}

	return link, breaker, ptmx
}

func TestSendFrameRejectsWrongSize(t *testing.T) {
	link, _, _ := newTestLink(t)

	err := link.SendFrame(make([]byte, 10))
	assert.ErrorIs(t, err, ErrWrongFrameSize)
}

func TestSendFrameRejectsAfterClose(t *testing.T) {
	link, _, _ := newTestLink(t)

	require.NoError(t, link.Close())

	err := link.SendFrame(make([]byte, FrameSize))
	assert.ErrorIs(t, err, ErrLinkClosed)
}

func TestSendFrameAssertsThenReleasesBreakBeforeWriting(t *testing.T) {
	link, breaker, ptmx := newTestLink(t)

	payload := make([]byte, FrameSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() { done <- link.SendFrame(payload) }()

	require.NoError(t, <-done)
	assert.Equal(t, []bool{true, false}, breaker.calls, "BREAK must be asserted then released, in that order")

	received := make([]byte, FrameSize)
	_, err := io.ReadFull(ptmx, received)
	require.NoError(t, err)
	assert.Equal(t, payload, received)
}

func TestSendFrameFailsIfBreakFails(t *testing.T) {
	link, breaker, _ := newTestLink(t)
	breaker.err = assert.AnError

	err := link.SendFrame(make([]byte, FrameSize))
	assert.Error(t, err)
}
