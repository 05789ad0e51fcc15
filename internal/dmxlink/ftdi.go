package dmxlink

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
	"github.com/pkg/term"
	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// dmxBaud is the fixed DMX512-A line rate.
const dmxBaud = 250000

// breakDuration and mabDuration are the minimum BREAK and
// Mark-After-Break intervals DMX512-A requires (spec.md §6); a little
// headroom is added over the bare minimum the same way real fixtures'
// receivers expect in practice.
const (
	breakDuration = 110 * time.Microsecond
	mabDuration   = 16 * time.Microsecond
)

// breakController drives the BREAK/MAB line state. Abstracted from
// FTDILink so tests can substitute a fake without a real tty.
type breakController interface {
	SetBreak(on bool) error
}

// serialPort is the slice of *term.Term that FTDILink depends on.
// Abstracted so tests can substitute a pty's *os.File, which satisfies
// the same three methods, in place of a real FTDI tty.
type serialPort interface {
	Write(p []byte) (int, error)
	Close() error
	Fd() uintptr
}

// FTDILink is a DmxLink backed by an FTDI-based USB-to-serial adapter
// exposed as a Linux tty device, opened and framed the way the
// teacher's serial_port.go opens a TNC's serial port, extended with
// the BREAK/MAB control serial_port.go never needed.
type FTDILink struct {
	port    serialPort
	breaker breakController
	gpio    *gpiocdev.Line // nil unless a transceiver-enable line was configured
	logger  *log.Logger
	closed  bool
}

// GPIOEnable optionally names a GPIO chip/line that must be asserted
// for the duration of each SendFrame, gating an RS-485 transceiver's
// driver-enable pin (SPEC_FULL.md supplemented feature #6).
type GPIOEnable struct {
	Chip string
	Line int
}

// Open discovers a matching FTDI tty device via udev (falling back to
// no filtering on Description/Serial when they're empty) and opens it
// in raw mode at the fixed DMX baud rate.
func Open(id Identity, gpio *GPIOEnable, logger *log.Logger) (*FTDILink, error) {
	devnode, err := findDevice(id)
	if err != nil {
		return nil, err
	}

	logger.Info("dmxlink: opening device", "devnode", devnode, "vid", id.VID, "pid", id.PID)

	fd, err := term.Open(devnode, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("dmxlink: opening %s: %w", devnode, err)
	}

	if err := fd.SetSpeed(dmxBaud); err != nil {
		fd.Close()
		return nil, fmt.Errorf("dmxlink: setting baud on %s: %w", devnode, err)
	}

	if err := setFrameFormat(fd); err != nil {
		fd.Close()
		return nil, fmt.Errorf("dmxlink: configuring framing on %s: %w", devnode, err)
	}

	if err := unix.IoctlSetPointerInt(int(fd.Fd()), unix.TIOCMBIC, unix.TIOCM_RTS); err != nil {
		fd.Close()
		return nil, fmt.Errorf("dmxlink: dropping RTS on %s: %w", devnode, err)
	}

	link := &FTDILink{
		port:    fd,
		breaker: ioctlBreakController{fd: fd},
		logger:  logger,
	}

	if gpio != nil {
		line, err := gpiocdev.RequestLine(gpio.Chip, gpio.Line, gpiocdev.AsOutput(0))
		if err != nil {
			fd.Close()
			return nil, fmt.Errorf("dmxlink: requesting gpio %s:%d: %w", gpio.Chip, gpio.Line, err)
		}

		link.gpio = line
	}

	return link, nil
}

// SendFrame optionally raises the transceiver-enable GPIO, asserts
// BREAK, releases to MAB, writes the 513-byte payload, then lowers the
// GPIO again.
func (l *FTDILink) SendFrame(payload []byte) error {
	if l.closed {
		return ErrLinkClosed
	}

	if len(payload) != FrameSize {
		return ErrWrongFrameSize
	}

	if l.gpio != nil {
		if err := l.gpio.SetValue(1); err != nil {
			return fmt.Errorf("dmxlink: asserting transceiver enable: %w", err)
		}

		defer l.gpio.SetValue(0)
	}

	if err := l.breaker.SetBreak(true); err != nil {
		return fmt.Errorf("dmxlink: asserting break: %w", err)
	}

	time.Sleep(breakDuration)

	if err := l.breaker.SetBreak(false); err != nil {
		return fmt.Errorf("dmxlink: releasing break: %w", err)
	}

	time.Sleep(mabDuration)

	n, err := l.port.Write(payload)
	if err != nil {
		return fmt.Errorf("dmxlink: writing frame: %w", err)
	}

	if n != len(payload) {
		return fmt.Errorf("dmxlink: short write: wrote %d of %d bytes", n, len(payload))
	}

	return nil
}

// Close releases the tty and any requested GPIO line.
func (l *FTDILink) Close() error {
	if l.closed {
		return nil
	}

	l.closed = true

	if l.gpio != nil {
		l.gpio.Close()
	}

	return l.port.Close()
}

// setFrameFormat forces 8 data bits, 2 stop bits, no parity, no flow
// control (spec.md §6): term.RawMode only strips the line-discipline
// bits and leaves cflag framing at whatever the tty driver defaulted
// to, so CSTOPB/PARENB/CRTSCTS need setting directly via termios.
func setFrameFormat(fd serialPort) error {
	t, err := unix.IoctlGetTermios(int(fd.Fd()), unix.TCGETS)
	if err != nil {
		return fmt.Errorf("getting termios: %w", err)
	}

	t.Cflag = (t.Cflag &^ unix.CSIZE) | unix.CS8
	t.Cflag |= unix.CSTOPB
	t.Cflag &^= unix.PARENB | unix.CRTSCTS

	return unix.IoctlSetTermios(int(fd.Fd()), unix.TCSETS, t)
}

// ioctlBreakController drives TIOCSBRK/TIOCCBRK directly, since
// pkg/term's *term.Term has no portable BREAK API.
type ioctlBreakController struct {
	fd serialPort
}

func (b ioctlBreakController) SetBreak(on bool) error {
	req := uintptr(unix.TIOCCBRK)
	if on {
		req = uintptr(unix.TIOCSBRK)
	}

	return unix.IoctlSetInt(int(b.fd.Fd()), uint(req), 0)
}

// findDevice enumerates tty devices via udev and returns the devnode
// of the first one matching id. This is the Go-native analogue of
// libftdi's ftdi_usb_open_desc enumeration.
func findDevice(id Identity) (string, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()

	if err := e.AddMatchSubsystem("tty"); err != nil {
		return "", fmt.Errorf("dmxlink: udev enumerate: %w", err)
	}

	devices, err := e.Devices()
	if err != nil {
		return "", fmt.Errorf("dmxlink: udev enumerate: %w", err)
	}

	wantVID := fmt.Sprintf("%04x", id.VID)
	wantPID := fmt.Sprintf("%04x", id.PID)

	for _, d := range devices {
		if d.PropertyValue("ID_VENDOR_ID") != wantVID {
			continue
		}

		if d.PropertyValue("ID_MODEL_ID") != wantPID {
			continue
		}

		if id.Serial != "" && d.PropertyValue("ID_SERIAL_SHORT") != id.Serial {
			continue
		}

		if id.Description != "" && d.PropertyValue("ID_MODEL") != id.Description {
			continue
		}

		if d.Devnode() != "" {
			return d.Devnode(), nil
		}
	}

	return "", ErrDeviceNotFound
}
