// Package dmxlink implements the DmxLink abstraction spec.md §6
// describes: opening an FTDI USB-to-serial adapter enumerated by VID,
// PID, and (optionally) serial number or product description, and
// transmitting DMX512-A frames over it with the required BREAK/MAB
// framing.
package dmxlink

import "errors"

// ErrLinkClosed is returned by SendFrame once the link has been
// closed; the emitter treats it as a fatal transmission error
// (spec.md §7, error kind 3).
var ErrLinkClosed = errors.New("dmxlink: link is closed")

// ErrWrongFrameSize is returned by SendFrame if handed anything other
// than a 513-byte DMX payload (start code + 512 channels).
var ErrWrongFrameSize = errors.New("dmxlink: frame must be exactly 513 bytes")

// ErrDeviceNotFound is returned by Open when no connected tty matches
// the requested VID/PID/description/serial.
var ErrDeviceNotFound = errors.New("dmxlink: no matching FTDI device found")

// FrameSize is the number of bytes SendFrame expects: a start code
// plus 512 DMX channels.
const FrameSize = 513

// Identity selects which USB-to-serial device to open.
type Identity struct {
	VID         uint16
	PID         uint16
	Description string // optional, empty means "don't filter on this"
	Serial      string // optional
}

// DmxLink is the hardware abstraction the Emitter and Supervisor
// depend on. Implementations own the physical transport; SendFrame is
// responsible for the BREAK/MAB framing as well as the payload write.
type DmxLink interface {
	// SendFrame transmits one complete DMX512-A frame. payload must be
	// exactly FrameSize bytes. A returned error is always treated as
	// fatal by the caller (spec.md §7).
	SendFrame(payload []byte) error

	// Close releases the underlying device. Best-effort; safe to call
	// more than once.
	Close() error
}
