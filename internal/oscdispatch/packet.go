package oscdispatch

import (
	"encoding/binary"
	"errors"
)

// ErrMalformedPacket is returned by DecodePacket when the raw bytes
// are not a structurally valid OSC packet. Callers drop the datagram
// and continue (spec.md §7, error kind 2).
var ErrMalformedPacket = errors.New("oscdispatch: malformed OSC packet")

// Immediate is the NTP time-tag sentinel meaning "dispatch now"
// (seconds=0, fraction=1), per spec.md §3.
const Immediate uint64 = 1

// Message is a decoded OSC message: an address plus, if present, its
// first int32 argument. Only int32 ('i') arguments are meaningful to
// this bridge (spec.md §3); any other first argument type is treated
// the same as no argument at all (a clear).
type Message struct {
	Address string
	HasArg  bool
	Arg     int32
}

// Packet is the result of decoding one OSC datagram (or one bundle
// element): either a single Message, or a Bundle's Timetag with its
// nested elements (themselves raw, not-yet-decoded OSC packets, to be
// decoded recursively by the caller).
type Packet struct {
	Message *Message // non-nil for a plain message

	IsBundle bool
	Timetag  uint64
	Elements [][]byte // raw sub-packets, only set when IsBundle
}

// DecodePacket decodes one top-level OSC datagram: either a message or
// a #bundle. It does not recurse into bundle elements; callers drive
// that recursion themselves so they can apply the bundle's Timetag to
// each element (spec.md §4.4's "recurses into each element, passing
// the bundle's time-tag downward").
func DecodePacket(raw []byte) (Packet, error) {
	if len(raw) == 0 {
		return Packet{}, ErrMalformedPacket
	}

	switch raw[0] {
	case '#':
		return decodeBundle(raw)
	case '/':
		msg, err := decodeMessage(raw)
		if err != nil {
			return Packet{}, err
		}

		return Packet{Message: &msg}, nil
	default:
		return Packet{}, ErrMalformedPacket
	}
}

const bundleTag = "#bundle\x00"

func decodeBundle(raw []byte) (Packet, error) {
	if len(raw) < len(bundleTag)+8 || string(raw[:len(bundleTag)]) != bundleTag {
		return Packet{}, ErrMalformedPacket
	}

	rest := raw[len(bundleTag):]
	timetag := binary.BigEndian.Uint64(rest[:8])
	rest = rest[8:]

	var elements [][]byte

	for len(rest) > 0 {
		if len(rest) < 4 {
			return Packet{}, ErrMalformedPacket
		}

		size := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]

		if uint32(len(rest)) < size {
			return Packet{}, ErrMalformedPacket
		}

		elements = append(elements, rest[:size])
		rest = rest[size:]
	}

	return Packet{IsBundle: true, Timetag: timetag, Elements: elements}, nil
}

func decodeMessage(raw []byte) (Message, error) {
	address, rest, err := readOSCString(raw)
	if err != nil {
		return Message{}, err
	}

	if len(rest) == 0 {
		// No type-tag string at all: a zero-argument message.
		return Message{Address: address}, nil
	}

	typeTags, rest, err := readOSCString(rest)
	if err != nil {
		return Message{}, err
	}

	if len(typeTags) == 0 || typeTags[0] != ',' {
		// No type-tag string: treat as a zero-argument message, the
		// same as an explicit ",".
		return Message{Address: address}, nil
	}

	types := typeTags[1:]
	if len(types) == 0 {
		return Message{Address: address}, nil
	}

	switch types[0] {
	case 'i':
		if len(rest) < 4 {
			return Message{}, ErrMalformedPacket
		}

		v := int32(binary.BigEndian.Uint32(rest[:4]))

		return Message{Address: address, HasArg: true, Arg: v}, nil
	default:
		// Any other first argument type (float, string, blob, ...) is
		// not meaningful to a /dmx/<ch>/<prio> message; spec.md §3
		// only assigns meaning to an int32 argument.
		return Message{Address: address}, nil
	}
}

// readOSCString reads a null-terminated string padded to a 4-byte
// boundary (OSC 1.0 §"OSC String"), returning the string and the
// remaining bytes.
func readOSCString(buf []byte) (string, []byte, error) {
	nul := -1

	for i, b := range buf {
		if b == 0 {
			nul = i
			break
		}
	}

	if nul == -1 {
		return "", nil, ErrMalformedPacket
	}

	padded := (nul + 1 + 3) &^ 3
	if padded > len(buf) {
		return "", nil, ErrMalformedPacket
	}

	return string(buf[:nul]), buf[padded:], nil
}
