// Package slot implements the per-channel priority stack and the
// 512-channel DMX universe built from it.
package slot

import "math/bits"

// NumPriorities is the number of simultaneous priority levels a Slot
// can hold, one bit per priority in Slot.mask.
const NumPriorities = 32

// Slot holds up to NumPriorities prioritised candidate byte values for
// one DMX channel. Bit i of mask is set iff data[i] currently
// contributes to value(). Only the emitter goroutine ever touches a
// Slot; there is no internal locking.
type Slot struct {
	mask uint32
	data [NumPriorities]byte
}

// Set stores v as the candidate value at priority p and marks it
// active. p must be in [0, NumPriorities).
func (s *Slot) Set(p int, v byte) {
	s.data[p] = v
	s.mask |= 1 << uint(p)
}

// Clear deactivates priority p. The stored byte at data[p] is left in
// place but is no longer considered by Value.
func (s *Slot) Clear(p int) {
	s.mask &^= 1 << uint(p)
}

// Value returns the byte stored at the highest active priority, or 0
// if no priority is active.
func (s *Slot) Value() byte {
	if s.mask == 0 {
		return 0
	}

	top := 31 - bits.LeadingZeros32(s.mask)

	return s.data[top]
}

// Universe is the full 512-channel DMX state.
type Universe struct {
	Slots [512]Slot
}

// Snapshot writes the transmittable DMX payload into out, which must
// be exactly 513 bytes: the start code (0x00) followed by the 512
// resolved channel values.
func (u *Universe) Snapshot(out []byte) {
	if len(out) != 513 {
		panic("slot: Snapshot requires a 513-byte buffer")
	}

	out[0] = 0x00

	for i := range u.Slots {
		out[i+1] = u.Slots[i].Value()
	}
}
