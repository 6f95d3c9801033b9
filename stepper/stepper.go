// Package stepper decodes the Apple II disk stepper-motor phase lines into
// head motion, in quarter-track units, exactly reproducing the original
// firmware's stepper_table-driven state machine.
package stepper

// deltaTable maps the 3-bit (newPhaseOffset+physTrack)&7 index to a signed
// quarter-track delta. Derived from the original firmware's stepper_table
// nibbles {0x0f, 0xed, 0x03, 0x21}: index 4 is the phase-directly-opposite
// case and is always spurious, so it yields no motion rather than the ±4
// the raw nibble arithmetic would otherwise imply.
var deltaTable = [8]int8{0, -1, -2, -3, 0, 3, 2, 1}

// phaseBase maps a single asserted phase line to the stepper_table base
// offset the original firmware used for that phase.
func phaseBase(phaseBits uint8) (base uint8, ok bool) {
	switch phaseBits {
	case 0b0001:
		return 0, true
	case 0b0010:
		return 6, true
	case 0b0100:
		return 4, true
	case 0b1000:
		return 2, true
	default:
		return 0, false
	}
}

// HeadTracker tracks the drive head's quarter-track position from the raw
// 4-bit stepper phase lines. The zero value starts at track 0, matching
// the original firmware's ph_track = 0 on init.
type HeadTracker struct {
	physTrack uint8 // quarter-tracks, clamped to [0, 139]
	lastPhase uint8
}

// PhysTrack returns the current head position in quarter-tracks (0-139).
func (h *HeadTracker) PhysTrack() uint8 { return h.physTrack }

// Track returns the whole-track number the head currently sits over.
func (h *HeadTracker) Track() uint8 { return h.physTrack >> 2 }

// Step samples the 4-bit phase lines and updates the head position if they
// changed since the last call. Multi-bit or all-zero phase states (no
// single phase asserted) are ignored, matching the firmware treating them
// as "ofs == 0xff" and skipping the step entirely.
func (h *HeadTracker) Step(phaseBits uint8) {
	phaseBits &= 0x0F
	if phaseBits == h.lastPhase {
		return
	}
	h.lastPhase = phaseBits

	base, ok := phaseBase(phaseBits)
	if !ok {
		return
	}

	ofs := (base + h.physTrack) & 7
	h.physTrack += uint8(deltaTable[ofs])
	if h.physTrack > 196 {
		h.physTrack = 0
	}
	if h.physTrack > 139 {
		h.physTrack = 139
	}
}
