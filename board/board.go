// Package board defines the external-collaborator boundary this system's
// core consumes: the host-facing GPIO signals (stepper phases,
// drive-enable, write-request/data, read-pulse, write-protect, LED,
// card-detect) and the SD card's SPI transport. SPEC_FULL.md treats both
// as abstract capabilities; this package supplies one production binding
// (board_tamago.go, bare-metal i.MX6) and one host-development/test
// binding (board_sim.go).
package board

import "github.com/retrofloppy/diskii/sdcard"

// Board is the set of host-facing signals and the SD card transport the
// emulator core drives every tick.
type Board interface {
	// Phases returns the current one-hot (or spurious multi-bit) stepper
	// phase lines, bits 0-3.
	Phases() uint8
	// DriveEnabled reports the drive-enable line.
	DriveEnabled() bool
	// WriteRequested reports the write-request line's current level.
	WriteRequested() bool
	// ReadWriteByte returns the next byte the host has written since the
	// last call, if one has arrived.
	ReadWriteByte() (b byte, ok bool)
	// PulseRead drives the read-pulse output for the current bit cell:
	// true fires a pulse, false does not.
	PulseRead(bit bool)
	// SetLED drives the drive-activity LED.
	SetLED(on bool)
	// SetWriteProtect drives the write-protect output.
	SetWriteProtect(on bool)
	// CardPresent reports the SD card-detect line.
	CardPresent() bool
	// Transport returns the sdcard.Transport bound to this board's SPI bus.
	Transport() sdcard.Transport
}
