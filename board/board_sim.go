package board

import (
	"sync"

	"github.com/retrofloppy/diskii/sdcard"
)

// Sim is an in-memory Board implementation for host development, the CLI's
// `serve --board=sim` target, and tests: it exposes plain setter methods in
// place of real GPIO lines, and a file-backed sdcard.FileTransport in place
// of real SPI, so the whole core can run against an ordinary disk-image
// file with no hardware attached.
type Sim struct {
	mu sync.Mutex

	phases       uint8
	driveEnabled bool
	writeReq     bool
	writeBytes   []byte

	led       bool
	wp        bool
	present   bool
	pulses    []bool
	transport sdcard.Transport
}

// NewSim wraps a Transport (typically an sdcard.FileTransport over a disk
// image file) as a Board. The card-detect line starts present.
func NewSim(transport sdcard.Transport) *Sim {
	return &Sim{transport: transport, present: true}
}

// SetPhases updates the simulated stepper phase lines.
func (s *Sim) SetPhases(p uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = p
}

// SetDriveEnabled updates the simulated drive-enable line.
func (s *Sim) SetDriveEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driveEnabled = on
}

// WriteByte queues one host-written byte and asserts the write-request
// line for the duration of the burst; call EndWrite once the burst ends.
func (s *Sim) WriteByte(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeReq = true
	s.writeBytes = append(s.writeBytes, b)
}

// EndWrite deasserts the write-request line.
func (s *Sim) EndWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeReq = false
}

// Eject/Reinsert simulate the card-detect line for CardEjected-path tests.
func (s *Sim) Eject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present = false
}

func (s *Sim) Reinsert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present = true
}

// Pulses returns every bit PulseRead has been called with so far, for test
// assertions on the emitted read stream.
func (s *Sim) Pulses() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.pulses))
	copy(out, s.pulses)
	return out
}

func (s *Sim) LED() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.led }
func (s *Sim) WriteProtect() bool  { s.mu.Lock(); defer s.mu.Unlock(); return s.wp }
func (s *Sim) Phases() uint8       { s.mu.Lock(); defer s.mu.Unlock(); return s.phases }
func (s *Sim) DriveEnabled() bool  { s.mu.Lock(); defer s.mu.Unlock(); return s.driveEnabled }
func (s *Sim) WriteRequested() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.writeReq }
func (s *Sim) CardPresent() bool   { s.mu.Lock(); defer s.mu.Unlock(); return s.present }

func (s *Sim) ReadWriteByte() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writeBytes) == 0 {
		return 0, false
	}
	b := s.writeBytes[0]
	s.writeBytes = s.writeBytes[1:]
	return b, true
}

func (s *Sim) PulseRead(bit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulses = append(s.pulses, bit)
}

func (s *Sim) SetLED(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.led = on
}

func (s *Sim) SetWriteProtect(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wp = on
}

func (s *Sim) Transport() sdcard.Transport { return s.transport }
