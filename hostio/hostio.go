// Package hostio is the real-time host-facing state machine: on each
// sector tick it resolves the current (track, sector) to an SD card
// offset, streams the 512-byte NIC block to the host a bit at a time, and
// captures host-written nibbles into a small write-back buffer pool
// (WriteBuffer) that it coalesces and lazily flushes.
package hostio

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/retrofloppy/diskii/nic"
	"github.com/retrofloppy/diskii/sdcard"
)

// dataEpilogueByte is the byte offset of the data-field epilogue within a
// NIC block: the meaningful content a real drive's read head would pass
// over ends here, even though the block is padded to 512 bytes on the SD
// card (see nic.BlockLen and SPEC_FULL.md §9's magic constants).
const dataEpilogueByte = 402

// drainByte is the byte position CancelRead moves the bit cursor to when
// it abandons a stream before the data epilogue.
const drainByte = 514

const sectorsPerTrack = 16

// ErrNoStagedBlock is the error value for "not streaming". TickBit does
// not return it; it reports that case with active == false.
var ErrNoStagedBlock = errors.New("hostio: not streaming")

// State is HostIO's per-sector state.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateStreaming
	StateCapturing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateStreaming:
		return "streaming"
	case StateCapturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// Resolver maps a (track, physical sector) pair to the absolute SD card
// byte offset of the 512-byte NIC block holding it. It is built once at
// mount time (see emulator's buildSectorTable) from the FAT chain, since
// HostIO's per-tick access pattern — random single-sector lookups under
// interrupt — can't afford a WalkChain call on every sector.
type Resolver func(track, sector byte) (int64, error)

type burstKind int

const (
	burstNone burstKind = iota
	burstAddr
	burstData
)

// HostIO drives one sector's worth of traffic at a time: Service is the
// foreground-loop body (stage the next sector when due), TickBit is the
// timer-interrupt body (emit one read-pulse bit), and BeginWrite/
// CaptureByte/EndWrite are driven by the edge-triggered write-request line.
type HostIO struct {
	sd      *sdcard.SdBlock
	wb      *WriteBuffer
	resolve Resolver
	log     *slog.Logger

	state State
	track byte // set by the foreground loop from stepper.HeadTracker.Track()
	sector byte // current physical sector position, 0-15, advances as the disk spins

	bitCursor int
	prepare   bool
	formatting bool

	staged [sdcard.BlockLen]byte

	// write-capture burst tracking.
	burst               [9]byte
	burstLen            int
	burstKind           burstKind
	dataSlot            int
	pendingFormatSector byte
}

// New builds a HostIO around a mounted SdBlock, a WriteBuffer pool and a
// sector resolver. A nil logger discards all log output. prepare starts
// true so the very first Service call advances the sector counter from 0
// and stages sector 1.
func New(sd *sdcard.SdBlock, wb *WriteBuffer, resolve Resolver, log *slog.Logger) *HostIO {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HostIO{sd: sd, wb: wb, resolve: resolve, log: log, prepare: true, dataSlot: -1}
}

// State returns the current state.
func (h *HostIO) State() State { return h.state }

// Track and Sector report the (track, sector) currently staged/streaming.
func (h *HostIO) Track() byte  { return h.track }
func (h *HostIO) Sector() byte { return h.sector }

// Formatting reports whether the host is mid-format: an address-field
// sync mark has been observed since the last EndFormat. Data-field
// captures do not clear it.
func (h *HostIO) Formatting() bool { return h.formatting }

// SetTrack updates the track the head currently sits over. Called once
// per foreground tick from stepper.HeadTracker.Track(), before Service.
func (h *HostIO) SetTrack(track byte) { h.track = track }

// Service is the foreground-loop body: if drive-enable is asserted and a
// new sector load is due (prepare == true), it advances the physical
// sector counter, flushes the write buffer first if that sector is
// currently sitting in it (write-then-read coherence), stages the SD
// card's 512-byte block, and enters Streaming.
func (h *HostIO) Service(ctx context.Context, driveEnabled bool) error {
	if !driveEnabled {
		return nil
	}
	if !h.prepare {
		return nil
	}

	h.sector = (h.sector + 1) & 0x0F

	if h.wb.Contains(h.track, h.sector) {
		if err := h.wb.Flush(ctx, h.sd, h.resolve); err != nil {
			return err
		}
	}

	off, err := h.resolve(h.track, h.sector)
	if err != nil {
		return err
	}
	if err := h.sd.ReadBlock(ctx, uint32(off), h.staged[:]); err != nil {
		return err
	}

	h.bitCursor = 0
	h.prepare = false
	h.state = StateStreaming
	return nil
}

// TickBit is the timer-interrupt body: it consumes one bit from the
// staged block and reports whether the read-pulse line should fire this
// cell. active is false if there is nothing staged to stream. Once the
// cursor reaches the data-field epilogue, the block is considered fully
// delivered and HostIO returns to Idle with prepare armed for the next
// sector.
func (h *HostIO) TickBit() (pulse bool, active bool) {
	if h.state != StateStreaming {
		return false, false
	}
	byteIdx := h.bitCursor / 8
	bitIdx := 7 - h.bitCursor%8
	bit := (h.staged[byteIdx] >> uint(bitIdx)) & 1
	h.bitCursor++

	if h.bitCursor >= dataEpilogueByte*8 {
		h.state = StateIdle
		h.prepare = true
	}
	return bit == 1, true
}

// CancelRead abandons the current stream. If the meaningful NIC content
// (through the data epilogue) hasn't been delivered yet, it moves the bit
// cursor to drainByte. It then returns to Idle with prepare armed. No
// further bits are emitted: the remaining bytes are not pulsed out to
// the host.
func (h *HostIO) CancelRead() {
	if h.bitCursor < dataEpilogueByte*8 {
		h.bitCursor = drainByte * 8
	}
	h.state = StateIdle
	h.prepare = true
}

// BeginWrite is called on the write-request line's rising edge: it
// switches to Capturing and resets the burst-detection scratch state.
func (h *HostIO) BeginWrite() {
	h.state = StateCapturing
	h.burstLen = 0
	h.burstKind = burstNone
	h.dataSlot = -1
}

// expectedSectorForCapture returns the (track, sector) identity a
// newly-recognized data-field capture should be filed under: the sector
// declared by the most recent address field while formatting, or the
// drive's current rotational sector position otherwise.
func (h *HostIO) expectedSectorForCapture() byte {
	if h.formatting {
		return h.pendingFormatSector
	}
	return h.sector
}

// CaptureByte stores one host-written byte. The first three bytes of each
// write-request burst are held back in a small scratch window until byte
// offset 2 reveals whether this is an address-field sync (0x96) or a
// data-field sync (0xAD); bytes belonging to a recognized data field are
// forwarded into the write buffer's reserved slot as they arrive.
//
// This implementation treats the address field and the data field as two
// separate write-request bursts, per the spec's own observed-behavior
// note — real hardware traces may show the host issuing both within a
// single burst, which would need re-deriving this logic.
func (h *HostIO) CaptureByte(b byte) {
	if h.dataSlot >= 0 {
		h.wb.CaptureByte(h.dataSlot, b)
		return
	}

	if h.burstLen < len(h.burst) {
		h.burst[h.burstLen] = b
	}
	h.burstLen++

	if h.burstLen == 3 {
		switch h.burst[2] {
		case 0x96:
			h.burstKind = burstAddr
		case 0xAD:
			h.burstKind = burstData
			slot := h.wb.BeginCapture(h.track, h.expectedSectorForCapture())
			h.dataSlot = slot
			for i := 0; i < 3; i++ {
				h.wb.CaptureByte(slot, h.burst[i])
			}
		default:
			h.burstKind = burstNone
		}
	}

	if h.burstKind == burstAddr && h.burstLen == 9 {
		h.pendingFormatSector = nic.Decode4and4(h.burst[7], h.burst[8])
		h.formatting = true
	}
}

// nextExpectedSector advances the host-expected sector counter using the
// odd interleave mapping a sequence of writes follows: 0xF wraps to 0x11
// (which then masks down to 1), 0xD steps back to 0xF, everything else is
// a plain +1. This preserves the interleave the host's write routine
// expects to see between consecutive sector writes.
func nextExpectedSector(s byte) byte {
	var next byte
	switch s {
	case 0x0F:
		next = 0x11
	case 0x0D:
		next = 0x0F
	default:
		next = s + 1
	}
	return next & 0x0F
}

// EndWrite is called on the write-request line's falling edge. If a
// data-field capture was in progress, it finalizes the slot: advances the
// host-expected sector counter, and flushes the pool (arming prepare) if
// it's now full.
func (h *HostIO) EndWrite(ctx context.Context) error {
	if h.dataSlot >= 0 {
		h.sector = nextExpectedSector(h.sector)
		if h.wb.Full() {
			if err := h.wb.Flush(ctx, h.sd, h.resolve); err != nil {
				return err
			}
			h.prepare = true
		}
		h.dataSlot = -1
	}
	h.burstLen = 0
	h.burstKind = burstNone
	h.state = StateIdle
	return nil
}

// EndFormat clears the formatting flag once the host's format operation
// is done and flushes the WriteBuffer pool, per SPEC_FULL.md §2's
// WriteBuffer flush triggers.
func (h *HostIO) EndFormat(ctx context.Context) error {
	h.formatting = false
	return h.wb.Flush(ctx, h.sd, h.resolve)
}
