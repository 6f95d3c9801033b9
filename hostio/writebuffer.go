package hostio

import (
	"context"
	"io"
	"log/slog"

	"github.com/retrofloppy/diskii/gcr"
	"github.com/retrofloppy/diskii/nic"
	"github.com/retrofloppy/diskii/sdcard"
)

// NumWriteSlots is the size of the write-back buffer pool.
const NumWriteSlots = 5

// noneMarker is the NONE sentinel for an empty slot's track/sector fields.
const noneMarker = 0xFF

// CaptureLen is the number of bytes captured per write-buffer slot: a short
// lead-in (the D5 AA AD data-field prologue, 3 bytes) plus the 343-byte GCR
// payload, rounded up with a few trailing bytes of slack so a slightly long
// capture burst never overruns the slot.
const CaptureLen = 350

// capturePrologueLen is the number of lead-in bytes preceding the GCR
// payload within a captured slot.
const capturePrologueLen = 3

// volumeID is the fixed Disk II volume number this system stamps into every
// address field it writes back, matching convert's ImageConverter.
const volumeID = 0xFE

type writeSlot struct {
	track, sector byte
	payload       [CaptureLen]byte
	writePtr      int
}

func (s *writeSlot) empty() bool { return s.track == noneMarker }

func (s *writeSlot) clear() {
	s.track = noneMarker
	s.sector = noneMarker
	s.writePtr = 0
}

// WriteBuffer is the pool of captured-but-not-yet-committed physical
// sectors: at most NumWriteSlots sectors, each identified by (track,
// sector), coalescing repeat writes to the same sector and deferring the
// SD card write until the pool is full, the host re-reads a buffered
// sector, or a format operation ends.
type WriteBuffer struct {
	slots  [NumWriteSlots]writeSlot
	bufNum int // slots[0:bufNum] hold valid captures; slots[bufNum:] are empty
	log    *slog.Logger
}

// NewWriteBuffer returns an empty write buffer. A nil logger discards all
// log output.
func NewWriteBuffer(log *slog.Logger) *WriteBuffer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &WriteBuffer{log: log}
	w.reset()
	return w
}

func (w *WriteBuffer) reset() {
	for i := range w.slots {
		w.slots[i].clear()
	}
	w.bufNum = 0
}

// Full reports whether every slot is occupied.
func (w *WriteBuffer) Full() bool { return w.bufNum >= NumWriteSlots }

// Contains reports whether (track, sector) is currently sitting in any
// occupied slot — the coherence check HostIO runs before staging a sector
// for read, so the host never observes a stale copy of its own write.
func (w *WriteBuffer) Contains(track, sector byte) bool {
	for i := 0; i < w.bufNum; i++ {
		if w.slots[i].track == track && w.slots[i].sector == sector {
			return true
		}
	}
	return false
}

// BeginCapture reserves a slot for (track, sector) and returns its index
// for subsequent CaptureByte calls. If (track, sector) is already sitting
// in an occupied slot — a re-write of the same physical sector before the
// pool has been flushed — that slot is reused in place, preserving the
// pool's one-slot-per-(track,sector) invariant instead of growing a
// duplicate. Otherwise the next free slot is taken; if the pool is already
// full, the last slot is reused as a defensive fallback so a malformed
// host write sequence can't overrun the array.
func (w *WriteBuffer) BeginCapture(track, sector byte) int {
	for i := 0; i < w.bufNum; i++ {
		if w.slots[i].track == track && w.slots[i].sector == sector {
			w.slots[i].writePtr = 0
			return i
		}
	}
	idx := w.bufNum
	if idx >= NumWriteSlots {
		idx = NumWriteSlots - 1
	} else {
		w.bufNum++
	}
	w.slots[idx].track = track
	w.slots[idx].sector = sector
	w.slots[idx].writePtr = 0
	return idx
}

// CaptureByte stores one host-written byte into the given slot's payload,
// ignoring bytes beyond CaptureLen (the burst's own framing guarantees it
// never runs that long in practice).
func (w *WriteBuffer) CaptureByte(slot int, b byte) {
	s := &w.slots[slot]
	if s.writePtr < len(s.payload) {
		s.payload[s.writePtr] = b
		s.writePtr++
	}
}

// Flush reframes every occupied slot's captured GCR payload back into NIC
// block format, using resolve to map (track, sector) to an absolute SD
// card byte offset, writes each block, then clears the whole pool.
func (w *WriteBuffer) Flush(ctx context.Context, sd *sdcard.SdBlock, resolve Resolver) error {
	for i := 0; i < w.bufNum; i++ {
		s := &w.slots[i]
		if s.empty() {
			continue
		}
		var payload [gcr.PayloadLen]byte
		copy(payload[:], s.payload[capturePrologueLen:capturePrologueLen+gcr.PayloadLen])

		addr := nic.Address{Volume: volumeID, Track: s.track, Sector: s.sector}
		blk := nic.AssembleRaw(addr, &payload)

		off, err := resolve(s.track, s.sector)
		if err != nil {
			return err
		}
		if err := sd.WriteBlock(ctx, uint32(off), blk[:]); err != nil {
			return err
		}
		w.log.Debug("hostio:writebuffer flush", slog.Int("track", int(s.track)), slog.Int("sector", int(s.sector)))
	}
	w.reset()
	return nil
}
