package emulator

import (
	"context"
	"errors"

	"github.com/retrofloppy/diskii/board"
	"github.com/retrofloppy/diskii/hostio"
	"github.com/retrofloppy/diskii/sdcard"
)

// ServiceTick is the foreground loop body (cmd/diskii serve calls this in a
// tight loop, once per bit-cell at the host's bit rate): it samples the
// stepper phases and drive-enable/write-request lines, and drives HostIO's
// state machine, masking critSec around every SD/FAT/WriteBuffer mutation
// exactly as the concurrency model requires.
func (e *Emulator) ServiceTick(ctx context.Context, brd board.Board) error {
	if !brd.CardPresent() {
		e.HandleEject(brd)
		return sdcard.ErrCardEjected
	}

	if !e.Mounted() {
		brd.SetLED(true)
		return nil
	}

	e.head.Step(brd.Phases())

	if !brd.DriveEnabled() {
		e.critSec.Lock()
		formatting := e.hio.Formatting()
		if formatting {
			_ = e.hio.EndFormat(ctx)
		}
		e.critSec.Unlock()
		brd.SetLED(false)
		return nil
	}

	e.hio.SetTrack(e.head.Track())

	if brd.WriteRequested() {
		if e.hio.State() != hostio.StateCapturing {
			e.hio.BeginWrite()
		}
		for {
			b, ok := brd.ReadWriteByte()
			if !ok {
				break
			}
			e.critSec.Lock()
			e.hio.CaptureByte(b)
			e.critSec.Unlock()
		}
		brd.SetLED(true)
		return nil
	}

	if e.hio.State() == hostio.StateCapturing {
		e.critSec.Lock()
		err := e.hio.EndWrite(ctx)
		e.critSec.Unlock()
		if err != nil {
			return e.handleIOErr(ctx, brd, err)
		}
	}

	e.critSec.Lock()
	err := e.hio.Service(ctx, true)
	e.critSec.Unlock()
	if err != nil {
		return e.handleIOErr(ctx, brd, err)
	}

	pulse, active := e.hio.TickBit()
	if active {
		brd.PulseRead(pulse)
	}
	brd.SetLED(true)
	return nil
}

// handleIOErr demotes the emulator to unmounted on card ejection so the
// caller can idle until HandleReinsert succeeds; any other error is
// propagated unchanged.
func (e *Emulator) handleIOErr(ctx context.Context, brd board.Board, err error) error {
	if errors.Is(err, sdcard.ErrCardEjected) || ctx.Err() != nil {
		e.HandleEject(brd)
	}
	return err
}

// HandleEject disarms the mounted state. The next successful HandleReinsert
// (or external Mount call) brings the emulator back up.
func (e *Emulator) HandleEject(brd board.Board) {
	e.critSec.Lock()
	e.mounted = false
	e.critSec.Unlock()
	brd.SetLED(true)
	e.log.Warn("emulator:eject")
}

// HandleReinsert re-mounts the volume after a card reinsertion.
func (e *Emulator) HandleReinsert(ctx context.Context, brd board.Board) error {
	e.log.Info("emulator:reinsert")
	return e.Mount(ctx, brd)
}
