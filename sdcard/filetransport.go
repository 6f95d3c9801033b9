package sdcard

import (
	"context"
	"io"
)

// transportState tracks where a FileTransport is within one command's
// byte sequence, since the fake has to answer each ReadBytes call with
// whatever byte SdBlock expects next (data token, then payload, then CRC;
// or data response, then a released-busy byte).
type transportState int

const (
	stateIdle transportState = iota
	stateReadToken
	stateReadPayload
	stateReadCRC
	stateWriteResponse
	stateWriteBusy
)

// FileTransport is a host-side Transport that simulates an SD card backed
// by an io.ReaderAt/io.WriterAt (typically an *os.File holding a raw disk
// image), for the CLI tools and tests that need SdBlock without real SPI
// hardware. It always reports the card present unless Eject is called.
//
// Modeled on soypat-fat's BlockByteSlice/BlockMap fakes (vfs_test.go): a
// plain backing store driven through the same command interface real code
// uses, rather than a second parallel mock of SdBlock itself.
type FileTransport struct {
	rw      io.ReaderAt
	wr      io.WriterAt
	present bool

	state transportState
	arg   uint32
}

// NewFileTransport wraps a backing store. wr may be nil for a read-only
// transport (WriteBlock/Patch then fail at the write stage).
func NewFileTransport(rw io.ReaderAt, wr io.WriterAt) *FileTransport {
	return &FileTransport{rw: rw, wr: wr, present: true}
}

// Eject simulates card removal; subsequent operations return ErrCardEjected.
func (f *FileTransport) Eject() { f.present = false }

// Reinsert simulates the card being reinserted.
func (f *FileTransport) Reinsert() { f.present = true }

func (f *FileTransport) CardPresent() bool { return f.present }

func (f *FileTransport) Command(ctx context.Context, index byte, arg uint32) (byte, error) {
	switch index {
	case cmd0:
		return r1Idle, nil
	case cmd17:
		f.state = stateReadToken
		f.arg = arg
	case cmd24:
		f.state = stateWriteResponse
		f.arg = arg
	}
	return 0, nil
}

func (f *FileTransport) ReadBytes(ctx context.Context, dst []byte) error {
	switch f.state {
	case stateReadToken:
		dst[0] = dataToken
		f.state = stateReadPayload
		return nil
	case stateReadPayload:
		n, err := f.rw.ReadAt(dst, int64(f.arg))
		if err != nil && err != io.EOF {
			return err
		}
		for i := n; i < len(dst); i++ {
			dst[i] = 0
		}
		f.state = stateReadCRC
		return nil
	case stateReadCRC:
		clear(dst)
		f.state = stateIdle
		return nil
	case stateWriteResponse:
		dst[0] = 0x05 // data accepted
		f.state = stateWriteBusy
		return nil
	case stateWriteBusy:
		dst[0] = 0xFF // released, not busy
		f.state = stateIdle
		return nil
	default:
		for i := range dst {
			dst[i] = 0xFF
		}
		return nil
	}
}

func (f *FileTransport) WriteBytes(ctx context.Context, src []byte) error {
	if len(src) == BlockLen {
		if f.wr == nil {
			return io.ErrClosedPipe
		}
		_, err := f.wr.WriteAt(src, int64(f.arg))
		return err
	}
	return nil
}
