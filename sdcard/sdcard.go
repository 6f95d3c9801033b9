// Package sdcard speaks the byte-oriented SD card command/response protocol
// over an abstract SPI transport and presents the result as 512-byte block
// I/O, including the fat16.BlockDevice surface the filesystem layer mounts
// directly on top of.
package sdcard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// BlockLen is the fixed SD card block size this package operates at.
const BlockLen = 512

// ErrCardEjected is returned by every blocking operation the moment the
// card-present line deasserts mid-transfer. A cancelled ctx is reported
// as ctx.Err() instead.
var ErrCardEjected = errors.New("sdcard: card ejected")

// ErrNoResponse is returned when a command's R1 response never arrives
// within the retry budget Init/command helpers allow.
var ErrNoResponse = errors.New("sdcard: no response from card")

// ErrBadDataToken is returned when ReadBlock's data token byte isn't 0xFE.
var ErrBadDataToken = errors.New("sdcard: unexpected data token")

const (
	cmd0   = 0  // GO_IDLE_STATE
	cmd16  = 16 // SET_BLOCKLEN
	cmd17  = 17 // READ_SINGLE_BLOCK
	cmd24  = 24 // WRITE_SINGLE_BLOCK
	cmd55  = 55 // APP_CMD
	acmd41 = 41 // SD_SEND_OP_COND

	r1Idle    = 0x01
	dataToken = 0xFE
)

// Transport is the SPI byte channel the SD card sits on, and the
// card-detect line alongside it. Implementations are expected to be the
// external collaborator: a bit-banged or hardware SPI peripheral on real
// boards, or an in-memory/file-backed fake for host tools and tests.
type Transport interface {
	// Command sends a 6-byte SD command frame and returns the first
	// non-0xFF byte read back (the R1 response), or an error.
	Command(ctx context.Context, index byte, arg uint32) (r1 byte, err error)
	// ReadBytes clocks out len(dst) 0xFF bytes and records what comes back.
	ReadBytes(ctx context.Context, dst []byte) error
	// WriteBytes clocks out src verbatim.
	WriteBytes(ctx context.Context, src []byte) error
	// CardPresent reports the current state of the card-detect line.
	// Polled between every byte/command of a blocking operation.
	CardPresent() bool
}

// SdBlock is a mounted SD card accessed at block granularity.
type SdBlock struct {
	tp  Transport
	log *slog.Logger
}

// New wraps a Transport. A nil logger discards all log output.
func New(tp Transport, log *slog.Logger) *SdBlock {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SdBlock{tp: tp, log: log}
}

func (s *SdBlock) checkPresent() error {
	if !s.tp.CardPresent() {
		return ErrCardEjected
	}
	return nil
}

// Init brings the card out of reset: CMD0 until idle, then CMD55+ACMD41
// until the card leaves idle state.
func (s *SdBlock) Init(ctx context.Context) error {
	s.log.Debug("sdcard:init")
	for i := 0; i < 64; i++ {
		if err := s.checkPresent(); err != nil {
			return err
		}
		r1, err := s.tp.Command(ctx, cmd0, 0)
		if err != nil {
			return err
		}
		if r1 == r1Idle {
			break
		}
		if i == 63 {
			return ErrNoResponse
		}
	}
	for i := 0; i < 4096; i++ {
		if err := s.checkPresent(); err != nil {
			return err
		}
		if _, err := s.tp.Command(ctx, cmd55, 0); err != nil {
			return err
		}
		r1, err := s.tp.Command(ctx, acmd41, 0)
		if err != nil {
			return err
		}
		if r1 == 0 {
			s.log.Debug("sdcard:init done", slog.Int("attempts", i+1))
			return nil
		}
	}
	return ErrNoResponse
}

// ReadBlock reads one 512-byte block starting at the given byte offset
// (CMD17). dst must be exactly BlockLen bytes.
func (s *SdBlock) ReadBlock(ctx context.Context, lbaBytes uint32, dst []byte) error {
	if len(dst) != BlockLen {
		return fmt.Errorf("sdcard: ReadBlock dst must be %d bytes, got %d", BlockLen, len(dst))
	}
	if err := s.checkPresent(); err != nil {
		return err
	}
	r1, err := s.tp.Command(ctx, cmd17, lbaBytes)
	if err != nil {
		return err
	}
	if r1 != 0 {
		return fmt.Errorf("sdcard: cmd17 r1=%#x", r1)
	}
	var tok [1]byte
	for {
		if err := s.checkPresent(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.tp.ReadBytes(ctx, tok[:]); err != nil {
			return err
		}
		if tok[0] != 0xFF {
			break
		}
	}
	if tok[0] != dataToken {
		return ErrBadDataToken
	}
	if err := s.tp.ReadBytes(ctx, dst); err != nil {
		return err
	}
	var crc [2]byte
	return s.tp.ReadBytes(ctx, crc[:])
}

// WriteBlock writes one 512-byte block starting at the given byte offset
// (CMD24), then polls for the card to release busy.
func (s *SdBlock) WriteBlock(ctx context.Context, lbaBytes uint32, src []byte) error {
	if len(src) != BlockLen {
		return fmt.Errorf("sdcard: WriteBlock src must be %d bytes, got %d", BlockLen, len(src))
	}
	if err := s.checkPresent(); err != nil {
		return err
	}
	r1, err := s.tp.Command(ctx, cmd24, lbaBytes)
	if err != nil {
		return err
	}
	if r1 != 0 {
		return fmt.Errorf("sdcard: cmd24 r1=%#x", r1)
	}
	if err := s.tp.WriteBytes(ctx, []byte{0xFF, dataToken}); err != nil {
		return err
	}
	if err := s.tp.WriteBytes(ctx, src); err != nil {
		return err
	}
	if err := s.tp.WriteBytes(ctx, []byte{0xFF, 0xFF}); err != nil {
		return err
	}
	var resp [1]byte
	if err := s.tp.ReadBytes(ctx, resp[:]); err != nil {
		return err
	}
	if resp[0]&0x1F != 0x05 {
		return fmt.Errorf("sdcard: write data response %#x", resp[0])
	}
	var busy [1]byte
	for {
		if err := s.checkPresent(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.tp.ReadBytes(ctx, busy[:]); err != nil {
			return err
		}
		if busy[0] != 0x00 {
			break
		}
	}
	return nil
}

// Patch overlays bytes at offset within the block containing lbaBytes: a
// read-modify-write convenience for the small, sub-block edits the FAT
// directory and table regions need (a single directory entry field, a
// single FAT16 table entry).
func (s *SdBlock) Patch(ctx context.Context, lbaBytes uint32, offset int, bytes []byte) error {
	if offset < 0 || offset+len(bytes) > BlockLen {
		return fmt.Errorf("sdcard: patch [%d:%d] out of block bounds", offset, offset+len(bytes))
	}
	var blk [BlockLen]byte
	if err := s.ReadBlock(ctx, lbaBytes, blk[:]); err != nil {
		return err
	}
	copy(blk[offset:], bytes)
	return s.WriteBlock(ctx, lbaBytes, blk[:])
}

// ReadBlocks implements fat16.BlockDevice: reads consecutive 512-byte
// blocks starting at startBlock into dst.
func (s *SdBlock) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	if len(dst)%BlockLen != 0 {
		return 0, errors.New("sdcard: dst size not a multiple of block size")
	}
	ctx := context.Background()
	n := 0
	for len(dst) > 0 {
		off := uint32((startBlock + int64(n)/BlockLen) * BlockLen)
		if err := s.ReadBlock(ctx, off, dst[:BlockLen]); err != nil {
			return n, err
		}
		dst = dst[BlockLen:]
		n += BlockLen
	}
	return n, nil
}

// WriteBlocks implements fat16.BlockDevice: writes consecutive 512-byte
// blocks starting at startBlock from data.
func (s *SdBlock) WriteBlocks(data []byte, startBlock int64) (int, error) {
	if len(data)%BlockLen != 0 {
		return 0, errors.New("sdcard: data size not a multiple of block size")
	}
	ctx := context.Background()
	n := 0
	for len(data) > 0 {
		off := uint32((startBlock + int64(n)/BlockLen) * BlockLen)
		if err := s.WriteBlock(ctx, off, data[:BlockLen]); err != nil {
			return n, err
		}
		data = data[BlockLen:]
		n += BlockLen
	}
	return n, nil
}

// EraseBlocks implements fat16.BlockDevice by writing zeroed blocks; the SD
// protocol this package speaks has no erase command of its own.
func (s *SdBlock) EraseBlocks(startBlock, numBlocks int64) error {
	if startBlock < 0 || numBlocks <= 0 {
		return errors.New("sdcard: invalid erase parameters")
	}
	var zero [BlockLen]byte
	ctx := context.Background()
	for i := int64(0); i < numBlocks; i++ {
		if err := s.WriteBlock(ctx, uint32((startBlock+i)*BlockLen), zero[:]); err != nil {
			return err
		}
	}
	return nil
}
