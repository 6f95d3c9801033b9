package hostio

import (
	"context"
	"testing"

	"github.com/retrofloppy/diskii/gcr"
	"github.com/retrofloppy/diskii/sdcard"
	"github.com/stretchr/testify/require"
)

type memDisk struct {
	data []byte
}

func newMemDisk(size int) *memDisk { return &memDisk{data: make([]byte, size)} }

func (m *memDisk) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.data[off:]), nil
}

func (m *memDisk) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.data[off:], p), nil
}

func newTestSd(t *testing.T, disk *memDisk) *sdcard.SdBlock {
	t.Helper()
	tp := sdcard.NewFileTransport(disk, disk)
	sd := sdcard.New(tp, nil)
	require.NoError(t, sd.Init(context.Background()))
	return sd
}

func TestWriteBufferUniquenessAndCoalescing(t *testing.T) {
	wb := NewWriteBuffer(nil)
	s1 := wb.BeginCapture(5, 3)
	require.Equal(t, 1, wb.bufNum)
	s2 := wb.BeginCapture(5, 3)
	require.Equal(t, 1, wb.bufNum, "a re-write of the same (track, sector) coalesces into the existing slot")
	require.Equal(t, s1, s2)
	require.True(t, wb.Contains(5, 3))
	require.False(t, wb.Contains(5, 4))

	s3 := wb.BeginCapture(5, 4)
	require.Equal(t, 2, wb.bufNum)
	require.NotEqual(t, s1, s3)
}

func TestWriteBufferFullAfterFiveSlots(t *testing.T) {
	wb := NewWriteBuffer(nil)
	for i := 0; i < NumWriteSlots; i++ {
		require.False(t, wb.Full())
		wb.BeginCapture(byte(i), byte(i))
	}
	require.True(t, wb.Full())
}

func TestWriteBufferFlushWritesReframedBlocksAndClears(t *testing.T) {
	disk := newMemDisk(4 * sdcard.BlockLen)
	sd := newTestSd(t, disk)
	wb := NewWriteBuffer(nil)

	slot := wb.BeginCapture(1, 2)
	var payload [gcr.PayloadLen]byte
	for i := range payload {
		payload[i] = 0xAB
	}
	wb.CaptureByte(slot, 0xD5)
	wb.CaptureByte(slot, 0xAA)
	wb.CaptureByte(slot, 0xAD)
	for _, b := range payload {
		wb.CaptureByte(slot, b)
	}

	resolve := func(track, sector byte) (int64, error) {
		return int64(track) * sdcard.BlockLen, nil
	}
	require.NoError(t, wb.Flush(context.Background(), sd, resolve))
	require.Equal(t, 0, wb.bufNum)
	require.True(t, wb.slots[0].empty())

	var blk [sdcard.BlockLen]byte
	require.NoError(t, sd.ReadBlock(context.Background(), sdcard.BlockLen, blk[:]))
	require.Equal(t, byte(0xD5), blk[0x22])
	require.Equal(t, byte(0xAA), blk[0x23])
	require.Equal(t, byte(0x96), blk[0x24])
}
