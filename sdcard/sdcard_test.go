package sdcard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// memDisk is a fixed-size in-memory backing store implementing
// io.ReaderAt/io.WriterAt, standing in for an *os.File in tests.
type memDisk struct {
	data []byte
}

func newMemDisk(size int) *memDisk { return &memDisk{data: make([]byte, size)} }

func (m *memDisk) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *memDisk) WriteAt(p []byte, off int64) (int, error) {
	n := copy(m.data[off:], p)
	return n, nil
}

func TestReadWriteBlockRoundTrip(t *testing.T) {
	disk := newMemDisk(4 * BlockLen)
	tp := NewFileTransport(disk, disk)
	sd := New(tp, nil)
	ctx := context.Background()

	require.NoError(t, sd.Init(ctx))

	var payload [BlockLen]byte
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, sd.WriteBlock(ctx, BlockLen, payload[:]))

	var got [BlockLen]byte
	require.NoError(t, sd.ReadBlock(ctx, BlockLen, got[:]))
	require.Equal(t, payload, got)
}

func TestPatchOverlaysWithinBlock(t *testing.T) {
	disk := newMemDisk(2 * BlockLen)
	tp := NewFileTransport(disk, disk)
	sd := New(tp, nil)
	ctx := context.Background()
	require.NoError(t, sd.Init(ctx))

	require.NoError(t, sd.Patch(ctx, 0, 10, []byte{0xAA, 0xBB, 0xCC}))

	var got [BlockLen]byte
	require.NoError(t, sd.ReadBlock(ctx, 0, got[:]))
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, got[10:13])
	require.Zero(t, got[0])
}

func TestEjectAbortsOperation(t *testing.T) {
	disk := newMemDisk(BlockLen)
	tp := NewFileTransport(disk, disk)
	sd := New(tp, nil)
	ctx := context.Background()
	require.NoError(t, sd.Init(ctx))

	tp.Eject()
	var buf [BlockLen]byte
	err := sd.ReadBlock(ctx, 0, buf[:])
	require.ErrorIs(t, err, ErrCardEjected)
}

func TestBlockDeviceInterface(t *testing.T) {
	disk := newMemDisk(4 * BlockLen)
	tp := NewFileTransport(disk, disk)
	sd := New(tp, nil)
	require.NoError(t, sd.Init(context.Background()))

	data := make([]byte, 2*BlockLen)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := sd.WriteBlocks(data, 1)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	got := make([]byte, 2*BlockLen)
	n, err = sd.ReadBlocks(got, 1)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)
}

func TestReadBlockWrongSize(t *testing.T) {
	disk := newMemDisk(BlockLen)
	tp := NewFileTransport(disk, disk)
	sd := New(tp, nil)
	err := sd.ReadBlock(context.Background(), 0, make([]byte, 10))
	require.Error(t, err)
}
