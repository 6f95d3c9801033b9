package fsview

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/retrofloppy/diskii/fat16"
	"github.com/retrofloppy/diskii/sdcard"
	"github.com/stretchr/testify/require"
)

const (
	bpbFilSysType = 54
	bpbSecPerClus = 13
	bpbRsvdSecCnt = 14
	bpbFATSz16    = 22
)

type memDisk struct{ data []byte }

func (m *memDisk) ReadAt(p []byte, off int64) (int, error)  { return copy(p, m.data[off:]), nil }
func (m *memDisk) WriteAt(p []byte, off int64) (int, error) { return copy(m.data[off:], p), nil }

func mountTestVolume(t *testing.T) *fat16.Fat16 {
	t.Helper()
	disk := &memDisk{data: make([]byte, 300*sdcard.BlockLen)}

	var boot [sdcard.BlockLen]byte
	boot[bpbSecPerClus] = 1
	binary.LittleEndian.PutUint16(boot[bpbRsvdSecCnt:], 1)
	binary.LittleEndian.PutUint16(boot[bpbFATSz16:], 2)
	copy(boot[bpbFilSysType:], "FAT16   ")
	_, err := disk.WriteAt(boot[:], 0)
	require.NoError(t, err)

	tp := sdcard.NewFileTransport(disk, disk)
	sd := sdcard.New(tp, nil)
	require.NoError(t, sd.Init(context.Background()))

	vol := fat16.New(sd, nil)
	require.NoError(t, vol.Mount())
	return vol
}

func TestChainReaderReadsMultiClusterFile(t *testing.T) {
	vol := mountTestVolume(t)

	content := make([]byte, 3*sdcard.BlockLen+17)
	for i := range content {
		content[i] = byte(i)
	}
	entry, err := vol.Create([8]byte{'B', 'I', 'G', ' ', ' ', ' ', ' ', ' '}, [3]byte{'N', 'I', 'C'}, int64(len(content)))
	require.NoError(t, err)

	clusterBytes := int(vol.Geometry().ClusterBytes())
	for i := 0; i*clusterBytes < len(content); i++ {
		var buf [sdcard.BlockLen]byte
		end := (i + 1) * clusterBytes
		if end > len(content) {
			end = len(content)
		}
		copy(buf[:], content[i*clusterBytes:end])
		require.NoError(t, vol.WriteCluster(entry.StartCluster+uint16(i), buf[:clusterBytes]))
	}

	r, err := newChainReader(vol, entry)
	require.NoError(t, err)

	got := make([]byte, len(content))
	n, err := r.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.Equal(t, content, got)

	tail := make([]byte, 10)
	n, err = r.ReadAt(tail, int64(len(content)-5))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, content[len(content)-5:], tail[:n])
}

func TestListRootReflectsLiveEntries(t *testing.T) {
	vol := mountTestVolume(t)
	_, err := vol.Create([8]byte{'A', ' ', ' ', ' ', ' ', ' ', ' ', ' '}, [3]byte{'N', 'I', 'C'}, 512)
	require.NoError(t, err)
	_, err = vol.Create([8]byte{'B', ' ', ' ', ' ', ' ', ' ', ' ', ' '}, [3]byte{'D', 'S', 'K'}, 512)
	require.NoError(t, err)

	entries, err := vol.ListRoot()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
