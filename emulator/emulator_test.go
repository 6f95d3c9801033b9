package emulator

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/retrofloppy/diskii/board"
	"github.com/retrofloppy/diskii/fat16"
	"github.com/retrofloppy/diskii/gcr"
	"github.com/retrofloppy/diskii/hostio"
	"github.com/retrofloppy/diskii/nic"
	"github.com/retrofloppy/diskii/sdcard"
	"github.com/stretchr/testify/require"
)

// BPB field offsets, matching fat16.Mount's expectations (SPEC_FULL §4.2).
const (
	bpbFilSysType = 54
	bpbSecPerClus = 13
	bpbRsvdSecCnt = 14
	bpbFATSz16    = 22
)

type memDisk struct {
	data []byte
}

func newMemDisk(numBlocks int64) *memDisk { return &memDisk{data: make([]byte, numBlocks*sdcard.BlockLen)} }

func (m *memDisk) ReadAt(p []byte, off int64) (int, error)  { return copy(p, m.data[off:]), nil }
func (m *memDisk) WriteAt(p []byte, off int64) (int, error) { return copy(m.data[off:], p), nil }

const testNumBlocks = 700

// buildCard lays down a one-sector-per-cluster FAT16 volume, allocates a
// NIC file sized to hold the full 35x16 physical-sector grid, and fills
// every physical sector with a NIC-encoded block whose logical payload is
// fill(track, sector) repeated across all 256 bytes.
func buildCard(t *testing.T, fill func(track, sector byte) byte) (*memDisk, *sdcard.FileTransport) {
	t.Helper()
	disk := newMemDisk(testNumBlocks)

	var boot [sdcard.BlockLen]byte
	boot[bpbSecPerClus] = 1
	binary.LittleEndian.PutUint16(boot[bpbRsvdSecCnt:], 1)
	binary.LittleEndian.PutUint16(boot[bpbFATSz16:], 3)
	copy(boot[bpbFilSysType:], "FAT16   ")
	_, err := disk.WriteAt(boot[:], 0)
	require.NoError(t, err)

	tp := sdcard.NewFileTransport(disk, disk)
	sd := sdcard.New(tp, nil)
	require.NoError(t, sd.Init(context.Background()))

	fs := fat16.New(sd, nil)
	require.NoError(t, fs.Mount())

	nicEntry, err := fs.Create([8]byte{'D', 'I', 'S', 'K', '1', ' ', ' ', ' '}, [3]byte{'N', 'I', 'C'}, numTracks*sectorsPerTrack*sdcard.BlockLen)
	require.NoError(t, err)
	require.Equal(t, uint16(2), nicEntry.StartCluster, "allocateChain scans from cluster 2 on a fresh FAT")

	for track := 0; track < numTracks; track++ {
		for sector := 0; sector < sectorsPerTrack; sector++ {
			var logical [256]byte
			for i := range logical {
				logical[i] = fill(byte(track), byte(sector))
			}
			addr := nic.Address{Volume: 0xFE, Track: byte(track), Sector: byte(sector)}
			blk := nic.Assemble(addr, &logical)
			cluster := uint16(2 + track*sectorsPerTrack + sector)
			require.NoError(t, fs.WriteCluster(cluster, blk[:]))
		}
	}

	return disk, tp
}

func TestMountFindsNICAndBuildsSectorTable(t *testing.T) {
	_, tp := buildCard(t, func(track, sector byte) byte { return track ^ sector })
	sim := board.NewSim(tp)

	e := New(nil)
	require.NoError(t, e.Mount(context.Background(), sim))
	require.True(t, e.Mounted())
	require.Len(t, e.sectorTable, numTracks*sectorsPerTrack)

	for _, tc := range []struct{ track, sector byte }{{0, 0}, {0, 1}, {17, 9}, {34, 15}} {
		off, err := e.resolve(tc.track, tc.sector)
		require.NoError(t, err)
		want := e.fs.ClusterOffset(uint16(2 + int(tc.track)*sectorsPerTrack + int(tc.sector)))
		require.Equal(t, want, off)
	}
}

func TestServiceTickStagesAndStreams(t *testing.T) {
	_, tp := buildCard(t, func(track, sector byte) byte { return 0x5A })
	sim := board.NewSim(tp)

	e := New(nil)
	require.NoError(t, e.Mount(context.Background(), sim))
	sim.SetDriveEnabled(true)

	require.NoError(t, e.ServiceTick(context.Background(), sim))
	require.Equal(t, hostio.StateStreaming, e.hio.State())
	require.Equal(t, byte(1), e.hio.Sector(), "first prepare advances the rotational counter to sector 1")

	for e.hio.State() == hostio.StateStreaming {
		require.NoError(t, e.ServiceTick(context.Background(), sim))
	}
	require.Greater(t, len(sim.Pulses()), 0)
}

func TestServiceTickCapturesWriteBurst(t *testing.T) {
	_, tp := buildCard(t, func(track, sector byte) byte { return 0x00 })
	sim := board.NewSim(tp)

	e := New(nil)
	require.NoError(t, e.Mount(context.Background(), sim))
	sim.SetDriveEnabled(true)
	sim.SetPhases(0b0001) // track 0

	var sourceSector [256]byte
	for i := range sourceSector {
		sourceSector[i] = 0x33
	}

	// Drive the read path once so hio.Track() matches track 0 and the
	// rotational counter is initialized before we start a write capture.
	require.NoError(t, e.ServiceTick(context.Background(), sim))

	// Feed one data-field burst for (track=0, sector=1) through the
	// write-request line, matching the host's capture framing (§4.8/§4.9).
	e.hio.SetTrack(0)
	e.hio.BeginWrite()
	payload := gcr.Encode(&sourceSector)
	burst := append([]byte{0xD5, 0xAA, 0xAD}, payload[:]...)
	for _, b := range burst {
		sim.WriteByte(b)
	}

	require.NoError(t, e.ServiceTick(context.Background(), sim))
	require.Equal(t, hostio.StateCapturing, e.hio.State())
	require.True(t, e.wb.Contains(0, e.hio.Sector()))

	sim.EndWrite()
	require.NoError(t, e.ServiceTick(context.Background(), sim))
	require.Equal(t, hostio.StateIdle, e.hio.State())
}
