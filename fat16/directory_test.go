package fat16

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func nameBytes(s string) (name [8]byte, ext [3]byte) {
	copy(name[:], "        ")
	copy(ext[:], "   ")
	copy(name[:], s)
	return name, ext
}

func TestCreateAllocatesChainAndEntry(t *testing.T) {
	f, _ := mountedVolume(t, 128)

	name, _ := nameBytes("HELLO")
	ext := [3]byte{'N', 'I', 'C'}
	clusterBytes := f.Geometry().ClusterBytes()

	e, err := f.Create(name, ext, clusterBytes*2+1)
	require.NoError(t, err)
	require.NotZero(t, e.StartCluster)
	require.Equal(t, "HELLO.NIC", e.DisplayName())

	var chain [3]uint16
	filled, err := f.WalkChain(e.StartCluster, 3, 0, chain[:])
	require.NoError(t, err)
	require.Equal(t, 3, filled)
	require.Equal(t, e.StartCluster, chain[0])
}

func TestCreateOutOfDirectorySpace(t *testing.T) {
	f, _ := mountedVolume(t, 128)

	for i := 0; i < rootEntryCount; i++ {
		var rec [dirEntrySize]byte
		rec[dirNameOff] = 'A'
		require.NoError(t, f.writeRootEntry(i, rec))
	}

	name, ext := nameBytes("X")
	_, err := f.Create(name, ext, 100)
	require.ErrorIs(t, err, ErrOutOfDirectorySpace)
}

func TestCreateOutOfClusters(t *testing.T) {
	f, _ := mountedVolume(t, 128)
	geo := f.Geometry()

	totalClusters := uint16(BlockLen * int64(geo.SectorsPerFAT) / 2)
	for c := uint16(2); c < totalClusters; c++ {
		require.NoError(t, f.setFATEntry(c, clusterEOF))
	}

	name, ext := nameBytes("BIG")
	_, err := f.Create(name, ext, geo.ClusterBytes()*int64(totalClusters))
	require.ErrorIs(t, err, ErrOutOfClusters)
}

func TestFindNewestPicksLatestModDate(t *testing.T) {
	f, _ := mountedVolume(t, 128)

	older, ext := nameBytes("OLDER")
	newerName, _ := nameBytes("NEWER")

	_, err := f.Create(older, ext, 10)
	require.NoError(t, err)

	// Force distinguishable mod dates by writing the entries directly,
	// since Create always stamps the current time.
	var oldRec [dirEntrySize]byte
	oldRec, err = f.readRootEntry(0)
	require.NoError(t, err)
	oldRec[dirModTimeOff+2] = 0x01
	oldRec[dirModTimeOff+3] = 0x00
	require.NoError(t, f.writeRootEntry(0, oldRec))

	_, err = f.Create(newerName, ext, 10)
	require.NoError(t, err)
	newRec, err := f.readRootEntry(1)
	require.NoError(t, err)
	newRec[dirModTimeOff+2] = 0xFF
	newRec[dirModTimeOff+3] = 0x7F
	require.NoError(t, f.writeRootEntry(1, newRec))

	best, err := f.FindNewest(ext)
	require.NoError(t, err)
	require.Equal(t, "NEWER", best.DisplayName())
	require.Equal(t, 1, best.slot)
}

func TestFindNewestNoMatch(t *testing.T) {
	f, _ := mountedVolume(t, 128)
	_, err := f.FindNewest([3]byte{'X', 'Y', 'Z'})
	require.Error(t, err)
}

func TestRejectedSkipsDeletedAndLFNEntries(t *testing.T) {
	var deleted [dirEntrySize]byte
	deleted[dirNameOff] = 0xE5
	require.True(t, rejected(deleted))

	var lfn [dirEntrySize]byte
	lfn[dirNameOff] = 'A'
	lfn[dirAttrOff] = 0x0F
	require.True(t, rejected(lfn))

	var dir [dirEntrySize]byte
	dir[dirNameOff] = 'A'
	dir[dirAttrOff] = 0x10
	require.True(t, rejected(dir))

	var live [dirEntrySize]byte
	live[dirNameOff] = 'A'
	require.False(t, rejected(live))
}
