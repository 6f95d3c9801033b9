// Package convert implements the one-shot DSK-to-NIC image conversion: the
// 256-byte-logical-sector Apple II disk image format re-encoded, sector by
// sector, into the GCR-nibble NIC format the emulator streams to the host.
package convert

import (
	"context"
	"fmt"

	"github.com/retrofloppy/diskii/fat16"
	"github.com/retrofloppy/diskii/nic"
)

const (
	numTracks       = 35
	sectorsPerTrack = 16

	// DSKSize is the size in bytes of a full logical-sector disk image.
	DSKSize = numTracks * sectorsPerTrack * 256
	// NICSize is the size in bytes of the converted physical-sector image,
	// one SD block (512 bytes) per physical sector.
	NICSize = numTracks * sectorsPerTrack * nic.BlockLen

	// DefaultVolume is the volume number stamped into every address field
	// when the caller doesn't override it (matches the host DOS images this
	// system has been tested against).
	DefaultVolume = 0xFE

	dskWindowSize = 18
	nicWindowSize = 35
)

// physicalOf maps a logical sector number to its physical (interleaved)
// position on the track.
var physicalOf = [sectorsPerTrack]byte{0, 13, 11, 9, 7, 5, 3, 1, 14, 12, 10, 8, 6, 4, 2, 15}

// chainCursor walks a file's FAT cluster chain through a fixed-size rolling
// window, reloading from the chain's start whenever the requested cluster
// index falls outside the current window. DSK and NIC files each get their
// own cursor and window size (18 and 35 entries), so the two FAT windows
// are independent.
type chainCursor struct {
	f          *fat16.Fat16
	start      uint16
	windowSize int

	windowID      int
	window        []uint16
	loadedCluster int
	loadedData    []byte
}

func newChainCursor(f *fat16.Fat16, start uint16, windowSize int) *chainCursor {
	return &chainCursor{
		f: f, start: start, windowSize: windowSize,
		windowID: -1, loadedCluster: -1,
		loadedData: make([]byte, f.Geometry().ClusterBytes()),
	}
}

func (c *chainCursor) clusterAt(index int) (uint16, error) {
	wantWindow := index / c.windowSize
	if wantWindow != c.windowID {
		c.window = make([]uint16, c.windowSize)
		if _, err := c.f.WalkChain(c.start, c.windowSize, wantWindow, c.window); err != nil {
			return 0, err
		}
		c.windowID = wantWindow
	}
	return c.window[index%c.windowSize], nil
}

// readBlock reads the 512 bytes at byte offset off, which must be 512-byte
// aligned and must not straddle a cluster boundary (true for any sane
// sectors-per-cluster, since a cluster is always a whole number of 512-byte
// blocks).
func (c *chainCursor) readBlock(off int64, dst []byte) error {
	clusterBytes := int64(len(c.loadedData))
	clusterIdx := int(off / clusterBytes)
	within := off % clusterBytes
	if clusterIdx != c.loadedCluster {
		cluster, err := c.clusterAt(clusterIdx)
		if err != nil {
			return err
		}
		if err := c.f.ReadCluster(cluster, c.loadedData); err != nil {
			return err
		}
		c.loadedCluster = clusterIdx
	}
	copy(dst, c.loadedData[within:within+int64(len(dst))])
	return nil
}

func (c *chainCursor) writeBlock(off int64, src []byte) error {
	clusterBytes := int64(len(c.loadedData))
	clusterIdx := int(off / clusterBytes)
	within := off % clusterBytes
	if clusterIdx != c.loadedCluster {
		cluster, err := c.clusterAt(clusterIdx)
		if err != nil {
			return err
		}
		if err := c.f.ReadCluster(cluster, c.loadedData); err != nil {
			return err
		}
		c.loadedCluster = clusterIdx
	}
	copy(c.loadedData[within:within+int64(len(src))], src)
	cluster, err := c.clusterAt(clusterIdx)
	if err != nil {
		return err
	}
	return c.f.WriteCluster(cluster, c.loadedData)
}

// DSKToNIC allocates a new NIC file sized to hold the full physical-sector
// image and converts dskEntry's content into it, one physical sector at a
// time. Any error from the underlying block device — including the card
// being ejected mid-conversion — propagates either unwrapped or wrapped
// with %w, so callers can test for it with errors.Is against the sentinel
// their transport defines.
func DSKToNIC(ctx context.Context, f *fat16.Fat16, dskEntry fat16.DirEntry) (fat16.DirEntry, error) {
	return DSKToNICVolume(ctx, f, dskEntry, DefaultVolume)
}

// DSKToNICVolume is DSKToNIC with an explicit volume number for the address
// field (cmd/diskii convert --vol), for images whose host DOS was formatted
// under a non-default volume number.
func DSKToNICVolume(ctx context.Context, f *fat16.Fat16, dskEntry fat16.DirEntry, volume byte) (fat16.DirEntry, error) {
	nicEntry, err := f.Create(dskEntry.Name, [3]byte{'N', 'I', 'C'}, NICSize)
	if err != nil {
		return fat16.DirEntry{}, fmt.Errorf("convert: allocating NIC file: %w", err)
	}

	dskCursor := newChainCursor(f, dskEntry.StartCluster, dskWindowSize)
	nicCursor := newChainCursor(f, nicEntry.StartCluster, nicWindowSize)

	var scratch [512]byte
	for track := 0; track < numTracks; track++ {
		for logical := 0; logical < sectorsPerTrack; logical++ {
			if err := ctx.Err(); err != nil {
				return fat16.DirEntry{}, err
			}

			if logical%2 == 0 {
				dskOff := int64(track*sectorsPerTrack+logical) * 256
				if err := dskCursor.readBlock(dskOff, scratch[:]); err != nil {
					return fat16.DirEntry{}, err
				}
			}

			var sector [256]byte
			if logical%2 == 0 {
				copy(sector[:], scratch[:256])
			} else {
				copy(sector[:], scratch[256:])
			}

			phys := physicalOf[logical]
			addr := nic.Address{Volume: volume, Track: byte(track), Sector: phys}
			blk := nic.Assemble(addr, &sector)

			nicOff := int64(track*sectorsPerTrack+int(phys)) * nic.BlockLen
			if err := nicCursor.writeBlock(nicOff, blk[:]); err != nil {
				return fat16.DirEntry{}, err
			}
		}
	}

	return nicEntry, nil
}
