// Package fat16 mounts a single FAT16 volume from a raw block device —
// either directly or behind an MBR partition table — and resolves directory
// entries and cluster chains on demand, keeping no more in-memory state
// than one fixed-size FAT window per active file.
package fat16

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/retrofloppy/diskii/fat16/internal/mbr"
)

// BlockLen is the sector/block size this package assumes throughout;
// FAT16 volumes built by this system are always 512-byte-sectored.
const BlockLen = 512

// BPB field offsets within the boot sector, matching the standard
// Microsoft FAT BIOS Parameter Block layout.
const (
	bpbFilSysType = 54 // 8-byte ASCII filesystem type, e.g. "FAT16   "
	bpbSecPerClus = 13
	bpbRsvdSecCnt = 14
	bpbFATSz16    = 22
)

// Directory entry field offsets within a 32-byte slot.
const (
	dirNameOff      = 0
	dirExtOff       = 8
	dirAttrOff      = 11
	dirModTimeOff   = 22 // time (2) then date (2), per spec offsets 22-25
	dirFstClusLOOff = 26
	dirFileSizeOff  = 28
	dirEntrySize    = 32
	rootEntryCount  = 512
	rootDirBlocks   = rootEntryCount * dirEntrySize / BlockLen // 32 blocks
)

// FAT16-reserved cluster markers.
const (
	clusterFree     = 0x0000
	clusterEOFStart = 0xFFF6 // entries > this value terminate a chain
	clusterEOF      = 0xFFFF
)

// BlockDevice is the abstract backing store a Fat16 volume mounts on top
// of: SdBlock in production, an in-memory or file-backed fake in tests.
type BlockDevice interface {
	ReadBlocks(dst []byte, startBlock int64) (int, error)
	WriteBlocks(data []byte, startBlock int64) (int, error)
	EraseBlocks(startBlock, numBlocks int64) error
}

// ErrNoFAT16Signature is returned by Mount when neither the raw boot
// sector nor its MBR-indicated partition carries a FAT16 signature.
var ErrNoFAT16Signature = errors.New("fat16: no FAT16 boot sector found")

// ErrOutOfDirectorySpace is returned by Create when every root directory
// slot is occupied by a live (non-deleted, non-LFN) entry.
var ErrOutOfDirectorySpace = errors.New("fat16: no free root directory entry")

// ErrOutOfClusters is returned by Create when the FAT runs out of free
// clusters before enough have been allocated for the requested size.
var ErrOutOfClusters = errors.New("fat16: out of free clusters")

// Geometry holds the volume layout derived once at Mount and never
// mutated afterwards.
type Geometry struct {
	BPBOffset           int64 // byte offset of the boot sector: 0 or partition start
	SectorsPerCluster   uint8
	sectorsPerClusterL2 uint8
	ReservedSectors     uint16
	SectorsPerFAT       uint16

	FATOffset  int64 // byte offset of the first FAT copy
	RootOffset int64 // byte offset of the root directory
	UserOffset int64 // byte offset of the first data cluster (cluster 2)
}

// ClusterBytes returns the size in bytes of one cluster.
func (g Geometry) ClusterBytes() int64 {
	return int64(g.SectorsPerCluster) * BlockLen
}

// Fat16 is a mounted FAT16 volume.
type Fat16 struct {
	dev BlockDevice
	log *slog.Logger
	geo Geometry
}

// New wraps a block device; call Mount before using it. A nil logger
// discards all log output.
func New(dev BlockDevice, log *slog.Logger) *Fat16 {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fat16{dev: dev, log: log}
}

// Geometry returns the volume layout computed by Mount.
func (f *Fat16) Geometry() Geometry { return f.geo }

func (f *Fat16) readBlock(off int64, dst []byte) error {
	_, err := f.dev.ReadBlocks(dst, off/BlockLen)
	return err
}

func (f *Fat16) writeBlock(off int64, src []byte) error {
	_, err := f.dev.WriteBlocks(src, off/BlockLen)
	return err
}

// Mount probes for a FAT16 boot sector at LBA 0, falling back to the
// first MBR partition table entry if the raw signature isn't present,
// then derives FAT/root/data region offsets from the BPB.
func (f *Fat16) Mount() error {
	var sec0 [BlockLen]byte
	if err := f.readBlock(0, sec0[:]); err != nil {
		return fmt.Errorf("fat16: reading LBA 0: %w", err)
	}

	bpbOff := int64(0)
	var bpb [BlockLen]byte
	copy(bpb[:], sec0[:])
	if !isFAT16Signature(bpb[:]) {
		pt, err := mbr.ToBootSector(sec0[:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoFAT16Signature, err)
		}
		pte := pt.PartitionTable(0)
		bpbOff = int64(pte.StartLBA()) * BlockLen
		if err := f.readBlock(bpbOff, bpb[:]); err != nil {
			return fmt.Errorf("fat16: reading partition boot sector: %w", err)
		}
		if !isFAT16Signature(bpb[:]) {
			return ErrNoFAT16Signature
		}
	}

	spc := bpb[bpbSecPerClus]
	rsvd := binary.LittleEndian.Uint16(bpb[bpbRsvdSecCnt:])
	fatsz := binary.LittleEndian.Uint16(bpb[bpbFATSz16:])

	geo := Geometry{
		BPBOffset:         bpbOff,
		SectorsPerCluster: spc,
		ReservedSectors:   rsvd,
		SectorsPerFAT:     fatsz,
	}
	geo.sectorsPerClusterL2 = log2PowerOfTwo(spc)
	geo.FATOffset = bpbOff + BlockLen*int64(rsvd)
	geo.RootOffset = geo.FATOffset + 2*BlockLen*int64(fatsz)
	geo.UserOffset = geo.RootOffset + BlockLen*rootDirBlocks

	f.geo = geo
	f.log.Debug("fat16:mount",
		slog.Int64("bpb_offset", geo.BPBOffset),
		slog.Int("sectors_per_cluster", int(geo.SectorsPerCluster)),
		slog.Int("reserved_sectors", int(geo.ReservedSectors)),
		slog.Int("sectors_per_fat", int(geo.SectorsPerFAT)),
		slog.Int64("fat_offset", geo.FATOffset),
		slog.Int64("root_offset", geo.RootOffset),
		slog.Int64("user_offset", geo.UserOffset),
	)
	return nil
}

func isFAT16Signature(bpb []byte) bool {
	return bytes.Equal(bpb[bpbFilSysType:bpbFilSysType+5], []byte("FAT16"))
}

func log2PowerOfTwo(v uint8) uint8 {
	var n uint8
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// clusterOffset returns the byte offset of the data region for cluster.
// Clusters 0 and 1 are reserved; cluster 2 is the first data cluster.
func (f *Fat16) clusterOffset(cluster uint16) int64 {
	return f.geo.UserOffset + int64(cluster-2)*f.geo.ClusterBytes()
}

// ClusterOffset exposes clusterOffset for callers that need to resolve a
// cluster number to an absolute SD card byte offset directly, such as
// precomputing a flat sector lookup table at mount time (see emulator's
// buildSectorTable).
func (f *Fat16) ClusterOffset(cluster uint16) int64 {
	return f.clusterOffset(cluster)
}

// fatEntry reads the 16-bit FAT table entry for cluster.
func (f *Fat16) fatEntry(cluster uint16) (uint16, error) {
	off := f.geo.FATOffset + 2*int64(cluster)
	var blk [BlockLen]byte
	if err := f.readBlock(off-off%BlockLen, blk[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(blk[off%BlockLen:]), nil
}

// setFATEntry writes the 16-bit FAT table entry for cluster, in the
// primary FAT only; callers that need both copies call DuplicateFAT.
func (f *Fat16) setFATEntry(cluster, value uint16) error {
	off := f.geo.FATOffset + 2*int64(cluster)
	blockOff := off - off%BlockLen
	var blk [BlockLen]byte
	if err := f.readBlock(blockOff, blk[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(blk[off%BlockLen:], value)
	return f.writeBlock(blockOff, blk[:])
}

// ReadCluster reads one full cluster's worth of data.
func (f *Fat16) ReadCluster(cluster uint16, dst []byte) error {
	if int64(len(dst)) != f.geo.ClusterBytes() {
		return fmt.Errorf("fat16: dst must be %d bytes, got %d", f.geo.ClusterBytes(), len(dst))
	}
	_, err := f.dev.ReadBlocks(dst, f.clusterOffset(cluster)/BlockLen)
	return err
}

// WriteCluster writes one full cluster's worth of data.
func (f *Fat16) WriteCluster(cluster uint16, src []byte) error {
	if int64(len(src)) != f.geo.ClusterBytes() {
		return fmt.Errorf("fat16: src must be %d bytes, got %d", f.geo.ClusterBytes(), len(src))
	}
	_, err := f.dev.WriteBlocks(src, f.clusterOffset(cluster)/BlockLen)
	return err
}

// WalkChain walks the FAT chain starting at startCluster, writing the
// cluster numbers that fall within the window
// [windowID*windowSize, (windowID+1)*windowSize) into out. Returns the
// number of clusters filled (may be less than windowSize if the chain
// ends first).
func (f *Fat16) WalkChain(startCluster uint16, windowSize, windowID int, out []uint16) (filled int, err error) {
	if len(out) < windowSize {
		return 0, fmt.Errorf("fat16: out must be at least %d entries", windowSize)
	}
	cluster := startCluster
	step := 0
	for {
		if step/windowSize == windowID {
			out[step%windowSize] = cluster
			filled++
			if step%windowSize == windowSize-1 {
				return filled, nil
			}
		}
		next, err := f.fatEntry(cluster)
		if err != nil {
			return filled, err
		}
		if next == clusterFree || next > clusterEOFStart {
			return filled, nil
		}
		cluster = next
		step++
	}
}

// DuplicateFAT copies the primary FAT table over the secondary copy
// immediately following it, keeping the mirrored FATs in sync after any
// write to the primary.
func (f *Fat16) DuplicateFAT() error {
	fatBytes := BlockLen * int64(f.geo.SectorsPerFAT)
	buf := make([]byte, BlockLen)
	for off := int64(0); off < fatBytes; off += BlockLen {
		if err := f.readBlock(f.geo.FATOffset+off, buf); err != nil {
			return fmt.Errorf("fat16: duplicate fat read: %w", err)
		}
		if err := f.writeBlock(f.geo.FATOffset+fatBytes+off, buf); err != nil {
			return fmt.Errorf("fat16: duplicate fat write: %w", err)
		}
	}
	return nil
}
