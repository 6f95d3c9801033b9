package fat16

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// DirEntry describes one root directory slot, as returned by FindNewest
// and Create.
type DirEntry struct {
	slot         int // index into the 512-entry root directory
	Name         [8]byte
	Ext          [3]byte
	Attr         byte
	StartCluster uint16
	SizeBytes    uint32
	ModTime      uint16
	ModDate      uint16
}

// DisplayName renders the 8.3 name through the IBM PC OEM codepage
// (CP437), the charset FAT on-disk names are actually encoded in, and
// trims the space padding FAT uses to fill short names.
func (e DirEntry) DisplayName() string {
	base, _ := charmap.CodePage437.NewDecoder().Bytes(trimPad(e.Name[:]))
	ext, _ := charmap.CodePage437.NewDecoder().Bytes(trimPad(e.Ext[:]))
	if len(ext) == 0 {
		return string(base)
	}
	return string(base) + "." + string(ext)
}

func trimPad(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return b[:i]
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// readRootEntry reads the 32-byte directory record at the given slot
// index (0..511).
func (f *Fat16) readRootEntry(slot int) ([dirEntrySize]byte, error) {
	var rec [dirEntrySize]byte
	off := f.geo.RootOffset + int64(slot)*dirEntrySize
	var blk [BlockLen]byte
	if err := f.readBlock(off-off%BlockLen, blk[:]); err != nil {
		return rec, err
	}
	copy(rec[:], blk[off%BlockLen:])
	return rec, nil
}

func (f *Fat16) writeRootEntry(slot int, rec [dirEntrySize]byte) error {
	off := f.geo.RootOffset + int64(slot)*dirEntrySize
	blockOff := off - off%BlockLen
	var blk [BlockLen]byte
	if err := f.readBlock(blockOff, blk[:]); err != nil {
		return err
	}
	copy(blk[off%BlockLen:], rec[:])
	return f.writeBlock(blockOff, blk[:])
}

func entryFromRecord(slot int, rec [dirEntrySize]byte) DirEntry {
	e := DirEntry{slot: slot, Attr: rec[dirAttrOff]}
	copy(e.Name[:], rec[dirNameOff:dirNameOff+8])
	copy(e.Ext[:], rec[dirExtOff:dirExtOff+3])
	e.StartCluster = binary.LittleEndian.Uint16(rec[dirFstClusLOOff:])
	e.SizeBytes = binary.LittleEndian.Uint32(rec[dirFileSizeOff:])
	e.ModTime = binary.LittleEndian.Uint16(rec[dirModTimeOff:])
	e.ModDate = binary.LittleEndian.Uint16(rec[dirModTimeOff+2:])
	return e
}

// rejected reports whether a raw directory record should be skipped when
// scanning: free/deleted/dot entries, entries with a non-alphanumeric
// first name byte, volume-label/hidden/system/directory bits set, or LFN
// continuation entries.
func rejected(rec [dirEntrySize]byte) bool {
	first := rec[dirNameOff]
	switch first {
	case 0x00, 0x05, 0x2E, 0xE5:
		return true
	}
	if !isAlnum(first) {
		return true
	}
	attr := rec[dirAttrOff]
	if attr&0x1E != 0 {
		return true
	}
	if attr == 0x0F {
		return true
	}
	return false
}

// FindNewest scans the root directory for live entries matching the
// given 3-byte extension and returns the one with the greatest
// (date, time), i.e. the most recently written file with that extension.
func (f *Fat16) FindNewest(ext [3]byte) (DirEntry, error) {
	var best DirEntry
	found := false
	for slot := 0; slot < rootEntryCount; slot++ {
		rec, err := f.readRootEntry(slot)
		if err != nil {
			return DirEntry{}, err
		}
		if rejected(rec) {
			continue
		}
		if [3]byte(rec[dirExtOff:dirExtOff+3]) != ext {
			continue
		}
		e := entryFromRecord(slot, rec)
		if !found || newer(e, best) {
			best = e
			found = true
		}
	}
	if !found {
		return DirEntry{}, fmt.Errorf("fat16: no entry with extension %q: %w", ext, errNotFound)
	}
	return best, nil
}

// ListRoot scans the root directory and returns every live entry, in
// on-disk slot order. It shares FindNewest's rejection rules for
// deleted/volume-label/system/LFN-continuation records.
func (f *Fat16) ListRoot() ([]DirEntry, error) {
	var entries []DirEntry
	for slot := 0; slot < rootEntryCount; slot++ {
		rec, err := f.readRootEntry(slot)
		if err != nil {
			return nil, err
		}
		if rejected(rec) {
			continue
		}
		entries = append(entries, entryFromRecord(slot, rec))
	}
	return entries, nil
}

var errNotFound = errors.New("not found")

func newer(a, b DirEntry) bool {
	if a.ModDate != b.ModDate {
		return a.ModDate > b.ModDate
	}
	return a.ModTime > b.ModTime
}

// Create allocates a new 8.3 root directory entry with a cluster chain
// sized to hold sizeBytes. The FAT chain is fully planned before the
// directory entry is touched, and the entry is patched with the first
// allocated cluster only after the whole chain is written, so a failure
// partway through never leaves a directory entry pointing at a partial
// or unallocated chain.
func (f *Fat16) Create(name [8]byte, ext [3]byte, sizeBytes int64) (DirEntry, error) {
	slot, err := f.findFreeSlot()
	if err != nil {
		return DirEntry{}, err
	}

	clusterBytes := f.geo.ClusterBytes()
	numClusters := int((sizeBytes + clusterBytes - 1) / clusterBytes)
	if numClusters == 0 {
		numClusters = 1
	}

	chain, err := f.allocateChain(numClusters)
	if err != nil {
		return DirEntry{}, err
	}
	for i := 0; i < len(chain)-1; i++ {
		if err := f.setFATEntry(chain[i], chain[i+1]); err != nil {
			return DirEntry{}, fmt.Errorf("fat16: linking cluster chain: %w", err)
		}
	}
	if err := f.setFATEntry(chain[len(chain)-1], clusterEOF); err != nil {
		return DirEntry{}, fmt.Errorf("fat16: terminating cluster chain: %w", err)
	}

	now := time.Now()
	dt := newDOSTime(now)
	var rec [dirEntrySize]byte
	copy(rec[dirNameOff:], name[:])
	copy(rec[dirExtOff:], ext[:])
	binary.LittleEndian.PutUint16(rec[dirModTimeOff:], dt.time)
	binary.LittleEndian.PutUint16(rec[dirModTimeOff+2:], dt.date)
	binary.LittleEndian.PutUint32(rec[dirFileSizeOff:], uint32(sizeBytes))
	binary.LittleEndian.PutUint16(rec[dirFstClusLOOff:], chain[0])
	if err := f.writeRootEntry(slot, rec); err != nil {
		return DirEntry{}, fmt.Errorf("fat16: writing directory entry: %w", err)
	}

	if err := f.DuplicateFAT(); err != nil {
		return DirEntry{}, err
	}

	e := entryFromRecord(slot, rec)
	return e, nil
}

func (f *Fat16) findFreeSlot() (int, error) {
	for slot := 0; slot < rootEntryCount; slot++ {
		rec, err := f.readRootEntry(slot)
		if err != nil {
			return 0, err
		}
		first := rec[dirNameOff]
		if (first == 0x00 || first == 0xE5) && rec[dirAttrOff] != 0x0F {
			return slot, nil
		}
	}
	return 0, ErrOutOfDirectorySpace
}

// allocateChain finds n free clusters by scanning the FAT linearly from
// cluster 2, without linking them yet.
func (f *Fat16) allocateChain(n int) ([]uint16, error) {
	chain := make([]uint16, 0, n)
	totalClusters := uint16(BlockLen * int64(f.geo.SectorsPerFAT) / 2)
	for c := uint16(2); c < totalClusters && len(chain) < n; c++ {
		v, err := f.fatEntry(c)
		if err != nil {
			return nil, err
		}
		if v == clusterFree {
			chain = append(chain, c)
		}
	}
	if len(chain) < n {
		return nil, ErrOutOfClusters
	}
	return chain, nil
}

type dosTime struct {
	time, date uint16
}

func newDOSTime(t time.Time) dosTime {
	hour, min, sec := t.Clock()
	return dosTime{
		time: uint16(hour)<<11 | uint16(min)<<5 | uint16(sec/2),
		date: uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day()),
	}
}
