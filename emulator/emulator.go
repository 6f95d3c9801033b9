// Package emulator wires the filesystem, codec, stepper, and host-IO
// components into the single aggregate that owns mounted volume state and
// drives the host-facing service loop, generalizing the teacher's FS
// aggregate (soypat-fat's fat.go) to this system's real-time domain.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/retrofloppy/diskii/board"
	"github.com/retrofloppy/diskii/convert"
	"github.com/retrofloppy/diskii/fat16"
	"github.com/retrofloppy/diskii/hostio"
	"github.com/retrofloppy/diskii/sdcard"
	"github.com/retrofloppy/diskii/stepper"
)

const (
	numTracks       = 35
	sectorsPerTrack = 16
	nicWindowSize   = 35 // matches convert package's NIC FAT window
)

var dskExt = [3]byte{'D', 'S', 'K'}
var nicExt = [3]byte{'N', 'I', 'C'}

// ErrNotFound is returned by Mount when the card carries neither a DSK nor
// a NIC file at the root level.
var ErrNotFound = errors.New("emulator: no DSK or NIC file found")

// Emulator is the process-wide aggregate that owns the mounted volume, the
// NIC file's sector lookup table, and the host-facing state machine. The
// spec's original single firmware-global singleton becomes one
// constructor-injected value here, since Go lets every interrupt-equivalent
// caller take an explicit reference instead of relying on a literal global.
type Emulator struct {
	log *slog.Logger

	critSec sync.Mutex // stands in for "interrupts masked"; see board.Tamago for the bare-metal counterpart

	sd   *sdcard.SdBlock
	fs   *fat16.Fat16
	head stepper.HeadTracker

	wb  *hostio.WriteBuffer
	hio *hostio.HostIO

	nicEntry    fat16.DirEntry
	sectorTable []int64 // physical sector index (track*16+sector) -> SD byte offset
	mounted     bool
}

// New returns an unmounted Emulator. Call Mount before ServiceTick.
func New(log *slog.Logger) *Emulator {
	if log == nil {
		log = slog.Default()
	}
	return &Emulator{log: log}
}

// Mounted reports whether a volume is currently mounted.
func (e *Emulator) Mounted() bool {
	e.critSec.Lock()
	defer e.critSec.Unlock()
	return e.mounted
}

// Mount brings up the SD card, mounts its FAT16 volume, locates (or
// converts) the NIC image, and arms the host-facing state machine. On
// ErrNotFound or ErrOutOfClusters/ErrOutOfDirectorySpace the caller is
// expected to idle with the LED on and retry on reinsert.
func (e *Emulator) Mount(ctx context.Context, brd board.Board) error {
	e.critSec.Lock()
	defer e.critSec.Unlock()

	sd := sdcard.New(brd.Transport(), e.log)
	if err := sd.Init(ctx); err != nil {
		return fmt.Errorf("emulator: sd init: %w", err)
	}

	fs := fat16.New(sd, e.log)
	if err := fs.Mount(); err != nil {
		return fmt.Errorf("emulator: fat16 mount: %w", err)
	}

	nicEntry, err := fs.FindNewest(nicExt)
	if err != nil {
		dskEntry, dskErr := fs.FindNewest(dskExt)
		if dskErr != nil {
			return ErrNotFound
		}
		nicEntry, err = convert.DSKToNIC(ctx, fs, dskEntry)
		if err != nil {
			return fmt.Errorf("emulator: converting %s to NIC: %w", dskEntry.DisplayName(), err)
		}
		e.log.Info("emulator:mount converted DSK to NIC", slog.String("name", dskEntry.DisplayName()))
	}

	table, err := buildSectorTable(fs, nicEntry.StartCluster)
	if err != nil {
		return fmt.Errorf("emulator: building sector table: %w", err)
	}

	e.sd = sd
	e.fs = fs
	e.nicEntry = nicEntry
	e.sectorTable = table
	e.head = stepper.HeadTracker{}
	e.wb = hostio.NewWriteBuffer(e.log)
	e.hio = hostio.New(sd, e.wb, e.resolve, e.log)
	e.mounted = true

	brd.SetWriteProtect(nicEntry.Attr&0x01 != 0)
	e.log.Info("emulator:mount ready", slog.String("nic", nicEntry.DisplayName()))
	return nil
}

// resolve maps a (track, physical sector) pair to an absolute SD byte
// offset using the sector table built at mount time, so the real-time
// host-IO path never walks a FAT chain on a tick.
func (e *Emulator) resolve(track, sector byte) (int64, error) {
	idx := int(track)*sectorsPerTrack + int(sector)
	if idx < 0 || idx >= len(e.sectorTable) {
		return 0, fmt.Errorf("emulator: sector index %d out of range", idx)
	}
	return e.sectorTable[idx], nil
}

// buildSectorTable walks the NIC file's full FAT chain once, in
// nicWindowSize-cluster windows (mirroring convert's chainCursor), and
// expands it into a flat per-physical-sector byte-offset table.
func buildSectorTable(fs *fat16.Fat16, startCluster uint16) ([]int64, error) {
	geo := fs.Geometry()
	spc := int(geo.SectorsPerCluster)
	totalSectors := numTracks * sectorsPerTrack
	numClusters := (totalSectors + spc - 1) / spc

	clusters := make([]uint16, 0, numClusters)
	for windowID := 0; len(clusters) < numClusters; windowID++ {
		window := make([]uint16, nicWindowSize)
		filled, err := fs.WalkChain(startCluster, nicWindowSize, windowID, window)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, window[:filled]...)
		if filled < nicWindowSize {
			break
		}
	}
	if len(clusters) < numClusters {
		return nil, fmt.Errorf("emulator: NIC chain has %d clusters, need %d", len(clusters), numClusters)
	}

	table := make([]int64, totalSectors)
	for i := 0; i < totalSectors; i++ {
		cluster := clusters[i/spc]
		within := int64(i%spc) * sdcard.BlockLen
		table[i] = fs.ClusterOffset(cluster) + within
	}
	return table, nil
}
