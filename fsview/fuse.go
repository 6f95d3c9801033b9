//go:build linux

package fsview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/retrofloppy/diskii/fat16"
)

// CardFS is the FUSE root for a mounted card's root directory, generalizing
// ostafen-digler's RecoverFS from a flat recovered-file table to a live
// fat16.Fat16 volume: Lookup and ReadDirAll re-scan the root directory on
// every call instead of caching a snapshot, since the card may be
// reinserted or re-converted between browsing sessions.
type CardFS struct {
	vol *fat16.Fat16
	log *slog.Logger
}

// New wraps a mounted FAT16 volume for read-only FUSE access.
func New(vol *fat16.Fat16, log *slog.Logger) *CardFS {
	if log == nil {
		log = slog.Default()
	}
	return &CardFS{vol: vol, log: log}
}

func (c *CardFS) Root() (fs.Node, error) {
	return &dir{fs: c}, nil
}

// dir implements fs.Node and fs.HandleReadDirAller over the volume's root
// directory; this package has no subdirectories, matching FAT16's flat
// root-only layout on these cards (§4.2).
type dir struct {
	fs *CardFS
}

func (*dir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0555
	return nil
}

func (d *dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	entries, err := d.fs.vol.ListRoot()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.DisplayName() == name {
			return &file{fs: d.fs, entry: e}, nil
		}
	}
	return nil, fuse.ENOENT
}

func (d *dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.fs.vol.ListRoot()
	if err != nil {
		return nil, err
	}
	dirents := make([]fuse.Dirent, len(entries))
	for i, e := range entries {
		dirents[i] = fuse.Dirent{Inode: uint64(i + 1), Name: e.DisplayName(), Type: fuse.DT_File}
	}
	sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name < dirents[j].Name })
	return dirents, nil
}

// file implements fs.Node and fs.HandleReader over one root directory
// entry's cluster chain.
type file struct {
	fs    *CardFS
	entry fat16.DirEntry
}

func (f *file) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = 0444
	a.Size = uint64(f.entry.SizeBytes)
	a.Mtime = dosModTime(f.entry)
	return nil
}

func (f *file) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	r, err := newChainReader(f.fs.vol, f.entry)
	if err != nil {
		return err
	}
	buf := make([]byte, req.Size)
	n, err := r.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return err
	}
	resp.Data = buf[:n]
	return nil
}

// Serve mounts vol's root directory at mountpoint and blocks until a
// SIGINT/SIGTERM is received, then unmounts, mirroring
// ostafen-digler's internal/fuse.Mount/waitForUmount pattern.
func Serve(mountpoint string, vol *fat16.Fat16, log *slog.Logger) error {
	created, err := prepareMountpoint(mountpoint)
	if err != nil {
		return err
	}
	if created {
		defer os.Remove(mountpoint)
	}

	c, err := fuse.Mount(mountpoint)
	if err != nil {
		return fmt.Errorf("fsview: mount: %w", err)
	}
	defer c.Close()

	cardFS := New(vol, log)
	errc := make(chan error, 1)
	go func() {
		srv := fs.New(c, nil)
		errc <- srv.Serve(cardFS)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case <-sigc:
		return fuse.Unmount(mountpoint)
	}
}

func prepareMountpoint(mountpoint string) (bool, error) {
	finfo, err := os.Stat(mountpoint)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(mountpoint, 0755); err != nil {
			return false, fmt.Errorf("fsview: creating mountpoint %s: %w", mountpoint, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("fsview: statting mountpoint %s: %w", mountpoint, err)
	}
	if !finfo.IsDir() {
		return false, fmt.Errorf("fsview: mountpoint %s is not a directory", mountpoint)
	}
	return false, nil
}

// dosModTime expands a FAT date/time pair into a time.Time good enough for
// a read-only Attr; FAT's 2-second time resolution is preserved, its
// timezone is treated as local.
func dosModTime(e fat16.DirEntry) time.Time {
	year := int(e.ModDate>>9) + 1980
	month := int(e.ModDate >> 5 & 0x0F)
	day := int(e.ModDate & 0x1F)
	hour := int(e.ModTime >> 11)
	min := int(e.ModTime >> 5 & 0x3F)
	sec := int(e.ModTime&0x1F) * 2
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.Local)
}
