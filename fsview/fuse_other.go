//go:build !linux

package fsview

import (
	"errors"
	"log/slog"

	"github.com/retrofloppy/diskii/fat16"
)

// ErrUnsupported is returned by Serve on platforms bazil.org/fuse does not
// support; FUSE mounting is a Linux-only host debug tool (SPEC_FULL.md §4,
// fsview), never required by the emulator itself.
var ErrUnsupported = errors.New("fsview: FUSE mounting is only supported on linux")

func Serve(mountpoint string, vol *fat16.Fat16, log *slog.Logger) error {
	return ErrUnsupported
}
